package core

import (
	"context"
	"io"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// HistoryKey is the single key the transcript is stored under for the process lifetime.
const HistoryKey = "messages"

// DefaultModelID is used when settings do not name a model.
const DefaultModelID = "gpt-4o-mini"

// Turn is one message in the conversation. Turns are never modified after they
// are appended to a Transcript.
type Turn struct {
	Role    Role   `json:"role"`    // Role of the speaker (user or assistant).
	Content string `json:"content"` // UTF-8 text of the message.
}

// Transcript is the ordered conversation; insertion order is conversation order.
type Transcript []Turn

// Append returns the transcript with turn added at the end.
func (t Transcript) Append(turn Turn) Transcript {
	return append(t, turn)
}

// Clone returns an independent copy that callers may keep.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return Transcript{}
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Turns returns the transcript as a plain slice copy.
func (t Transcript) Turns() []Turn {
	return []Turn(t.Clone())
}

// Len returns the number of turns.
func (t Transcript) Len() int {
	return len(t)
}

// SessionState is the aggregate the session engine owns.
type SessionState struct {
	ModelID         string     `json:"model_id"`
	Transcript      Transcript `json:"transcript"`
	DocumentContext string     `json:"document_context,omitempty"`
}

// HasDocument reports whether a non-empty document context is set.
func (s SessionState) HasDocument() bool {
	return s.DocumentContext != ""
}

// Clone copies the state so the caller cannot observe later mutations.
func (s SessionState) Clone() SessionState {
	s.Transcript = s.Transcript.Clone()
	return s
}

// IsBlank reports whether text has no non-whitespace characters.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// FragmentStream is a lazy, finite, non-restartable sequence of text fragments.
// Recv returns io.EOF once the sequence is exhausted.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// ModelService streams a completion for an ordered list of role/content turns.
type ModelService interface {
	StreamCompletion(ctx context.Context, modelID string, messages []Turn) (FragmentStream, error)
}

// SliceStream replays a fixed list of fragments. It is useful for tests and for
// providers that only return a whole response.
type SliceStream struct {
	fragments []string
	next      int
	closed    bool
}

// NewSliceStream returns a FragmentStream over fragments.
func NewSliceStream(fragments ...string) *SliceStream {
	return &SliceStream{fragments: fragments}
}

func (s *SliceStream) Recv() (string, error) {
	if s.closed || s.next >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.next]
	s.next++
	return f, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
