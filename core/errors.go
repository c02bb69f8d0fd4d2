package core

import "fmt"

// EmptyInputError is returned when a turn is submitted with blank text.
// No session state is changed.
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string {
	return "empty input: user text is blank"
}

// StreamError reports a fragment stream that failed before exhaustion.
// Partial holds the text accumulated up to the failure.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed after %d bytes: %v", len(e.Partial), e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// ModelCallError reports that the model collaborator failed or its stream
// broke. The user turn stays in the transcript; nothing is persisted.
type ModelCallError struct {
	ModelID string
	Err     error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call %q failed: %v", e.ModelID, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// SynthesisError reports a failed speech synthesis. It never fails a turn.
type SynthesisError struct {
	Language string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis (%s) failed: %v", e.Language, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// PersistenceError reports a failed history store read or write. After a
// failed write the in-memory transcript keeps its turns.
type PersistenceError struct {
	Op  string // "get" or "put"
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
