package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"voicechat/core"
	llmevents "voicechat/events/llm"
	sessionevents "voicechat/events/session"
	ttsevents "voicechat/events/tts"
	contexthandler "voicechat/handlers/context"
	llmhandler "voicechat/handlers/llm"
	ttshandler "voicechat/handlers/tts"
)

// AssistantResult is what a completed turn hands back to the front end.
type AssistantResult struct {
	Text  string            `json:"text"`
	Audio *core.AudioHandle `json:"audio,omitempty"` // nil when synthesis failed or was skipped.
}

// Phase is the engine's position in the per-turn state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingModelResponse
)

func (p Phase) String() string {
	if p == PhaseAwaitingModelResponse {
		return "awaiting_model_response"
	}
	return "idle"
}

// Engine is the single authority over transcript mutation and turn
// sequencing. One mutex serializes every public operation, so a turn runs to
// completion, persistence included, before anything else touches the state.
type Engine struct {
	mu    sync.Mutex
	state core.SessionState
	phase atomic.Int32

	config     SessionConfig
	model      core.ModelService
	store      core.HistoryStore
	assembler  *contexthandler.Assembler
	aggregator *llmhandler.Aggregator
	speaker    *ttshandler.Speaker
	listener   core.EventListener
	logger     *core.Logger
}

// Options bundles the collaborators an Engine needs. Speaker and Listener may be nil.
type Options struct {
	Config     SessionConfig
	Model      core.ModelService
	Store      core.HistoryStore
	Assembler  *contexthandler.Assembler
	Aggregator *llmhandler.Aggregator
	Speaker    *ttshandler.Speaker
	Listener   core.EventListener
	Logger     *core.Logger
}

// NewEngine creates an engine with an empty state. Call LoadSession to pick
// up the persisted transcript.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Model == nil {
		return nil, errors.New("session: model service is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session: history store is required")
	}
	defaults := DefaultConfig()
	if opts.Config.ModelID == "" {
		opts.Config.ModelID = defaults.ModelID
	}
	if opts.Config.HistoryKey == "" {
		opts.Config.HistoryKey = defaults.HistoryKey
	}
	if opts.Assembler == nil {
		opts.Assembler = contexthandler.NewAssembler(contexthandler.DefaultContextConfig())
	}
	if opts.Aggregator == nil {
		opts.Aggregator = llmhandler.NewAggregator(llmhandler.DefaultConfig())
	}
	logger := opts.Logger.OrDefault().With(map[string]any{"component": "session"})

	return &Engine{
		state:      core.SessionState{ModelID: opts.Config.ModelID, Transcript: core.Transcript{}},
		config:     opts.Config,
		model:      opts.Model,
		store:      opts.Store,
		assembler:  opts.Assembler,
		aggregator: opts.Aggregator,
		speaker:    opts.Speaker,
		listener:   opts.Listener,
		logger:     logger,
	}, nil
}

// LoadSession replaces the in-memory transcript with the persisted one. A
// missing key is an empty transcript, not an error. DocumentContext and the
// model id are kept.
func (e *Engine) LoadSession(ctx context.Context) (core.SessionState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	turns, found, err := e.store.Get(ctx, e.config.HistoryKey)
	if err != nil {
		return e.state.Clone(), &core.PersistenceError{Op: "get", Key: e.config.HistoryKey, Err: err}
	}
	if !found || turns == nil {
		turns = []core.Turn{}
	}
	e.state.Transcript = core.Transcript(turns).Clone()

	e.logger.Info("session loaded", "turns", len(turns), "found", found)
	e.emit(&sessionevents.SessionLoadedEvent{Turns: len(turns)})
	return e.state.Clone(), nil
}

// ClearHistory empties the transcript and writes the empty list through
// immediately. DocumentContext and the model id are untouched.
func (e *Engine) ClearHistory(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Transcript = core.Transcript{}
	if err := e.store.Put(ctx, e.config.HistoryKey, []core.Turn{}); err != nil {
		e.logger.Error("clearing history failed", "error", err)
		return &core.PersistenceError{Op: "put", Key: e.config.HistoryKey, Err: err}
	}

	e.logger.Info("history cleared")
	e.emit(&sessionevents.HistoryClearedEvent{})
	return nil
}

// SetDocumentContext replaces the grounding text. An empty string switches
// back to sending the running transcript.
func (e *Engine) SetDocumentContext(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.DocumentContext = text
	e.logger.Info("document context set", "length", len(text))
	e.emit(&sessionevents.DocumentContextSetEvent{Length: len(text)})
}

// Transcript returns a copy of the current transcript for rendering.
func (e *Engine) Transcript() core.Transcript {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Transcript.Clone()
}

// State returns a copy of the whole session state.
func (e *Engine) State() core.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Phase reports whether a turn is in flight. It does not take the engine
// lock, so listeners and chunk callbacks may call it.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// SubmitTurn runs one full turn: append the user turn, stream the reply,
// append it, speak it and persist the transcript. onChunk, when non-nil,
// receives fragments as they stream in.
//
// A blank userText returns *core.EmptyInputError with nothing changed. A model
// failure returns *core.ModelCallError; the user turn stays but nothing is
// appended or persisted. A failed write returns *core.PersistenceError along
// with the result; the in-memory transcript keeps both new turns.
func (e *Engine) SubmitTurn(ctx context.Context, userText string, onChunk llmhandler.ChunkFunc) (AssistantResult, error) {
	if core.IsBlank(userText) {
		return AssistantResult{}, &core.EmptyInputError{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.phase.Store(int32(PhaseAwaitingModelResponse))
	defer e.phase.Store(int32(PhaseIdle))

	e.state.Transcript = e.state.Transcript.Append(core.Turn{Role: core.RoleUser, Content: userText})
	e.emit(&sessionevents.TurnStartedEvent{UserText: userText})

	payload := e.assembler.Assemble(e.state.DocumentContext, e.state.Transcript, userText)
	e.emit(&llmevents.LLMGenerateResponseEvent{
		ModelID:      e.state.ModelID,
		Messages:     payload,
		WithDocument: e.state.HasDocument(),
	})

	finalText, err := e.complete(ctx, payload, onChunk)
	if err != nil {
		e.logger.Error("model call failed", "model", e.state.ModelID, "error", err)
		return AssistantResult{}, &core.ModelCallError{ModelID: e.state.ModelID, Err: err}
	}

	e.state.Transcript = e.state.Transcript.Append(core.Turn{Role: core.RoleAssistant, Content: finalText})
	e.emit(&llmevents.LLMResponseCompletedEvent{FullText: finalText})

	result := AssistantResult{Text: finalText, Audio: e.speak(ctx, finalText)}

	if err := e.store.Put(ctx, e.config.HistoryKey, e.state.Transcript.Turns()); err != nil {
		e.logger.Error("persisting transcript failed", "turns", e.state.Transcript.Len(), "error", err)
		return result, &core.PersistenceError{Op: "put", Key: e.config.HistoryKey, Err: err}
	}
	e.emit(&sessionevents.HistoryPersistedEvent{Turns: e.state.Transcript.Len()})
	e.emit(&sessionevents.TurnCompletedEvent{Turns: e.state.Transcript.Len(), HasAudio: result.Audio != nil})

	e.logger.Info("turn completed", "turns", e.state.Transcript.Len(), "reply_length", len(finalText), "audio", result.Audio != nil)
	return result, nil
}

// PersistTranscript writes the current transcript again. Front ends use it to
// retry after SubmitTurn returned a *core.PersistenceError.
func (e *Engine) PersistTranscript(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Put(ctx, e.config.HistoryKey, e.state.Transcript.Turns()); err != nil {
		return &core.PersistenceError{Op: "put", Key: e.config.HistoryKey, Err: err}
	}
	e.emit(&sessionevents.HistoryPersistedEvent{Turns: e.state.Transcript.Len()})
	return nil
}

func (e *Engine) complete(ctx context.Context, payload []core.Turn, onChunk llmhandler.ChunkFunc) (string, error) {
	stream, err := e.model.StreamCompletion(ctx, e.state.ModelID, payload)
	if err != nil {
		e.emit(&llmevents.LLMResponseFailedEvent{Error: err.Error()})
		return "", err
	}

	text, err := e.aggregator.Aggregate(stream, func(chunk string) {
		e.emit(&llmevents.LLMResponseChunkEvent{Chunk: chunk})
		if onChunk != nil {
			onChunk(chunk)
		}
	})
	if err != nil {
		var streamErr *core.StreamError
		partial := ""
		if errors.As(err, &streamErr) {
			partial = streamErr.Partial
		}
		e.emit(&llmevents.LLMResponseFailedEvent{PartialText: partial, Error: err.Error()})
		return "", err
	}
	return text, nil
}

// speak never fails the turn; a nil handle means no audio.
func (e *Engine) speak(ctx context.Context, text string) *core.AudioHandle {
	if e.speaker == nil {
		return nil
	}
	handle, err := e.speaker.Speak(ctx, text)
	switch {
	case err == nil:
		e.emit(&ttsevents.TTSOutputEvent{Audio: handle})
		return &handle
	case errors.Is(err, ttshandler.ErrDisabled):
		return nil
	case errors.Is(err, ttshandler.ErrNothingToSpeak):
		e.emit(&ttsevents.TTSSkippedEvent{})
		return nil
	default:
		e.logger.Warn("speech synthesis failed, replying with text only", "language", e.speaker.Language(), "error", err)
		e.emit(&ttsevents.TTSFailedEvent{Language: e.speaker.Language(), Error: err.Error()})
		return nil
	}
}

func (e *Engine) emit(event core.IEvent) {
	if e.listener == nil {
		return
	}
	e.listener(core.NewEventPacket(event, "SessionEngine"))
}
