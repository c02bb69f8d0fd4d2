package session

type SessionLoadedEvent struct {
	Turns int `json:"turns"`
}

func (e *SessionLoadedEvent) GetId() string {
	return "session.loaded"
}

type TurnStartedEvent struct {
	UserText string `json:"user_text"`
}

func (e *TurnStartedEvent) GetId() string {
	return "session.turn_started"
}

type TurnCompletedEvent struct {
	Turns    int  `json:"turns"`
	HasAudio bool `json:"has_audio"`
}

func (e *TurnCompletedEvent) GetId() string {
	return "session.turn_completed"
}

type HistoryPersistedEvent struct {
	Turns int `json:"turns"`
}

func (e *HistoryPersistedEvent) GetId() string {
	return "session.history_persisted"
}

type HistoryClearedEvent struct{}

func (e *HistoryClearedEvent) GetId() string {
	return "session.history_cleared"
}

type DocumentContextSetEvent struct {
	Length int `json:"length"` // Zero when the context was cleared.
}

func (e *DocumentContextSetEvent) GetId() string {
	return "session.document_context_set"
}
