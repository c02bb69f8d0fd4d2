package tts

import "voicechat/core"

type TTSOutputEvent struct {
	Audio core.AudioHandle `json:"audio"`
}

func (e *TTSOutputEvent) GetId() string {
	return "tts.output"
}

// TTSFailedEvent is informational; a failed synthesis never fails the turn.
type TTSFailedEvent struct {
	Language string `json:"language"`
	Error    string `json:"error"`
}

func (e *TTSFailedEvent) GetId() string {
	return "tts.failed"
}

// TTSSkippedEvent is emitted when nothing speakable remains after normalization.
type TTSSkippedEvent struct{}

func (e *TTSSkippedEvent) GetId() string {
	return "tts.skipped"
}
