package context

import "voicechat/core"

// Assembler decides what is sent to the model for a turn.
//
// With a document context the payload is a single user entry combining the
// document and the latest question; the running transcript is left out so the
// prompt stays bounded however long the conversation grows. Without one the
// whole transcript is sent as-is. Nothing is ever truncated or summarized.
type Assembler struct {
	config ContextConfig
}

// NewAssembler applies defaults for any empty config field.
func NewAssembler(config ContextConfig) *Assembler {
	defaults := DefaultContextConfig()
	if config.Separator == "" {
		config.Separator = defaults.Separator
	}
	if config.QuestionPrefix == "" {
		config.QuestionPrefix = defaults.QuestionPrefix
	}
	return &Assembler{config: config}
}

// Assemble builds the model payload. transcript must already contain the
// user turn for userText.
func (a *Assembler) Assemble(document string, transcript core.Transcript, userText string) []core.Turn {
	if document != "" {
		return []core.Turn{{
			Role:    core.RoleUser,
			Content: document + a.config.Separator + a.config.QuestionPrefix + userText,
		}}
	}
	return transcript.Turns()
}
