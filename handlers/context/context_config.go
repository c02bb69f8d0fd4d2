package context

// ContextConfig controls how grounding text is combined with the user's question.
type ContextConfig struct {
	Separator      string `json:"separator"`       // Placed between the document text and the question.
	QuestionPrefix string `json:"question_prefix"` // Precedes the user's question in document mode.
}

// DefaultContextConfig returns the separator and prefix the assistant has always used.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		Separator:      "\n\n",
		QuestionPrefix: "User question: ",
	}
}
