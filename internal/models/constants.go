package models

const (
	// FallbackAnswer is what the model is told to say when the context does not hold the answer.
	FallbackAnswer   = "I couldn't find this in the document."
	ContextSeparator = "\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`
)

var (
	AnswerPromptTemplate = `Answer the question based ONLY on the following context. If unsure, say "` + FallbackAnswer + `"

CONTEXT:
{{.context}}

QUESTION: {{.question}}
ANSWER: `
)
