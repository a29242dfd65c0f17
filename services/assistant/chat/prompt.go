package chat

import (
	"strings"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
)

// buildPrompt folds retrieved chunks into the user's question. Chunks arrive
// already ordered strongest-first; they are included in that order until the
// character budget runs out, so a tight budget drops the weakest evidence.
// With no chunks the question passes through untouched.
func buildPrompt(question string, chunks []datatypes.ScoredChunk, maxContextChars int) string {
	if len(chunks) == 0 {
		return question
	}

	var ctx strings.Builder
	for _, c := range chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		if ctx.Len()+len(text)+1 > maxContextChars {
			break
		}
		ctx.WriteString(text)
		ctx.WriteString("\n")
	}
	if ctx.Len() == 0 {
		return question
	}

	var b strings.Builder
	b.WriteString("Use the following context to answer the question. ")
	b.WriteString("If the context does not contain the answer, say so and answer from general knowledge.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(ctx.String())
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
