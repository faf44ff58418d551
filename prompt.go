package rags

import "strings"

const DefaultPrompt = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{context}

Question: {question}
Helpful Answer:`

// BuildPrompt fills the template with the retrieved chunks and the question.
// Placeholders inside the inserted text are left untouched.
func BuildPrompt(template string, chunks []Chunk, question string) string {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	r := strings.NewReplacer(
		"{context}", strings.Join(texts, "\n\n"),
		"{question}", question,
	)

	return r.Replace(template)
}
