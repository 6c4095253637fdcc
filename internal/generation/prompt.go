package generation

import (
	"strings"
)

// IDontKnow is the answer the model is told to give when no source helps.
const IDontKnow = "I don't know yet. Can you clarify?"

const rules = `You answer questions using only the context below. Do not use prior knowledge.

Sources, highest priority first:
1. Recent chat history: references to earlier turns ("as we discussed").
2. Long-term memories: facts the user shared about themselves.
3. Documents: the user's uploaded files.
4. Web results: general knowledge the documents do not cover.

Personal questions ("what is my name", "who am I") are answered from chat
history or memories only, never from documents or web results.

When web results directly address the question, answer from them. If they
mention a different entity than the one asked about, ignore them.

If no source answers the question, reply exactly: "` + IDontKnow + `"

Answer concisely. Do not mention sources or explain your reasoning.`

var rule = strings.Repeat("=", 80)

// BuildPrompt renders req into a single prompt. Empty sections are
// omitted; sections appear in priority order.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(rules)

	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		b.WriteString("\n\n")
		b.WriteString(rule)
		b.WriteString("\n")
		b.WriteString(title)
		b.WriteString(":\n")
		b.WriteString(body)
	}
	section("RECENT CHAT HISTORY", req.History)
	section("LONG-TERM MEMORIES", req.Memory)
	section("DOCUMENTS AND WEB RESULTS", req.Context)

	b.WriteString("\n\n")
	b.WriteString(rule)
	b.WriteString("\nQUESTION:\n")
	b.WriteString(req.Question)
	return b.String()
}
