package verify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
)

const systemPrompt = `You are a strict fact checker for an airport capacity planning assistant.
Judge the response ONLY against the numbered knowledge items. Never use outside knowledge, never assume, never guess.

Split the response into atomic factual statements. Keep each statement's wording exactly as it appears in the response.
For each statement report:
- "SUPPORTED" when the knowledge states it,
- "CONTRADICTED" when the knowledge states something different, and give a "suggested_correction" that rewrites the statement using the knowledge,
- "UNSUPPORTED" when the knowledge says nothing about it.

Reply with JSON only:
{"statements":[{"text":"...","line_number":1,"status":"SUPPORTED","suggested_correction":""}]}`

func buildPrompt(text string, items []core.KnowledgeItem) string {
	var b strings.Builder

	b.WriteString("KNOWLEDGE:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, itemText(item))
	}

	b.WriteString("\nRESPONSE (line numbers on the left):\n")
	for i, line := range strings.Split(text, "\n") {
		fmt.Fprintf(&b, "%d: %s\n", i+1, line)
	}
	return b.String()
}

// itemText is the checkable text of an item: its content, or its data
// rendered as JSON when the content is empty.
func itemText(item core.KnowledgeItem) string {
	if strings.TrimSpace(item.Content) != "" {
		return item.Content
	}
	if len(item.Data) == 0 {
		return ""
	}
	raw, err := json.Marshal(item.Data)
	if err != nil {
		return ""
	}
	return string(raw)
}

type llmVerdict struct {
	Statements []struct {
		Text                string `json:"text"`
		LineNumber          int    `json:"line_number"`
		Status              string `json:"status"`
		SuggestedCorrection string `json:"suggested_correction"`
	} `json:"statements"`
}
