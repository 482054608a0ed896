package main

import (
	"strings"

	"github.com/sandevgo/capassist/internal/service/reasoning"
)

// intentKeywords maps phrases to intents. The first match in order wins, so
// scenario phrasing is listed before plain lookups.
var intentKeywords = []struct {
	intent string
	words  []string
}{
	{"what_if", []string{"what if", "what would happen", "suppose", "if we"}},
	{"comparison", []string{"compare", " versus ", " vs "}},
	{"forecast", []string{"forecast", "predict", "next week", "next month"}},
	{"impact_assessment", []string{"impact", "affect"}},
	{"maintenance_status", []string{"maintenance", "repair", "closed for"}},
	{"flight_info", []string{"flight"}},
	{"capacity_query", []string{"capacity", "how many stands"}},
	{"stand_status", []string{"stand status", "is stand", "available"}},
	{"terminal_status", []string{"terminal status", "how is terminal"}},
	{"airport_config", []string{"airport", "configuration"}},
	{"thanks", []string{"thank"}},
	{"greeting", []string{"hello", "hi ", "good morning"}},
	{"help", []string{"help", "what can you do"}},
}

// classify guesses the intent and entities of a free-text question.
func classify(text string) (string, map[string]string) {
	lower := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	entities := reasoning.DeriveEntities(text)

	for _, k := range intentKeywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				return k.intent, entities
			}
		}
	}
	if _, ok := entities["stand"]; ok {
		return "stand_details", entities
	}
	if _, ok := entities["terminal"]; ok {
		return "terminal_status", entities
	}
	return "general", entities
}
