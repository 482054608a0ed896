package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		intent   string
		entities map[string]string
	}{
		{
			name:     "what if before capacity",
			text:     "What if we add 5 stands to Terminal A, how does capacity change?",
			intent:   "what_if",
			entities: map[string]string{"terminal": "Terminal A"},
		},
		{
			name:     "capacity with period",
			text:     "What's the capacity of Terminal B in the morning?",
			intent:   "capacity_query",
			entities: map[string]string{"terminal": "Terminal B", "time_period": "morning"},
		},
		{
			name:   "maintenance",
			text:   "Any maintenance planned?",
			intent: "maintenance_status",
		},
		{
			name:     "bare stand",
			text:     "Tell me about Stand A7",
			intent:   "stand_details",
			entities: map[string]string{"stand": "Stand A7"},
		},
		{
			name:   "greeting",
			text:   "hello",
			intent: "greeting",
		},
		{
			name:   "unknown",
			text:   "tell me something",
			intent: "general",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, entities := classify(tt.text)
			assert.Equal(t, tt.intent, intent)
			if tt.entities == nil {
				assert.Empty(t, entities)
			} else {
				assert.Equal(t, tt.entities, entities)
			}
		})
	}
}
