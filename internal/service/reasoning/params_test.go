package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractParameters(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{
			name: "what if addition",
			text: "What would happen if we added 5 more stands to Terminal A?",
			want: map[string]any{"terminal": "A", "stand_count_change": 5},
		},
		{
			name: "removal",
			text: "What if we close 3 stands in terminal B during the morning",
			want: map[string]any{"terminal": "B", "stand_count_change": -3, "time_period": "morning"},
		},
		{
			name: "stand and percentage",
			text: "Is Stand A12 used 80% of the time?",
			want: map[string]any{"stand": "A12", "percentage": 80.0},
		},
		{
			name: "lowercase words are not terminals",
			text: "which terminal is busiest",
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractParameters(tt.text)
			delete(got, "numbers")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRef(t *testing.T) {
	outputs := map[string]any{
		"step-2": map[string]any{
			"parameters": map[string]any{"terminal": "A"},
			"records":    []any{map[string]any{"id": "A1"}},
		},
	}

	tests := []struct {
		name      string
		in        any
		want      any
		wantRef   bool
		wantFound bool
	}{
		{"plain value", "A", "A", false, true},
		{"number", 3, 3, false, true},
		{"nested field", "$step-2.parameters.terminal", "A", true, true},
		{"slice index", "$step-2.records.0.id", "A1", true, true},
		{"whole output", "$step-2", outputs["step-2"], true, true},
		{"missing field", "$step-2.parameters.stand", nil, true, false},
		{"missing step", "$step-7.value", nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isRef, ok := resolveRef(tt.in, outputs)
			assert.Equal(t, tt.wantRef, isRef)
			assert.Equal(t, tt.wantFound, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveEntities(t *testing.T) {
	assert.Equal(t,
		map[string]string{"terminal": "Terminal A", "time_period": "morning"},
		DeriveEntities("How busy is Terminal A in the morning?"))
	assert.Nil(t, DeriveEntities("hello there"))
}
