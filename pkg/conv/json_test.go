package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantObject string
		wantArray  string
	}{
		{
			name:       "fenced object",
			input:      "Here you go:\n```json\n{\"a\": [1, 2]}\n```",
			wantObject: `{"a": [1, 2]}`,
			wantArray:  `[1, 2]`,
		},
		{
			name:       "bare array",
			input:      `[{"x":1}]`,
			wantObject: `{"x":1}`,
			wantArray:  `[{"x":1}]`,
		},
		{
			name:  "no json",
			input: "nothing here",
		},
		{
			name:  "unterminated",
			input: "{ \"a\": 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantObject, ExtractJSONObject(tt.input))
			assert.Equal(t, tt.wantArray, ExtractJSONArray(tt.input))
		})
	}
}
