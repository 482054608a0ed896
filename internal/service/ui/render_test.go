package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/service/reasoning"
	"github.com/sandevgo/capassist/internal/service/response"
	"github.com/sandevgo/capassist/internal/service/verify"
)

func TestRenderResponse(t *testing.T) {
	resp := response.Response{
		Text: "Terminal A has 20 stands.",
		Visualizations: []response.Visualization{{
			Type:        "bar",
			Title:       "Stands per terminal",
			Data:        map[string]float64{"A": 20, "B": 12},
			Description: core.ChartDescription{Main: "Stands across 2 values"},
		}},
		SuggestedActions: []core.SuggestedAction{{Type: "help", Label: "Help with this topic"}},
		Reasoning: &reasoning.Result{
			Reasoning: reasoning.Reasoning{Steps: []core.ReasoningStep{
				{StepNumber: 1, Type: "data_retrieval", Description: "Fetch terminal A", Success: true},
			}},
			Verification: &verify.Result{
				Confidence: 1,
				Statements: []verify.Statement{{Text: "Terminal A has 20 stands.", Status: verify.StatusSupported}},
			},
		},
		Path:      response.PathReasoning,
		RequestID: "req-1",
	}

	t.Run("plain", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderResponse(&buf, resp, false))
		out := buf.String()
		assert.Contains(t, out, "Terminal A has 20 stands.")
		assert.Contains(t, out, "Stands per terminal")
		assert.Contains(t, out, "12")
		assert.Contains(t, out, "Help with this topic")
		assert.NotContains(t, out, "Fetch terminal A")
		assert.NotContains(t, out, "req-1")
	})

	t.Run("explain", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderResponse(&buf, resp, true))
		out := buf.String()
		assert.Contains(t, out, "Fetch terminal A")
		assert.Contains(t, out, "SUPPORTED")
		assert.Contains(t, out, "req-1")
	})

	t.Run("error", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderResponse(&buf, response.Response{Text: "Sorry.", Error: "boom"}, false))
		assert.Contains(t, buf.String(), "boom")
	})
}
