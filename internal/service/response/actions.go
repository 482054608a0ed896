package response

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/pkg/log"
)

var helpAction = core.SuggestedAction{Type: "help", Label: "Help with this topic", Intent: "help"}

var intentActions = map[string][]core.SuggestedAction{
	"capacity_query": {
		{Type: "visualization", Label: "Show capacity chart", Intent: "capacity_query"},
		{Type: "query", Label: "Compare with another terminal", Intent: "comparison"},
	},
	"stand_status": {
		{Type: "query", Label: "Show stand details", Intent: "stand_details"},
		{Type: "query", Label: "Check maintenance for this stand", Intent: "maintenance_status"},
	},
	"stand_details": {
		{Type: "query", Label: "Show stand status", Intent: "stand_status"},
	},
	"terminal_status": {
		{Type: "query", Label: "Show capacity for this terminal", Intent: "capacity_query"},
		{Type: "query", Label: "Show scheduled maintenance", Intent: "maintenance_status"},
	},
	"maintenance_status": {
		{Type: "query", Label: "Assess maintenance impact", Intent: "impact_assessment"},
		{Type: "query", Label: "Show affected stands", Intent: "stand_status"},
	},
	"flight_info": {
		{Type: "query", Label: "Show stand status", Intent: "stand_status"},
	},
	"what_if": {
		{Type: "query", Label: "Try a different scenario", Intent: "what_if"},
		{Type: "visualization", Label: "Show capacity chart", Intent: "capacity_query"},
	},
	"comparison": {
		{Type: "visualization", Label: "Show comparison chart", Intent: "comparison"},
		{Type: "query", Label: "Explore a what-if scenario", Intent: "what_if"},
	},
	"analysis": {
		{Type: "query", Label: "Explore a what-if scenario", Intent: "what_if"},
	},
	"forecast": {
		{Type: "visualization", Label: "Show forecast chart", Intent: "forecast"},
	},
	"planning": {
		{Type: "query", Label: "Check stand availability", Intent: "stand_status"},
	},
	"impact_assessment": {
		{Type: "query", Label: "Show scheduled maintenance", Intent: "maintenance_status"},
	},
}

// suggestedActions returns the actions of intent followed by extra ones,
// without duplicate labels. Help is always last.
func suggestedActions(intent string, extra []core.SuggestedAction) []core.SuggestedAction {
	out := make([]core.SuggestedAction, 0, len(intentActions[intent])+len(extra)+1)
	seen := map[string]struct{}{strings.ToLower(helpAction.Label): {}}
	for _, list := range [][]core.SuggestedAction{intentActions[intent], extra} {
		for _, a := range list {
			key := strings.ToLower(strings.TrimSpace(a.Label))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, a)
		}
	}
	return append(out, helpAction)
}

// visualizations turns the numeric "series" of the request data into a
// chart. The description comes from the LLM when available.
func (g *Generator) visualizations(ctx context.Context, req Request, o Options) []Visualization {
	series := numericSeries(req.Data["series"])
	if len(series) == 0 {
		return []Visualization{}
	}

	title, _ := req.Data["chart_title"].(string)
	if title == "" {
		title = strings.ReplaceAll(req.Intent, "_", " ")
	}

	desc := describeSeries(series, title)
	if *o.UseLLM && g.llm != nil {
		d, err := g.llm.GenerateChartDescription(ctx, series, title, req.Query)
		switch {
		case err != nil:
			log.FromCtx(ctx).Warn().Err(err).Msg("failed to describe chart")
		case strings.TrimSpace(d.Main) != "":
			desc = d
		}
	}

	return []Visualization{{Type: "bar_chart", Title: title, Data: series, Description: desc}}
}

func numericSeries(v any) map[string]float64 {
	out := map[string]float64{}
	switch t := v.(type) {
	case map[string]float64:
		for k, x := range t {
			out[k] = x
		}
	case map[string]int:
		for k, x := range t {
			out[k] = float64(x)
		}
	case map[string]any:
		for k, x := range t {
			switch n := x.(type) {
			case float64:
				out[k] = n
			case int:
				out[k] = float64(n)
			case int64:
				out[k] = float64(n)
			}
		}
	}
	return out
}

// describeSeries is the description used without an LLM.
func describeSeries(series map[string]float64, title string) core.ChartDescription {
	labels := sortedKeys(series)
	sort.SliceStable(labels, func(i, j int) bool { return series[labels[i]] > series[labels[j]] })
	hi, lo := labels[0], labels[len(labels)-1]

	return core.ChartDescription{
		Main:      fmt.Sprintf("%s across %d values", title, len(series)),
		Insight:   fmt.Sprintf("Highest is %s at %s; lowest is %s at %s.", hi, fmtNum(series[hi]), lo, fmtNum(series[lo])),
		Highlight: hi,
	}
}

func fmtNum(f float64) string {
	s, _ := paramString(f)
	return s
}
