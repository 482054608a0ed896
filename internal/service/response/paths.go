package response

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/service/reasoning"
	"github.com/sandevgo/capassist/pkg/log"
)

var errReasoningFailed = errors.New("reasoning failed")

func (g *Generator) reasoningPath(ctx context.Context, req Request, o Options) (routed, error) {
	res := g.reasoner.ExecuteQuery(ctx, req.Query, reasoning.Options{
		SessionID:             o.SessionID,
		QueryID:               o.QueryID,
		Intent:                req.Intent,
		Entities:              req.Entities,
		IncludeKnowledgeSteps: o.IncludeKnowledgeSteps,
		FactChecking:          o.FactChecking,
		RetrievalType:         o.RetrievalType,
		MaxResults:            o.MaxResults,
		MinConfidence:         o.MinConfidence,
	})
	if !res.Success {
		if res.ErrorKind == "timeout" {
			return routed{}, fmt.Errorf("%w: %s", core.ErrTimeout, res.Error)
		}
		return routed{}, fmt.Errorf("%w: %s", errReasoningFailed, res.Error)
	}
	return routed{text: res.Answer, path: PathReasoning, reasoning: &res}, nil
}

func (g *Generator) templatePath(ctx context.Context, req Request, o Options, p personalization) (routed, bool) {
	tpl, ok := g.catalog.Template(req.Intent, templateType(o.Detail))
	if !ok {
		return routed{}, false
	}

	text, missing := fill(tpl, templateParams(req, p))
	if len(missing) > 0 && *o.UseLLM && g.llm != nil {
		fields, err := g.llm.GenerateContent(ctx, core.ContentRequest{
			Template:      text,
			MissingFields: missing,
			Entities:      req.Entities,
			Data:          req.Data,
			Context:       instructions(o, p),
		})
		if err != nil {
			log.FromCtx(ctx).Warn().Err(err).Strs("missing", missing).Msg("failed to generate missing template fields")
		} else {
			filled := make(map[string]string, len(fields))
			for k, v := range fields {
				if v = strings.TrimSpace(v); v != "" {
					filled[k] = v
				}
			}
			text, _ = fill(text, filled)
		}
	}
	return routed{text: strip(text), path: PathTemplate}, true
}

func (g *Generator) llmPath(ctx context.Context, req Request, o Options, p personalization) routed {
	if !*o.UseLLM || g.llm == nil {
		return routed{text: g.catalog.Fallback(req.Intent), path: PathFallback}
	}

	data := make(map[string]any, len(req.Data)+len(req.Entities)+1)
	for k, v := range req.Entities {
		data[k] = v
	}
	maps.Copy(data, req.Data)
	data["instructions"] = instructions(o, p)

	gen, err := g.llm.GenerateResponse(ctx, req.Query, req.Intent, data)
	if err != nil || strings.TrimSpace(gen.Text) == "" {
		if err == nil {
			err = fmt.Errorf("%w: empty response", core.ErrUpstream)
		}
		log.FromCtx(ctx).Warn().Err(err).Msg("llm response failed, using fallback")
		return routed{text: g.catalog.Fallback(req.Intent), path: PathFallback, err: err.Error()}
	}
	return routed{text: strings.TrimSpace(gen.Text), path: PathLLM, actions: gen.SuggestedActions}
}

// templateParams merges personalization, entities and data, later sources
// winning, and adds the well-known defaults that are still unset.
func templateParams(req Request, p personalization) map[string]string {
	params := make(map[string]string, len(p.params)+len(req.Entities)+len(req.Data)+4)
	maps.Copy(params, p.params)
	for k, v := range req.Entities {
		if v = strings.TrimSpace(v); v != "" {
			params[k] = v
		}
	}
	for k, v := range req.Data {
		if s, ok := paramString(v); ok {
			params[k] = s
		}
	}

	if _, ok := params["count"]; !ok {
		if items, ok := req.Data["items"].([]any); ok {
			params["count"] = strconv.Itoa(len(items))
		}
	}
	if c, ok := params["count"]; ok {
		isAre, plural := "are", "s"
		if n, _ := strconv.ParseFloat(c, 64); n == 1 {
			isAre, plural = "is", ""
		}
		setDefault(params, "is_are", isAre)
		setDefault(params, "plural_s", plural)
	}
	if s := entitySummary(req.Entities, ""); s != "" {
		setDefault(params, "entities", s)
	}
	return params
}

func setDefault(params map[string]string, k, v string) {
	if _, ok := params[k]; !ok {
		params[k] = v
	}
}

func paramString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, strings.TrimSpace(t) != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case []string:
		return strings.Join(t, ", "), len(t) > 0
	case []any:
		parts := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := paramString(x); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), len(parts) > 0
	default:
		return "", false
	}
}

// summaryTypes are the entity types named in an {entities} summary.
var summaryTypes = []string{"terminal", "stand", "flight", "aircraft", "airline", "maintenance"}

// entitySummary joins the known entity values as "A", "A and B" or
// "A, B and C". It returns def when there are none.
func entitySummary(entities map[string]string, def string) string {
	var vals []string
	for _, typ := range summaryTypes {
		if v := strings.TrimSpace(entities[typ]); v != "" {
			vals = append(vals, v)
		}
	}
	switch len(vals) {
	case 0:
		return def
	case 1:
		return vals[0]
	default:
		return strings.Join(vals[:len(vals)-1], ", ") + " and " + vals[len(vals)-1]
	}
}

var toneInstructions = map[string]string{
	"professional": "Use a professional, concise tone.",
	"friendly":     "Use a friendly, conversational tone.",
	"technical":    "Use precise technical language and include figures.",
	"simple":       "Use plain language and avoid jargon.",
}

var detailInstructions = map[string]string{
	"brief":         "Answer in one or two sentences.",
	"medium":        "Answer in a short paragraph.",
	"comprehensive": "Answer thoroughly, with a short list of supporting details.",
}

// instructions renders tone, detail and personalization hints for LLM
// prompts.
func instructions(o Options, p personalization) string {
	var parts []string
	if s, ok := toneInstructions[o.Tone]; ok {
		parts = append(parts, s)
	}
	if s, ok := detailInstructions[o.Detail]; ok {
		parts = append(parts, s)
	}
	if p.hints != "" {
		parts = append(parts, p.hints)
	}
	return strings.Join(parts, " ")
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
