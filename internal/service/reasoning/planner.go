package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/pkg/conv"
	"github.com/sandevgo/capassist/pkg/log"
)

// Planner derives a plan for a query. Returned plans are not validated.
type Planner interface {
	Plan(ctx context.Context, q core.Query) (core.Plan, error)
}

// TemplatePlanner builds plans from fixed per-intent templates.
type TemplatePlanner struct {
	// entitySources maps entity types to the data source that holds them.
	entitySources map[string]string
}

func NewTemplatePlanner(entitySources map[string]string) *TemplatePlanner {
	return &TemplatePlanner{entitySources: entitySources}
}

func (p *TemplatePlanner) Plan(_ context.Context, q core.Query) (core.Plan, error) {
	var steps []core.Step
	confidence := 0.8

	switch q.Intent {
	case "what_if":
		steps = []core.Step{
			step(1, core.StepParameterExtraction, "Extract the proposed change from the question", nil,
				map[string]any{"text": q.Text}),
			step(2, core.StepCalculation, "Calculate the effect of the change on capacity", []string{"step-1"},
				map[string]any{"operation": "capacity_change", "field": "stands", "delta_parameter": "stand_count_change"}),
			step(3, core.StepRecommendation, "Recommend whether to proceed with the change", []string{"step-2"}, nil),
		}
	case "comparison":
		refs := p.comparable(q)
		if len(refs) < 2 {
			return p.analysis(q, 0.6), nil
		}
		steps = []core.Step{
			step(1, core.StepParameterExtraction, "Identify the items to compare", nil,
				map[string]any{"text": q.Text}),
			step(2, core.StepDataRetrieval, "Retrieve data for "+refs[0].value, []string{"step-1"},
				map[string]any{"data_source": refs[0].source, "id": refs[0].value}),
			step(3, core.StepDataRetrieval, "Retrieve data for "+refs[1].value, []string{"step-1"},
				map[string]any{"data_source": refs[1].source, "id": refs[1].value}),
			step(4, core.StepComparison, "Compare the retrieved items", []string{"step-2", "step-3"},
				map[string]any{"items": []any{"step-2", "step-3"}}),
			step(5, core.StepRecommendation, "Recommend based on the comparison", []string{"step-4"}, nil),
		}
	case "analysis", "impact_assessment":
		return p.analysis(q, confidence), nil
	case "forecast":
		steps = []core.Step{
			step(1, core.StepParameterExtraction, "Extract the forecast horizon and scope", nil,
				map[string]any{"text": q.Text}),
			step(2, core.StepDataRetrieval, "Retrieve scheduled flights", []string{"step-1"},
				map[string]any{"data_source": "flights", "filters": map[string]any{"terminal": "$step-1.parameters.terminal"}, "limit": 100}),
			step(3, core.StepCalculation, "Average passengers per flight", []string{"step-2"},
				map[string]any{"operation": "average", "field": "passengers"}),
			step(4, core.StepRecommendation, "Recommend capacity actions for the forecast", []string{"step-3"}, nil),
		}
	case "planning":
		steps = []core.Step{
			step(1, core.StepParameterExtraction, "Extract the planning constraints", nil,
				map[string]any{"text": q.Text}),
			step(2, core.StepDataRetrieval, "Retrieve stand inventory", []string{"step-1"},
				map[string]any{"data_source": "stands", "filters": map[string]any{"terminal": "$step-1.parameters.terminal"}, "limit": 100}),
			step(3, core.StepCalculation, "Count available stands", []string{"step-2"},
				map[string]any{"operation": "count", "field": "id"}),
			step(4, core.StepValidation, "Check that stands are available", []string{"step-3"},
				map[string]any{"source_step": "step-3", "criteria": map[string]any{"result": map[string]any{"required": true, "min": 1}}}),
			step(5, core.StepRecommendation, "Recommend an allocation", []string{"step-4"}, nil),
		}
	default:
		confidence = 0.6
		steps = []core.Step{
			step(1, core.StepGeneric, "Answer the question", nil, map[string]any{"prompt": q.Text}),
		}
	}

	return newPlan(q, steps, confidence), nil
}

func (p *TemplatePlanner) analysis(q core.Query, confidence float64) core.Plan {
	source := "maintenance"
	if _, ok := q.Entities["stand"]; ok {
		source = "stands"
	}
	steps := []core.Step{
		step(1, core.StepParameterExtraction, "Extract the scope of the analysis", nil,
			map[string]any{"text": q.Text}),
		step(2, core.StepDataRetrieval, "Retrieve "+source+" records", []string{"step-1"},
			map[string]any{"data_source": source, "filters": map[string]any{"terminal": "$step-1.parameters.terminal"}, "limit": 50}),
		step(3, core.StepCalculation, "Count affected records", []string{"step-2"},
			map[string]any{"operation": "count", "field": "id"}),
		step(4, core.StepRecommendation, "Recommend mitigations", []string{"step-3"}, nil),
	}
	return newPlan(q, steps, confidence)
}

type entityRef struct {
	typ, value, source string
}

// comparable returns entity references that a data source can resolve.
// Values under one type may be listed as "A,B" or "A and B".
func (p *TemplatePlanner) comparable(q core.Query) []entityRef {
	types := make([]string, 0, len(q.Entities))
	for t := range q.Entities {
		types = append(types, t)
	}
	sort.Strings(types)

	var refs []entityRef
	for _, t := range types {
		source, ok := p.entitySources[t]
		if !ok {
			continue
		}
		for _, v := range splitValues(q.Entities[t]) {
			refs = append(refs, entityRef{typ: t, value: v, source: source})
		}
	}
	return refs
}

func splitValues(s string) []string {
	s = strings.ReplaceAll(s, " and ", ",")
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func step(n int, t core.StepType, desc string, deps []string, params map[string]any) core.Step {
	if deps == nil {
		deps = []string{}
	}
	return core.Step{
		ID:                     StepID(n),
		Number:                 n,
		Description:            desc,
		Type:                   t,
		DependsOn:              deps,
		Parameters:             params,
		EstimatedExecutionTime: estimate(t),
	}
}

func estimate(t core.StepType) int64 {
	switch t {
	case core.StepKnowledgeRetrieval, core.StepDataRetrieval:
		return 500
	case core.StepParameterExtraction, core.StepRecommendation, core.StepFactChecking, core.StepGeneric:
		return 1500
	default:
		return 100
	}
}

func newPlan(q core.Query, steps []core.Step, confidence float64) core.Plan {
	var total int64
	for _, s := range steps {
		total += s.EstimatedExecutionTime
	}
	return core.Plan{
		QueryID:            q.ID,
		OriginalQuery:      q.Text,
		Steps:              steps,
		TotalSteps:         len(steps),
		EstimatedTotalTime: total,
		Confidence:         confidence,
	}
}

const planSystemPrompt = `You are a planning component for an airport capacity assistant.
Break the user's question into a small number of steps. Respond with JSON only:
{"steps":[{"step_id":"step-1","description":"...","type":"...","depends_on":[],"parameters":{}}],"confidence":0.0}

Allowed step types:
- parameter_extraction: parameters {"text"}
- data_retrieval: parameters {"data_source", "filters", "limit", "fields"}; data_source is one of: %s
- calculation: parameters {"operation", "field", "values"}; operation is one of: sum, average, min, max, count, difference, ratio, percentage, percent_change, capacity_change
- validation: parameters {"source_step", "criteria"}
- comparison: parameters {"items"} listing at least two step ids
- recommendation: no required parameters
- fact_checking: parameters {"text"} or {"source_step"}
- generic: parameters {"prompt"}

Steps may reference an earlier step output in parameters as "$step-N.field".
Do not add a knowledge retrieval step.`

// LLMPlanner asks the model for a plan and falls back to templates when the
// answer cannot be used.
type LLMPlanner struct {
	llm         core.LLM
	fallback    Planner
	dataSources []string
}

func NewLLMPlanner(llm core.LLM, fallback Planner, dataSources []string) *LLMPlanner {
	return &LLMPlanner{llm: llm, fallback: fallback, dataSources: dataSources}
}

type llmPlan struct {
	Steps      []core.Step `json:"steps"`
	Confidence float64     `json:"confidence"`
}

func (p *LLMPlanner) Plan(ctx context.Context, q core.Query) (core.Plan, error) {
	logger := log.FromCtx(ctx)

	plan, err := p.ask(ctx, q)
	if err != nil {
		logger.Warn().Err(err).Msg("LLM planning failed, using template plan")
		return p.fallback.Plan(ctx, q)
	}
	logger.Debug().Int("steps", len(plan.Steps)).Msg("LLM plan accepted")
	return plan, nil
}

func (p *LLMPlanner) ask(ctx context.Context, q core.Query) (core.Plan, error) {
	prompt := fmt.Sprintf("Question: %s\nIntent: %s", q.Text, q.Intent)
	if len(q.Entities) > 0 {
		raw, _ := json.Marshal(q.Entities)
		prompt += "\nEntities: " + string(raw)
	}

	system := fmt.Sprintf(planSystemPrompt, strings.Join(p.dataSources, ", "))
	resp, err := p.llm.ProcessQuery(ctx, prompt, nil, system)
	if err != nil {
		return core.Plan{}, fmt.Errorf("%w: %w", core.ErrUpstream, err)
	}

	raw := conv.ExtractJSONObject(resp.Text)
	if raw == "" {
		return core.Plan{}, fmt.Errorf("no JSON object in planner response")
	}
	var parsed llmPlan
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return core.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if len(parsed.Steps) == 0 {
		return core.Plan{}, fmt.Errorf("plan has no steps")
	}

	for i := range parsed.Steps {
		s := &parsed.Steps[i]
		if !core.KnownStepType(s.Type) {
			return core.Plan{}, fmt.Errorf("unknown step type %q", s.Type)
		}
		if s.ID == "" {
			s.ID = StepID(i + 1)
		}
		if s.Number == 0 {
			s.Number = i + 1
		}
		if s.DependsOn == nil {
			s.DependsOn = []string{}
		}
		if s.EstimatedExecutionTime == 0 {
			s.EstimatedExecutionTime = estimate(s.Type)
		}
	}

	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.7
	}
	return newPlan(q, parsed.Steps, confidence), nil
}
