package reasoning

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
)

var errCycle = errors.New("circular dependency detected")

// PlanError is an invalid-plan outcome. SuggestedPlan, when set, is a
// repaired plan the caller may run instead.
type PlanError struct {
	Reason               string
	SuggestedAlternative string
	SuggestedPlan        *core.Plan
	err                  error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("%s: %s", core.ErrInvalidPlan, e.Reason)
}

func (e *PlanError) Unwrap() []error {
	if e.err != nil {
		return []error{core.ErrInvalidPlan, e.err}
	}
	return []error{core.ErrInvalidPlan}
}

// StepID is the canonical id of the n-th step.
func StepID(n int) string {
	return "step-" + strconv.Itoa(n)
}

// ValidatePlan checks step ids, step types, required parameters, dependency
// references and acyclicity.
func ValidatePlan(plan core.Plan, maxSteps int) error {
	if len(plan.Steps) == 0 {
		return &PlanError{Reason: "plan has no steps"}
	}
	if maxSteps > 0 && len(plan.Steps) > maxSteps {
		return &PlanError{Reason: fmt.Sprintf("plan has %d steps, limit is %d", len(plan.Steps), maxSteps)}
	}

	ids := make(map[string]struct{}, len(plan.Steps))
	for _, s := range plan.Steps {
		if s.ID == "" {
			return &PlanError{Reason: fmt.Sprintf("step %d has no id", s.Number)}
		}
		if _, dup := ids[s.ID]; dup {
			return &PlanError{Reason: fmt.Sprintf("duplicate step id %s", s.ID)}
		}
		ids[s.ID] = struct{}{}
	}

	for _, s := range plan.Steps {
		if !core.KnownStepType(s.Type) {
			return &PlanError{Reason: fmt.Sprintf("%s has unknown type %q", s.ID, s.Type)}
		}
		if missing := missingParameter(s); missing != "" {
			return &PlanError{
				Reason:               fmt.Sprintf("%s (%s) is missing required parameter %s", s.ID, s.Type, missing),
				SuggestedAlternative: fmt.Sprintf("add %q to the parameters of %s", missing, s.ID),
			}
		}
		for _, dep := range s.DependsOn {
			if _, ok := ids[dep]; !ok {
				return &PlanError{Reason: fmt.Sprintf("%s depends on unknown step %s", s.ID, dep)}
			}
		}
	}

	if cycle := findCycle(plan); cycle != nil {
		linear := linearize(plan)
		return &PlanError{
			Reason: fmt.Sprintf("%v: %s", errCycle, strings.Join(cycle, " -> ")),
			SuggestedAlternative: fmt.Sprintf(
				"remove the dependency of %s on %s, or run the steps sequentially in step order",
				cycle[len(cycle)-2], cycle[len(cycle)-1]),
			SuggestedPlan: &linear,
			err:           errCycle,
		}
	}
	return nil
}

func missingParameter(s core.Step) string {
	has := func(key string) bool {
		v, ok := s.Parameters[key]
		if !ok || v == nil {
			return false
		}
		if str, isStr := v.(string); isStr {
			return strings.TrimSpace(str) != ""
		}
		return true
	}

	switch s.Type {
	case core.StepDataRetrieval:
		if !has("data_source") {
			return "data_source"
		}
	case core.StepCalculation:
		if !has("operation") {
			return "operation"
		}
	case core.StepFactChecking:
		if !has("text") && !has("source_step") {
			return "text or source_step"
		}
	}
	return ""
}

// findCycle runs a depth-first search from every step and returns the first
// cycle found as a path that starts and ends on the same step.
func findCycle(plan core.Plan) []string {
	const (
		white = iota
		grey
		black
	)

	deps := make(map[string][]string, len(plan.Steps))
	order := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		deps[s.ID] = s.DependsOn
		order = append(order, s.ID)
	}

	color := make(map[string]int, len(order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				return append(cycle, dep)
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range order {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// linearize chains the steps in step-number order, each depending only on
// its predecessor.
func linearize(plan core.Plan) core.Plan {
	out := clonePlan(plan)
	sort.SliceStable(out.Steps, func(i, j int) bool { return out.Steps[i].Number < out.Steps[j].Number })
	for i := range out.Steps {
		if i == 0 {
			out.Steps[i].DependsOn = []string{}
		} else {
			out.Steps[i].DependsOn = []string{out.Steps[i-1].ID}
		}
	}
	return out
}

func hasStepType(plan core.Plan, t core.StepType) bool {
	for _, s := range plan.Steps {
		if s.Type == t {
			return true
		}
	}
	return false
}

var stepRefRe = regexp.MustCompile(`\bstep-(\d+)\b`)

// EnhancePlan inserts a knowledge retrieval step as step-1 when the plan has
// none. Existing steps shift by one: ids, numbers, dependencies and $step
// references in parameters are renumbered, and steps without dependencies
// gain a dependency on the new step.
func EnhancePlan(plan core.Plan, retrieval map[string]any) core.Plan {
	if hasStepType(plan, core.StepKnowledgeRetrieval) {
		return plan
	}

	out := clonePlan(plan)
	shift := func(s string) string {
		return stepRefRe.ReplaceAllStringFunc(s, func(m string) string {
			n, _ := strconv.Atoi(strings.TrimPrefix(m, "step-"))
			return StepID(n + 1)
		})
	}

	for i := range out.Steps {
		s := &out.Steps[i]
		s.ID = shift(s.ID)
		s.Number++
		if len(s.DependsOn) == 0 {
			s.DependsOn = []string{StepID(1)}
		} else {
			for j, dep := range s.DependsOn {
				s.DependsOn[j] = shift(dep)
			}
		}
		if s.Parameters != nil {
			s.Parameters = shiftRefs(s.Parameters, shift).(map[string]any)
		}
	}

	if retrieval == nil {
		retrieval = map[string]any{}
	}
	kr := core.Step{
		ID:                     StepID(1),
		Number:                 1,
		Description:            "Retrieve knowledge relevant to the question",
		Type:                   core.StepKnowledgeRetrieval,
		DependsOn:              []string{},
		Parameters:             retrieval,
		EstimatedExecutionTime: 500,
	}
	out.Steps = append([]core.Step{kr}, out.Steps...)
	out.TotalSteps = len(out.Steps)
	out.EstimatedTotalTime += kr.EstimatedExecutionTime
	return out
}

// shiftRefs rewrites step references inside parameter values. Only strings
// that are references ("$step-2.field") or step ids are rewritten.
func shiftRefs(v any, shift func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = shiftRefs(val, shift)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = shiftRefs(val, shift)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = shiftRefs(val, shift).(string)
		}
		return out
	case string:
		if strings.HasPrefix(t, "$step-") || stepIDRe.MatchString(t) {
			return shift(t)
		}
		return t
	default:
		return v
	}
}

var stepIDRe = regexp.MustCompile(`^step-\d+$`)

// executionOrder sorts steps topologically, breaking ties by step number.
// The plan must be acyclic.
func executionOrder(plan core.Plan) []core.Step {
	indegree := make(map[string]int, len(plan.Steps))
	dependents := make(map[string][]string, len(plan.Steps))
	byID := make(map[string]core.Step, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.ID] = s
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []core.Step
	for _, s := range plan.Steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s)
		}
	}

	out := make([]core.Step, 0, len(plan.Steps))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].Number < ready[j].Number })
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)
		for _, id := range dependents[next.ID] {
			indegree[id]--
			if indegree[id] == 0 {
				ready = append(ready, byID[id])
			}
		}
	}
	return out
}

func clonePlan(p core.Plan) core.Plan {
	out := p
	out.Steps = make([]core.Step, len(p.Steps))
	for i, s := range p.Steps {
		s.DependsOn = append([]string{}, s.DependsOn...)
		if s.Parameters != nil {
			params := make(map[string]any, len(s.Parameters))
			for k, v := range s.Parameters {
				params[k] = v
			}
			s.Parameters = params
		}
		out.Steps[i] = s
	}
	return out
}
