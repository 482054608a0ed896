package reasoning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/service/retrieval"
	"github.com/sandevgo/capassist/internal/service/verify"
	"github.com/sandevgo/capassist/pkg/log"
)

// executeStep dispatches a step to its handler. Handlers return the step
// output, a one-line explanation and an error that fails the step.
func (e *Engine) executeStep(ctx context.Context, ex *execution, s core.Step) (any, string, error) {
	switch s.Type {
	case core.StepKnowledgeRetrieval:
		return e.retrieveKnowledge(ctx, ex, s)
	case core.StepParameterExtraction:
		return e.extractParameters(ctx, ex, s)
	case core.StepDataRetrieval:
		return e.retrieveData(ctx, ex, s)
	case core.StepCalculation:
		return e.calculate(ex, s)
	case core.StepValidation:
		return e.validate(ex, s)
	case core.StepComparison:
		return e.compare(ex, s)
	case core.StepRecommendation:
		return e.recommend(ex)
	case core.StepFactChecking:
		return e.factCheck(ctx, ex, s)
	case core.StepGeneric:
		return e.generic(ctx, ex, s)
	default:
		return nil, "", fmt.Errorf("unknown step type: %s", s.Type)
	}
}

func (e *Engine) retrieveKnowledge(ctx context.Context, ex *execution, s core.Step) (any, string, error) {
	q := ex.query
	if text, ok := s.Parameters["query"].(string); ok && strings.TrimSpace(text) != "" {
		q.Text = text
	}

	maxResults := ex.opts.MaxResults
	if maxResults <= 0 {
		maxResults = e.cfg.DefaultMaxResults
	}
	opts := retrieval.Options{
		MaxResults:    toInt(s.Parameters["max_results"], maxResults),
		MinConfidence: ex.opts.MinConfidence,
	}
	name, _ := s.Parameters["strategy"].(string)
	if name == "" {
		name = ex.opts.RetrievalType
	}
	if st, ok := retrieval.ParseStrategy(name); ok {
		opts.Strategy = st
	}

	res := e.retriever.RetrieveKnowledge(ctx, q, opts)
	ex.knowledge = &res

	out := map[string]any{
		"facts":      res.Facts,
		"contextual": res.Contextual,
		"sources":    res.Sources,
		"strategy":   string(res.Strategy),
		"degraded":   res.Degraded,
		"item_count": res.ItemCount,
	}
	explanation := fmt.Sprintf("Retrieved %d facts and %d contextual items using the %s strategy",
		len(res.Facts), len(res.Contextual), res.Strategy)
	if res.Degraded {
		explanation += " (some sources were unavailable)"
	}
	return out, explanation, nil
}

func (e *Engine) extractParameters(ctx context.Context, ex *execution, s core.Step) (any, string, error) {
	text := ex.query.Text
	if t, ok := s.Parameters["text"].(string); ok && strings.TrimSpace(t) != "" {
		text = t
	}
	if src, ok := s.Parameters["source_step"].(string); ok && src != "" {
		out, found := ex.outputs[src]
		if !found {
			return nil, "", fmt.Errorf("source step %s has no output", src)
		}
		text = textOf(out)
	}

	params := map[string]any{}
	for k, v := range ex.query.Entities {
		params[k] = v
	}
	for k, v := range ExtractParameters(text) {
		params[k] = v
	}

	method := "llm"
	confidence := 0.8
	pe, err := e.llm.ExtractParameters(ctx, text)
	switch {
	case err != nil || pe.Error != "" || len(pe.Parameters) == 0:
		method = "pattern"
		confidence = 0.6
		if err == nil && pe.Error != "" {
			err = errors.New(pe.Error)
		}
		log.FromCtx(ctx).Debug().AnErr("cause", err).Msg("using pattern parameter extraction")
	default:
		for k, v := range pe.Parameters {
			params[k] = v
		}
		if pe.Confidence > 0 {
			confidence = pe.Confidence
		}
	}

	if ex.query.SessionID != "" {
		now := e.memory.NowMillis()
		var mentions []core.EntityMention
		for _, k := range sortedKeys(params) {
			switch params[k].(type) {
			case map[string]any, []any, nil:
				continue
			}
			mentions = append(mentions, core.EntityMention{
				Type:        k,
				Value:       stringify(params[k]),
				Confidence:  confidence,
				QueryID:     ex.query.ID,
				MentionedAt: now,
			})
		}
		if len(mentions) > 0 {
			e.memory.StoreEntityMentions(ctx, ex.query.SessionID, mentions...)
		}
	}

	out := map[string]any{
		"parameters": params,
		"confidence": confidence,
		"method":     method,
	}
	if len(params) == 0 {
		return out, "No parameters found in the question", nil
	}
	return out, fmt.Sprintf("Extracted %s", strings.Join(sortedKeys(params), ", ")), nil
}

func (e *Engine) retrieveData(ctx context.Context, ex *execution, s core.Step) (any, string, error) {
	source, _ := s.Parameters["data_source"].(string)
	if !slices.Contains(e.cfg.DataSources, source) {
		return nil, "", fmt.Errorf("%w: unknown data source %q", core.ErrInvalidParameters, source)
	}
	svc, ok := e.services[source]
	if !ok {
		return nil, "", fmt.Errorf("%w: data source %q is not connected", core.ErrUpstream, source)
	}

	logger := log.FromCtx(ctx).With().Str("source", source).Logger()

	filters := map[string]any{}
	if raw, ok := s.Parameters["filters"].(map[string]any); ok {
		for k, v := range raw {
			val, isRef, resolved := resolveRef(v, ex.outputs)
			if isRef && !resolved {
				logger.Debug().Str("filter", k).Msg("dropping unresolved filter reference")
				continue
			}
			filters[k] = val
		}
	}
	limit := toInt(s.Parameters["limit"], 20)

	var (
		records []core.Record
		err     error
	)
	id, isRef, resolved := resolveRef(s.Parameters["id"], ex.outputs)
	idStr := stringify(id)
	if (isRef && !resolved) || strings.TrimSpace(idStr) == "" {
		records, err = svc.ListWithFilter(ctx, filters, limit)
	} else {
		var rec core.Record
		rec, err = svc.GetByID(ctx, idStr)
		if err == nil {
			records = []core.Record{rec}
		} else if errors.Is(err, core.ErrNotFound) {
			err = nil
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", core.ErrUpstream, source, err)
	}
	if records == nil {
		records = []core.Record{}
	}

	if fields := toStrings(s.Parameters["fields"]); len(fields) > 0 {
		for i, rec := range records {
			projected := make(core.Record, len(fields))
			for _, f := range fields {
				if v, ok := rec[f]; ok {
					projected[f] = v
				}
			}
			records[i] = projected
		}
	}

	out := map[string]any{
		"data_source": source,
		"records":     records,
		"count":       len(records),
	}
	return out, fmt.Sprintf("Retrieved %d %s records", len(records), source), nil
}

func (e *Engine) calculate(ex *execution, s core.Step) (any, string, error) {
	op, _ := s.Parameters["operation"].(string)
	op = strings.ToLower(strings.TrimSpace(op))
	field, _ := s.Parameters["field"].(string)

	if op == "capacity_change" {
		return e.capacityChange(ex, s, field)
	}

	values := calcInputs(ex, s, field)
	out := map[string]any{"operation": op, "field": field, "values": values}

	if op == "count" {
		n := countRecords(ex, s)
		if n < 0 {
			n = len(values)
		}
		out["result"] = float64(n)
		return out, fmt.Sprintf("Counted %d items", n), nil
	}

	if len(values) == 0 {
		return nil, "", fmt.Errorf("%w: no numeric inputs for %s", core.ErrInvalidParameters, op)
	}

	var result float64
	switch op {
	case "sum":
		for _, v := range values {
			result += v
		}
	case "average", "mean":
		for _, v := range values {
			result += v
		}
		result /= float64(len(values))
	case "min":
		result = slices.Min(values)
	case "max":
		result = slices.Max(values)
	case "difference", "ratio", "percentage", "percent_change":
		if len(values) < 2 {
			return nil, "", fmt.Errorf("%w: %s needs two inputs", core.ErrInvalidParameters, op)
		}
		a, b := values[0], values[1]
		switch op {
		case "difference":
			result = a - b
		case "ratio":
			if b == 0 {
				return nil, "", fmt.Errorf("%w: division by zero", core.ErrInvalidParameters)
			}
			result = a / b
		case "percentage":
			if b == 0 {
				return nil, "", fmt.Errorf("%w: division by zero", core.ErrInvalidParameters)
			}
			result = a / b * 100
		case "percent_change":
			if a == 0 {
				return nil, "", fmt.Errorf("%w: division by zero", core.ErrInvalidParameters)
			}
			result = (b - a) / a * 100
		}
	default:
		return nil, "", fmt.Errorf("%w: unsupported operation %q", core.ErrInvalidParameters, op)
	}

	result = round2(result)
	out["result"] = result
	return out, fmt.Sprintf("%s of %d values = %s", op, len(values), formatNumber(result)), nil
}

func (e *Engine) capacityChange(ex *execution, s core.Step, field string) (any, string, error) {
	if field == "" {
		field = "stands"
	}
	deltaParam, _ := s.Parameters["delta_parameter"].(string)
	if deltaParam == "" {
		deltaParam = "stand_count_change"
	}

	delta, ok := numberParam(s.Parameters["delta"], ex.outputs)
	if !ok {
		delta, ok = latestParameter(ex, deltaParam)
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: no change amount found", core.ErrInvalidParameters)
	}

	base, hasBase := numberParam(s.Parameters["base"], ex.outputs)
	if !hasBase {
		for _, dep := range s.DependsOn {
			if vals := numbersFrom(ex.outputs[dep], field); len(vals) > 0 {
				base, hasBase = vals[0], true
				break
			}
		}
	}
	if !hasBase {
		base, hasBase = knowledgeNumber(ex, field)
	}

	out := map[string]any{
		"operation": "capacity_change",
		"field":     field,
		"delta":     delta,
	}
	verb := "Adding"
	if delta < 0 {
		verb = "Removing"
	}
	if !hasBase {
		out["base"] = nil
		out["new_value"] = nil
		return out, fmt.Sprintf("%s %s %s; the current number of %s is unknown", verb, formatNumber(math.Abs(delta)), field, field), nil
	}

	newValue := base + delta
	out["base"] = base
	out["new_value"] = newValue
	out["result"] = newValue
	explanation := fmt.Sprintf("%s %s %s changes %s from %s to %s",
		verb, formatNumber(math.Abs(delta)), field, field, formatNumber(base), formatNumber(newValue))
	if base != 0 {
		pct := round2(delta / base * 100)
		out["percent_change"] = pct
		explanation += fmt.Sprintf(" (%+.2f%%)", pct)
	}
	return out, explanation, nil
}

func (e *Engine) validate(ex *execution, s core.Step) (any, string, error) {
	var data any
	switch {
	case s.Parameters["source_step"] != nil:
		src, _ := s.Parameters["source_step"].(string)
		out, ok := ex.outputs[src]
		if !ok {
			return nil, "", fmt.Errorf("source step %s has no output", src)
		}
		data = out
	case s.Parameters["data"] != nil:
		val, isRef, resolved := resolveRef(s.Parameters["data"], ex.outputs)
		if isRef && !resolved {
			return nil, "", fmt.Errorf("%w: unresolved data reference", core.ErrInvalidParameters)
		}
		data = val
	case len(s.DependsOn) > 0:
		data = ex.outputs[s.DependsOn[len(s.DependsOn)-1]]
	}
	fields := flatten(data)

	criteria, _ := s.Parameters["criteria"].(map[string]any)
	var problems []string
	if len(criteria) == 0 && len(fields) == 0 {
		problems = append(problems, "no data to validate")
	}
	for _, name := range sortedKeys(criteria) {
		rule, _ := criteria[name].(map[string]any)
		value, present := fields[name]
		if present && value == nil {
			present = false
		}
		if required, _ := rule["required"].(bool); required && !present {
			problems = append(problems, name+" is required")
			continue
		}
		if !present {
			continue
		}
		problems = append(problems, checkRule(name, value, rule, ex)...)
	}

	out := map[string]any{
		"is_valid":       len(problems) == 0,
		"errors":         problems,
		"validated_data": fields,
	}
	if len(problems) > 0 {
		return out, "Validation failed: " + strings.Join(problems, "; "),
			fmt.Errorf("validation failed: %s", strings.Join(problems, "; "))
	}
	out["errors"] = []string{}
	return out, fmt.Sprintf("Validated %d fields", len(fields)), nil
}

func checkRule(name string, value any, rule map[string]any, ex *execution) []string {
	var problems []string
	num, isNum := toFloat(value)
	if limit, ok := toFloat(rule["min"]); ok {
		if !isNum || num < limit {
			problems = append(problems, fmt.Sprintf("%s must be at least %s", name, formatNumber(limit)))
		}
	}
	if limit, ok := toFloat(rule["max"]); ok {
		if !isNum || num > limit {
			problems = append(problems, fmt.Sprintf("%s must be at most %s", name, formatNumber(limit)))
		}
	}
	if want, ok := rule["equals"]; ok && stringify(want) != stringify(value) {
		problems = append(problems, fmt.Sprintf("%s must equal %s", name, stringify(want)))
	}
	if allowed := toStrings(rule["one_of"]); len(allowed) > 0 && !slices.Contains(allowed, stringify(value)) {
		problems = append(problems, fmt.Sprintf("%s must be one of %s", name, strings.Join(allowed, ", ")))
	}
	if grounded, _ := rule["in_knowledge"].(bool); grounded && !inKnowledge(ex, stringify(value)) {
		problems = append(problems, fmt.Sprintf("%s %q is not supported by retrieved knowledge", name, stringify(value)))
	}
	return problems
}

func (e *Engine) compare(ex *execution, s core.Step) (any, string, error) {
	ids := toStrings(s.Parameters["items"])
	if len(ids) < 2 {
		ids = s.DependsOn
	}
	if len(ids) < 2 {
		return nil, "", fmt.Errorf("%w: comparison needs at least two items", core.ErrInvalidParameters)
	}

	flats := make(map[string]map[string]any, len(ids))
	keys := map[string]struct{}{}
	for _, id := range ids {
		out, ok := ex.outputs[id]
		if !ok {
			return nil, "", fmt.Errorf("%s has no output to compare", id)
		}
		flats[id] = flatten(out)
		for k := range flats[id] {
			keys[k] = struct{}{}
		}
	}

	differences := map[string]any{}
	similarities := map[string]any{}
	for _, k := range sortedKeys(keys) {
		first, same := stringify(flats[ids[0]][k]), true
		perItem := map[string]any{}
		for _, id := range ids {
			v, ok := flats[id][k]
			if !ok || stringify(v) != first {
				same = false
			}
			perItem[label(id, flats[id])] = v
		}
		if same {
			similarities[k] = flats[ids[0]][k]
		} else {
			differences[k] = perItem
		}
	}

	recommendation := recommendFromComparison(ids, flats, differences)
	out := map[string]any{
		"items":          ids,
		"differences":    differences,
		"similarities":   similarities,
		"recommendation": recommendation,
	}
	return out, fmt.Sprintf("Compared %d items: %d differences, %d similarities",
		len(ids), len(differences), len(similarities)), nil
}

var preferredMetrics = []string{"capacity", "stands", "available_stands", "flights_per_hour", "passengers"}

func recommendFromComparison(ids []string, flats map[string]map[string]any, differences map[string]any) string {
	metric := ""
	for _, k := range preferredMetrics {
		if _, ok := differences[k]; ok {
			metric = k
			break
		}
	}
	if metric == "" {
		for _, k := range sortedKeys(differences) {
			if _, ok := toFloat(flats[ids[0]][k]); ok && k != "id" {
				metric = k
				break
			}
		}
	}
	if metric == "" {
		return "The items have no numeric difference to rank them by"
	}

	best, bestVal := "", math.Inf(-1)
	var parts []string
	for _, id := range ids {
		v, ok := toFloat(flats[id][metric])
		if !ok {
			continue
		}
		parts = append(parts, formatNumber(v))
		if v > bestVal {
			best, bestVal = label(id, flats[id]), v
		}
	}
	return fmt.Sprintf("%s has the higher %s (%s)", best, metric, strings.Join(parts, " vs "))
}

func label(id string, fields map[string]any) string {
	if name, ok := fields["name"].(string); ok && name != "" {
		return name
	}
	return id
}

func (e *Engine) recommend(ex *execution) (any, string, error) {
	var (
		recs      []string
		rationale []string
	)
	for _, rs := range ex.trace {
		if rs.Explanation != "" && rs.Success {
			rationale = append(rationale, rs.Explanation)
		}
		out, _ := ex.outputs[rs.StepID].(map[string]any)
		if out == nil {
			continue
		}
		switch rs.Type {
		case core.StepCalculation:
			if out["operation"] == "capacity_change" {
				recs = append(recs, capacityAdvice(out)...)
			} else if n, ok := toFloat(out["result"]); ok && out["operation"] == "count" && n > 0 {
				recs = append(recs, fmt.Sprintf("Review the %s affected records before committing capacity", formatNumber(n)))
			}
		case core.StepComparison:
			if r, ok := out["recommendation"].(string); ok && r != "" {
				recs = append(recs, r)
			}
		case core.StepValidation:
			if errs, ok := out["errors"].([]string); ok && len(errs) > 0 {
				recs = append(recs, "Resolve: "+strings.Join(errs, "; "))
			}
		}
	}

	if inKnowledge(ex, "maintenance") {
		recs = append(recs, "Check scheduled maintenance before changing the stand allocation")
	}
	if len(recs) == 0 {
		recs = append(recs, "Review the retrieved information with the capacity planning team")
	}

	confidence := math.Min(0.9, 0.5+0.1*float64(len(recs)))
	if ex.knowledge != nil && ex.knowledge.Degraded {
		confidence -= 0.1
	}
	out := map[string]any{
		"recommendations": recs,
		"rationale":       strings.Join(rationale, ". "),
		"confidence":      round2(confidence),
	}
	return out, fmt.Sprintf("Produced %d recommendations", len(recs)), nil
}

func capacityAdvice(out map[string]any) []string {
	delta, _ := toFloat(out["delta"])
	pct, hasPct := toFloat(out["percent_change"])
	switch {
	case out["new_value"] == nil:
		return []string{"Confirm the current stand count before evaluating the change"}
	case delta > 0 && hasPct && pct >= 10:
		return []string{"The change is a significant capacity gain; plan stand allocation and ground handling for the added stands"}
	case delta > 0:
		return []string{"The change is a modest capacity gain; weigh it against construction and operating cost"}
	case delta < 0:
		return []string{"Removing stands reduces capacity; verify peak-hour demand can still be served"}
	}
	return nil
}

func (e *Engine) factCheck(ctx context.Context, ex *execution, s core.Step) (any, string, error) {
	text, _ := s.Parameters["text"].(string)
	if src, ok := s.Parameters["source_step"].(string); ok && src != "" {
		out, found := ex.outputs[src]
		if !found {
			return nil, "", fmt.Errorf("source step %s has no output", src)
		}
		text = textOf(out)
	}
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("%w: nothing to fact-check", core.ErrInvalidParameters)
	}

	items := e.knowledgeItems(ctx, ex)
	vr := e.verifier.VerifyResponse(ctx, text, items, verify.Options{})

	checked := text
	if !vr.Verified && vr.CorrectedResponse != "" {
		checked = vr.CorrectedResponse
	}
	out := map[string]any{
		"verified":           vr.Verified,
		"statements":         vr.Statements,
		"corrected_response": vr.CorrectedResponse,
		"confidence":         vr.Confidence,
		"text":               checked,
	}
	accurate := 0
	for _, st := range vr.Statements {
		if st.Accurate {
			accurate++
		}
	}
	return out, fmt.Sprintf("%d of %d statements supported by %d knowledge items",
		accurate, len(vr.Statements), len(items)), nil
}

const genericSystemPrompt = `You are an airport capacity planning assistant.
Answer using only the provided context. If the context is not enough, say so briefly.`

func (e *Engine) generic(ctx context.Context, ex *execution, s core.Step) (any, string, error) {
	prompt, _ := s.Parameters["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		prompt = s.Description
	}

	var b strings.Builder
	b.WriteString(prompt)
	for _, dep := range s.DependsOn {
		if out, ok := ex.outputs[dep]; ok {
			fmt.Fprintf(&b, "\n\nResult of %s:\n%s", dep, truncate(stringify(out), 1200))
		}
	}
	if items := e.knowledgeItems(ctx, ex); len(items) > 0 {
		chunks := retrieval.ChunkItems(items, e.chunkItems, e.chunkTokens, e.counter)
		b.WriteString("\n\nKnowledge:\n")
		b.WriteString(retrieval.FormatChunk(chunks[0]))
	}

	resp, err := e.llm.ProcessQuery(ctx, b.String(), nil, genericSystemPrompt)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("generic step degraded")
		return map[string]any{"text": "", "degraded": true}, "Language model unavailable", nil
	}
	return map[string]any{"text": strings.TrimSpace(resp.Text)}, "Answered with the language model", nil
}

// knowledgeItems returns the items of the latest knowledge retrieval step,
// or the items stored for the query, followed by facts built from
// data retrieval records.
func (e *Engine) knowledgeItems(ctx context.Context, ex *execution) []core.KnowledgeItem {
	var items []core.KnowledgeItem
	switch {
	case ex.knowledge != nil:
		items = ex.knowledge.Items()
	case ex.query.SessionID != "":
		if rk := e.memory.GetRetrievedKnowledge(ctx, ex.query.SessionID, ex.query.ID); rk != nil {
			items = rk.Items
		}
	}

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		seen[item.Content] = struct{}{}
	}
	for _, rs := range ex.trace {
		if rs.Type != core.StepDataRetrieval || !rs.Success {
			continue
		}
		out, _ := ex.outputs[rs.StepID].(map[string]any)
		source, _ := out["data_source"].(string)
		for _, rec := range records(out) {
			fact := retrieval.FactFromRecord(source, rec, 1)
			if _, dup := seen[fact.Content]; dup {
				continue
			}
			seen[fact.Content] = struct{}{}
			items = append(items, fact)
		}
	}
	return items
}

// calcInputs collects numeric inputs: explicit values first, then dependency
// outputs, then retrieved facts.
func calcInputs(ex *execution, s core.Step, field string) []float64 {
	var values []float64
	switch raw := s.Parameters["values"].(type) {
	case []any:
		for _, v := range raw {
			val, _, ok := resolveRef(v, ex.outputs)
			if !ok {
				continue
			}
			if f, isNum := toFloat(val); isNum {
				values = append(values, f)
			} else {
				values = append(values, numbersFrom(val, "")...)
			}
		}
	case string:
		if val, _, ok := resolveRef(raw, ex.outputs); ok {
			values = append(values, numbersFrom(val, field)...)
		}
	}
	if len(values) > 0 {
		return values
	}

	for _, dep := range s.DependsOn {
		values = append(values, numbersFrom(ex.outputs[dep], field)...)
	}
	if len(values) > 0 || field == "" || ex.knowledge == nil {
		return values
	}
	for _, item := range ex.knowledge.Facts {
		if f, ok := toFloat(item.Data[field]); ok {
			values = append(values, f)
		}
	}
	return values
}

// numbersFrom extracts numbers from a step output: a field of each record,
// a top-level field, or extracted parameters.
func numbersFrom(v any, field string) []float64 {
	var out []float64
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if f, ok := toFloat(item); ok {
				out = append(out, f)
			} else if field != "" {
				out = append(out, numbersFrom(item, field)...)
			}
		}
		return out
	case []float64:
		return t
	case map[string]any:
		if field != "" {
			for _, rec := range records(t) {
				if f, ok := toFloat(rec[field]); ok {
					out = append(out, f)
				}
			}
			if len(out) > 0 {
				return out
			}
			if f, ok := toFloat(t[field]); ok {
				return []float64{f}
			}
			if params, ok := t["parameters"].(map[string]any); ok {
				if f, ok := toFloat(params[field]); ok {
					return []float64{f}
				}
			}
			return nil
		}
		if f, ok := toFloat(t["result"]); ok {
			return []float64{f}
		}
		if params, ok := t["parameters"].(map[string]any); ok {
			return numbersFrom(params["numbers"], "")
		}
	}
	return out
}

func records(out map[string]any) []map[string]any {
	switch recs := out["records"].(type) {
	case []map[string]any:
		return recs
	case []any:
		res := make([]map[string]any, 0, len(recs))
		for _, r := range recs {
			if m, ok := r.(map[string]any); ok {
				res = append(res, m)
			}
		}
		return res
	}
	return nil
}

// countRecords sums the record counts of dependency outputs, or -1 when no
// dependency produced records.
func countRecords(ex *execution, s core.Step) int {
	n, found := 0, false
	for _, dep := range s.DependsOn {
		out, ok := ex.outputs[dep].(map[string]any)
		if !ok {
			continue
		}
		if _, has := out["records"]; has {
			n += len(records(out))
			found = true
		}
	}
	if !found {
		return -1
	}
	return n
}

func numberParam(v any, outputs map[string]any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	val, _, ok := resolveRef(v, outputs)
	if !ok {
		return 0, false
	}
	return toFloat(val)
}

// latestParameter finds a numeric extracted parameter, newest step first.
func latestParameter(ex *execution, name string) (float64, bool) {
	for i := len(ex.trace) - 1; i >= 0; i-- {
		out, ok := ex.outputs[ex.trace[i].StepID].(map[string]any)
		if !ok {
			continue
		}
		if params, ok := out["parameters"].(map[string]any); ok {
			if f, ok := toFloat(params[name]); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func knowledgeNumber(ex *execution, field string) (float64, bool) {
	if ex.knowledge == nil {
		return 0, false
	}
	for _, item := range ex.knowledge.Facts {
		if f, ok := toFloat(item.Data[field]); ok {
			return f, true
		}
	}
	return 0, false
}

func inKnowledge(ex *execution, needle string) bool {
	if ex.knowledge == nil || strings.TrimSpace(needle) == "" {
		return false
	}
	needle = strings.ToLower(needle)
	for _, item := range ex.knowledge.Items() {
		if strings.Contains(strings.ToLower(item.Content), needle) {
			return true
		}
	}
	return false
}

// textOf picks the textual part of a step output.
func textOf(out any) string {
	m, ok := out.(map[string]any)
	if !ok {
		return stringify(out)
	}
	for _, k := range []string{"text", "answer", "corrected_response", "rationale"} {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if recs := toStrings(m["recommendations"]); len(recs) > 0 {
		return strings.Join(recs, "\n")
	}
	return stringify(out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
