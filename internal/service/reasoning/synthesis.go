package reasoning

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/service/retrieval"
	"github.com/sandevgo/capassist/internal/service/verify"
	"github.com/sandevgo/capassist/pkg/log"
)

const (
	groundedSystemPrompt = `You are an airport capacity planning assistant.
Answer the question using ONLY the numbered knowledge and the analysis results provided.
Do not use outside knowledge. Quote numbers exactly as they appear in the knowledge.
If the knowledge does not answer the question, say what is missing.
Keep the answer short: one fact per line.`

	standardSystemPrompt = `You are an airport capacity planning assistant.
Write a short answer to the question from the analysis results provided.
Do not invent numbers that are not in the results.`

	maxEvidence = 5
)

type synthesis struct {
	answer       string
	confidence   float64
	factChecked  bool
	verification *verify.Result
	insufficient bool
	evidence     []string
	sources      []string
}

// synthesize prefers the knowledge-grounded path when a knowledge retrieval
// step ran and falls back to the standard path when it fails.
func (e *Engine) synthesize(ctx context.Context, ex *execution) synthesis {
	if ex.knowledge != nil {
		syn, err := e.grounded(ctx, ex)
		if err == nil {
			return syn
		}
		log.FromCtx(ctx).Warn().Err(err).Str("path", "standard").Msg("grounded synthesis failed")
	}
	return e.standard(ctx, ex)
}

func (e *Engine) grounded(ctx context.Context, ex *execution) (synthesis, error) {
	items := e.knowledgeItems(ctx, ex)
	syn := synthesis{
		sources:  sources(ex),
		evidence: evidence(items),
	}

	if ins := retrieval.CheckKnowledge(ex.query, items); ins.Insufficient() {
		log.FromCtx(ctx).Info().Str("reason", ins.Reason).Msg("knowledge insufficient, answering with limitations")
		syn.answer = limitationAnswer(ins)
		syn.confidence = 0.2
		syn.insufficient = true
		return syn, nil
	}

	chunks := retrieval.ChunkItems(items, e.chunkItems, e.chunkTokens, e.counter)
	if len(chunks) == 0 {
		return synthesis{}, errors.New("no knowledge fits the prompt")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nKnowledge:\n%s\n\nAnalysis:\n%s",
		ex.query.Text, retrieval.FormatChunk(chunks[0]), stepSummary(ex))

	resp, err := e.llm.ProcessQuery(ctx, b.String(), nil, groundedSystemPrompt)
	if err != nil {
		return synthesis{}, fmt.Errorf("%w: %w", core.ErrUpstream, err)
	}
	syn.answer = strings.TrimSpace(resp.Text)
	if syn.answer == "" {
		return synthesis{}, fmt.Errorf("%w: empty answer", core.ErrUpstream)
	}
	syn.confidence = ex.plan.Confidence

	if ex.factCheck {
		e.check(ctx, &syn, items)
	}
	return syn, nil
}

func (e *Engine) standard(ctx context.Context, ex *execution) synthesis {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nAnalysis:\n%s", ex.query.Text, stepSummary(ex))

	syn := synthesis{confidence: ex.plan.Confidence, evidence: []string{}, sources: sources(ex)}

	resp, err := e.llm.ProcessQuery(ctx, b.String(), nil, standardSystemPrompt)
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		log.FromCtx(ctx).Warn().Err(err).Str("path", "summary").Msg("standard synthesis failed, summarizing steps")
		syn.answer = summarizeSteps(ex)
		syn.confidence = round2(ex.plan.Confidence * 0.8)
		return syn
	}
	syn.answer = strings.TrimSpace(resp.Text)

	if items := e.knowledgeItems(ctx, ex); ex.factCheck && len(items) > 0 {
		syn.evidence = evidence(items)
		e.check(ctx, &syn, items)
	}
	return syn
}

// check fact-checks the answer and substitutes the corrected response when
// verification fails.
func (e *Engine) check(ctx context.Context, syn *synthesis, items []core.KnowledgeItem) {
	vr := e.verifier.VerifyResponse(ctx, syn.answer, items, verify.Options{})
	syn.factChecked = true
	syn.verification = &vr
	if !vr.Verified && vr.CorrectedResponse != "" {
		log.FromCtx(ctx).Info().Msg("answer corrected by fact check")
		syn.answer = vr.CorrectedResponse
	}
	syn.confidence = round2((syn.confidence + vr.Confidence) / 2)
}

// limitationAnswer states what is missing without quoting any figures.
func limitationAnswer(ins retrieval.Insufficiency) string {
	var b strings.Builder
	b.WriteString("I don't have enough verified information to answer this reliably.")
	switch {
	case len(ins.Missing) > 0:
		fmt.Fprintf(&b, " I could not find %s in the available capacity data.", strings.Join(ins.Missing, " or "))
	case ins.Reason == "factual query without facts":
		b.WriteString(" The available sources only hold general background, not the specific facts you asked for.")
	default:
		b.WriteString(" None of the connected sources returned relevant information.")
	}
	b.WriteString(" Please check the name or ask about a terminal, stand or flight that exists in the system.")
	return b.String()
}

func stepSummary(ex *execution) string {
	var b strings.Builder
	for _, rs := range ex.trace {
		if rs.Type == core.StepKnowledgeRetrieval {
			continue
		}
		fmt.Fprintf(&b, "Step %d (%s): %s\n", rs.StepNumber, rs.Type, rs.Description)
		if rs.Explanation != "" {
			fmt.Fprintf(&b, "  Result: %s\n", rs.Explanation)
		}
		if out, ok := ex.outputs[rs.StepID]; ok {
			fmt.Fprintf(&b, "  Output: %s\n", truncate(stringify(out), 800))
		}
	}
	return b.String()
}

func summarizeSteps(ex *execution) string {
	var lines []string
	for _, rs := range ex.trace {
		if rs.Explanation != "" {
			lines = append(lines, "- "+rs.Explanation)
		}
	}
	for _, rs := range ex.trace {
		if rs.Type != core.StepRecommendation {
			continue
		}
		out, _ := ex.outputs[rs.StepID].(map[string]any)
		for _, r := range toStrings(out["recommendations"]) {
			lines = append(lines, "- "+r)
		}
	}
	if len(lines) == 0 {
		return "I could not produce an answer from the analysis."
	}
	return "Based on the analysis:\n" + strings.Join(lines, "\n")
}

func evidence(items []core.KnowledgeItem) []string {
	out := make([]string, 0, maxEvidence)
	for _, item := range items {
		if len(out) == maxEvidence {
			break
		}
		if item.Content != "" {
			out = append(out, item.Content)
		}
	}
	return out
}

// sources lists the knowledge sources and the data sources that returned
// records, in first-use order.
func sources(ex *execution) []string {
	out := []string{}
	if ex.knowledge != nil {
		out = append(out, ex.knowledge.Sources...)
	}
	for _, rs := range ex.trace {
		if rs.Type != core.StepDataRetrieval || !rs.Success {
			continue
		}
		res, _ := ex.outputs[rs.StepID].(map[string]any)
		src, _ := res["data_source"].(string)
		if src != "" && len(records(res)) > 0 && !slices.Contains(out, src) {
			out = append(out, src)
		}
	}
	return out
}
