package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/metrics"
	"github.com/sandevgo/capassist/pkg/conv"
	"github.com/sandevgo/capassist/pkg/log"
	"github.com/sandevgo/capassist/pkg/retry"
)

const defaultRetries = 2

var errUnparseable = errors.New("unparseable verification reply")

// Verifier checks an answer statement by statement against grounded
// knowledge items.
type Verifier struct {
	llm     core.LLM
	retries int
	metrics *metrics.Metrics
}

type Option func(*Verifier)

func WithRetries(n int) Option {
	return func(v *Verifier) { v.retries = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier builds a verifier. A nil llm limits it to the local numeric
// check.
func NewVerifier(llm core.LLM, opts ...Option) *Verifier {
	v := &Verifier{llm: llm, retries: defaultRetries}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyResponse returns a verdict per statement of text. The response is
// verified only when every statement is SUPPORTED. A statement that some item
// contains verbatim is always SUPPORTED.
func (v *Verifier) VerifyResponse(ctx context.Context, text string, items []core.KnowledgeItem, opts Options) Result {
	logger := log.FromCtx(ctx)

	if strings.TrimSpace(text) == "" {
		return Result{Verified: true, Statements: []Statement{}, Confidence: 1, Method: MethodHeuristic}
	}

	var (
		statements []Statement
		method     = MethodHeuristic
	)

	if v.llm != nil && !opts.Heuristic && len(items) > 0 {
		st, err := v.verifyWithLLM(ctx, text, items, opts)
		if err != nil {
			logger.Warn().Err(err).Msg("llm verification failed, using local check")
		} else {
			statements, method = st, MethodLLM
		}
	}

	if statements == nil {
		for _, st := range splitStatements(text) {
			statements = append(statements, judge(st, items))
		}
	}

	res := finalize(text, statements, items)
	res.Method = method

	v.metrics.ObserveVerification(res.Verified)
	logger.Debug().
		Bool("verified", res.Verified).
		Int("statements", len(res.Statements)).
		Str("method", method).
		Msg("response verified")

	return res
}

func (v *Verifier) verifyWithLLM(ctx context.Context, text string, items []core.KnowledgeItem, opts Options) ([]Statement, error) {
	retries := v.retries
	if opts.Retries > 0 {
		retries = opts.Retries
	}

	prompt := buildPrompt(text, items)
	var statements []Statement

	err := retry.NewRetrier(retry.NewBudgetConfig(retries)).Do(ctx, func() error {
		completion, err := v.llm.ProcessQuery(ctx, prompt, nil, systemPrompt)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrUpstream, err)
		}
		statements, err = parseVerdict(completion.Text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return statements, nil
}

func parseVerdict(reply string) ([]Statement, error) {
	raw := conv.ExtractJSONObject(reply)
	if raw == "" {
		return nil, errUnparseable
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseable, err)
	}

	out := make([]Statement, 0, len(verdict.Statements))
	for _, s := range verdict.Statements {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		out = append(out, Statement{
			Text:                strings.TrimSpace(s.Text),
			LineNumber:          s.LineNumber,
			Status:              parseStatus(strings.ToUpper(strings.TrimSpace(s.Status))),
			SuggestedCorrection: strings.TrimSpace(s.SuggestedCorrection),
		})
	}
	// Callers only send non-blank text, so an empty verdict judged nothing.
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no statements", errUnparseable)
	}
	return out, nil
}

// finalize applies the literal-containment guard, derives accuracy and
// confidence and builds the corrected response.
func finalize(text string, statements []Statement, items []core.KnowledgeItem) Result {
	sort.SliceStable(statements, func(i, j int) bool {
		return statements[i].LineNumber < statements[j].LineNumber
	})

	accurate := 0
	for i := range statements {
		st := &statements[i]
		if literallySupported(st.Text, items) {
			st.Status = StatusSupported
		}
		st.Accurate = st.Status == StatusSupported
		if st.Accurate {
			st.SuggestedCorrection = ""
			accurate++
		}
	}

	res := Result{
		Verified:   accurate == len(statements),
		Statements: statements,
		Confidence: 1,
	}
	if len(statements) > 0 {
		res.Confidence = float64(accurate) / float64(len(statements))
	}
	if !res.Verified {
		if corrected, changed := applyCorrections(text, statements); changed {
			res.CorrectedResponse = corrected
		}
	}
	return res
}

// applyCorrections substitutes suggested corrections inline. A statement
// not found verbatim is looked up on its reported line only.
func applyCorrections(text string, statements []Statement) (string, bool) {
	changed := false
	for _, st := range statements {
		if st.SuggestedCorrection == "" || st.SuggestedCorrection == st.Text {
			continue
		}
		if strings.Contains(text, st.Text) {
			text = strings.Replace(text, st.Text, st.SuggestedCorrection, 1)
			changed = true
			continue
		}

		lines := strings.Split(text, "\n")
		if st.LineNumber < 1 || st.LineNumber > len(lines) {
			continue
		}
		line := lines[st.LineNumber-1]
		idx := strings.Index(strings.ToLower(line), strings.ToLower(st.Text))
		if idx < 0 {
			continue
		}
		lines[st.LineNumber-1] = line[:idx] + st.SuggestedCorrection + line[idx+len(st.Text):]
		text = strings.Join(lines, "\n")
		changed = true
	}
	return text, changed
}
