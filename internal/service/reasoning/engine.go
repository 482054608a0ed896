package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/metrics"
	"github.com/sandevgo/capassist/internal/service/retrieval"
	"github.com/sandevgo/capassist/internal/service/verify"
	"github.com/sandevgo/capassist/pkg/log"
)

var tracer = otel.Tracer("github.com/sandevgo/capassist/internal/service/reasoning")

// Memory is the slice of working memory the engine reads and writes.
type Memory interface {
	StorePlan(ctx context.Context, session string, plan core.Plan) bool
	StoreStepResult(ctx context.Context, session, queryID string, r core.StepResult) bool
	GetStepResult(ctx context.Context, session, queryID, stepID string) *core.StepResult
	StoreFinalResult(ctx context.Context, session string, r core.FinalResult) bool
	StoreEntityMentions(ctx context.Context, session string, mentions ...core.EntityMention) bool
	GetRetrievedKnowledge(ctx context.Context, session, queryID string) *core.RetrievedKnowledge
	NowMillis() int64
}

type Retriever interface {
	RetrieveKnowledge(ctx context.Context, q core.Query, opts retrieval.Options) retrieval.Result
}

type Verifier interface {
	VerifyResponse(ctx context.Context, text string, items []core.KnowledgeItem, opts verify.Options) verify.Result
}

// Options are the per-query execution options. Nil pointers use the
// configured defaults.
type Options struct {
	SessionID string
	QueryID   string
	Intent    string
	Entities  map[string]string
	FollowUp  bool

	IncludeKnowledgeSteps *bool
	FactChecking          *bool
	RetrievalType         string
	MaxResults            int
	MinConfidence         *float64

	// Plan runs a caller-built plan instead of planning. It is still
	// validated and enhanced.
	Plan *core.Plan
	// Timeout bounds the whole execution. The deadline is checked between
	// steps and before synthesis.
	Timeout time.Duration
}

type Reasoning struct {
	Plan  *core.Plan           `json:"plan,omitempty"`
	Steps []core.ReasoningStep `json:"steps"`
}

type Result struct {
	Success               bool           `json:"success"`
	QueryID               string         `json:"query_id"`
	Answer                string         `json:"answer"`
	Confidence            float64        `json:"confidence"`
	Reasoning             Reasoning      `json:"reasoning"`
	Evidence              []string       `json:"evidence"`
	KnowledgeSources      []string       `json:"knowledge_sources"`
	FactChecked           bool           `json:"fact_checked"`
	Verification          *verify.Result `json:"verification,omitempty"`
	KnowledgeInsufficient bool           `json:"knowledge_insufficient,omitempty"`
	ExecutionTime         int64          `json:"execution_time"`

	Error                string     `json:"error,omitempty"`
	ErrorKind            string     `json:"error_kind,omitempty"`
	FailedStep           string     `json:"failed_step,omitempty"`
	SuggestedAlternative string     `json:"suggested_alternative,omitempty"`
	SuggestedPlan        *core.Plan `json:"suggested_plan,omitempty"`
}

type Engine struct {
	cfg       *config.ReasoningConfig
	llm       core.LLM
	memory    Memory
	retriever Retriever
	verifier  Verifier
	services  map[string]core.DataService
	planner   Planner
	metrics   *metrics.Metrics

	chunkItems  int
	chunkTokens int
	counter     retrieval.TokenCounter
}

type Option func(*Engine)

// WithPlanner replaces the template planner. LLM planning, when enabled,
// falls back to this planner.
func WithPlanner(p Planner) Option {
	return func(e *Engine) { e.planner = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithChunking sets the knowledge block limits of synthesis prompts.
func WithChunking(maxItems, maxTokens int, counter retrieval.TokenCounter) Option {
	return func(e *Engine) {
		e.chunkItems = maxItems
		e.chunkTokens = maxTokens
		if counter != nil {
			e.counter = counter
		}
	}
}

func NewEngine(
	cfg *config.ReasoningConfig,
	llm core.LLM,
	memory Memory,
	retriever Retriever,
	verifier Verifier,
	services []core.DataService,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:         cfg,
		llm:         llm,
		memory:      memory,
		retriever:   retriever,
		verifier:    verifier,
		services:    make(map[string]core.DataService, len(services)),
		chunkItems:  10,
		chunkTokens: 1500,
		counter:     retrieval.ApproxCounter{},
	}
	for _, svc := range services {
		e.services[svc.Name()] = svc
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.planner == nil {
		e.planner = NewTemplatePlanner(map[string]string{"terminal": "terminals", "stand": "stands"})
	}
	if cfg.LLMPlanning {
		e.planner = NewLLMPlanner(llm, e.planner, cfg.DataSources)
	}
	return e
}

// execution is the state of one plan run.
type execution struct {
	query     core.Query
	opts      Options
	plan      core.Plan
	factCheck bool

	outputs   map[string]any
	results   map[string]core.StepResult
	trace     []core.ReasoningStep
	knowledge *retrieval.Result
}

// ExecuteQuery plans, validates, executes and synthesizes an answer for
// text. Failures are reported in the result, never returned.
func (e *Engine) ExecuteQuery(ctx context.Context, text string, opts Options) Result {
	start := time.Now()

	queryID := opts.QueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}
	ctx = log.WithQuery(ctx, opts.SessionID, queryID)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "reasoning.execute_query",
		trace.WithAttributes(
			attribute.String("query_id", queryID),
			attribute.String("intent", opts.Intent),
		))
	defer span.End()

	q := core.Query{
		SessionID: opts.SessionID,
		ID:        queryID,
		Text:      text,
		Intent:    opts.Intent,
		Entities:  opts.Entities,
		Timestamp: e.memory.NowMillis(),
		FollowUp:  opts.FollowUp,
	}
	if len(q.Entities) == 0 {
		q.Entities = DeriveEntities(text)
	}

	res := e.run(ctx, q, opts)
	res.QueryID = queryID
	res.ExecutionTime = time.Since(start).Milliseconds()

	outcome := "success"
	if !res.Success {
		outcome = res.ErrorKind
		span.SetStatus(codes.Error, res.Error)
	}
	e.metrics.ObserveQuery(outcome, time.Since(start))
	span.SetAttributes(
		attribute.Bool("success", res.Success),
		attribute.Int("steps", len(res.Reasoning.Steps)),
		attribute.Bool("fact_checked", res.FactChecked),
	)

	logger := log.FromCtx(ctx)
	if res.Success {
		logger.Info().
			Int("steps", len(res.Reasoning.Steps)).
			Bool("fact_checked", res.FactChecked).
			Int64("duration_ms", res.ExecutionTime).
			Msg("Query executed")
	} else {
		logger.Warn().
			Str("error_kind", res.ErrorKind).
			Str("failed_step", res.FailedStep).
			Int64("duration_ms", res.ExecutionTime).
			Msg(res.Error)
	}
	return res
}

func (e *Engine) run(ctx context.Context, q core.Query, opts Options) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.FromCtx(ctx).Error().Interface("panic", r).Msg("reasoning panicked")
			res.Success = false
			res.Answer = ""
			res.Error = fmt.Sprintf("internal error: %v", r)
			res.ErrorKind = core.ErrorKind(core.ErrStep)
		}
	}()

	plan, err := e.buildPlan(ctx, q, opts)
	if err != nil {
		res = failure(err)
		var pe *PlanError
		if errors.As(err, &pe) {
			res.SuggestedAlternative = pe.SuggestedAlternative
			res.SuggestedPlan = pe.SuggestedPlan
		}
		return res
	}
	res.Reasoning.Plan = &plan

	if q.SessionID != "" {
		e.memory.StorePlan(ctx, q.SessionID, plan)
	}

	ex := &execution{
		query:     q,
		opts:      opts,
		plan:      plan,
		factCheck: e.cfg.FactChecking,
		outputs:   make(map[string]any, len(plan.Steps)),
		results:   make(map[string]core.StepResult, len(plan.Steps)),
	}
	if opts.FactChecking != nil {
		ex.factCheck = *opts.FactChecking
	}

	for _, s := range plan.Steps {
		if err := deadline(ctx, "before "+s.ID); err != nil {
			return e.abort(ex, res, err, s.ID)
		}
		if dep := e.unmetDependency(ctx, ex, s); dep != "" {
			err := fmt.Errorf("%w: %s requires %s", core.ErrDependencyFailed, s.ID, dep)
			return e.abort(ex, res, err, s.ID)
		}
		if err := e.runStep(ctx, ex, s); err != nil {
			if derr := deadline(ctx, "during "+s.ID); derr != nil {
				err = derr
			}
			return e.abort(ex, res, err, s.ID)
		}
	}

	if err := deadline(ctx, "before synthesis"); err != nil {
		return e.abort(ex, res, err, "")
	}

	syn := e.synthesize(ctx, ex)
	res.Success = true
	res.Answer = syn.answer
	res.Confidence = syn.confidence
	res.Reasoning.Steps = ex.trace
	res.Evidence = syn.evidence
	res.KnowledgeSources = syn.sources
	res.FactChecked = syn.factChecked
	res.Verification = syn.verification
	res.KnowledgeInsufficient = syn.insufficient

	if q.SessionID != "" {
		e.memory.StoreFinalResult(ctx, q.SessionID, core.FinalResult{
			QueryID:            q.ID,
			Answer:             res.Answer,
			Confidence:         res.Confidence,
			ReasoningProcess:   res.Reasoning.Steps,
			SupportingEvidence: res.Evidence,
			KnowledgeSources:   res.KnowledgeSources,
			FactChecked:        res.FactChecked,
		})
	}
	return res
}

// buildPlan produces the validated, enhanced plan in execution order.
// Step numbers are reassigned to match that order.
func (e *Engine) buildPlan(ctx context.Context, q core.Query, opts Options) (core.Plan, error) {
	var plan core.Plan
	if opts.Plan != nil {
		plan = clonePlan(*opts.Plan)
	} else {
		var err error
		plan, err = e.planner.Plan(ctx, q)
		if err != nil {
			return core.Plan{}, &PlanError{Reason: "planning failed: " + err.Error(), err: err}
		}
	}
	plan.QueryID = q.ID
	if plan.OriginalQuery == "" {
		plan.OriginalQuery = q.Text
	}
	if plan.Confidence == 0 {
		plan.Confidence = 0.7
	}

	if err := ValidatePlan(plan, e.cfg.MaxSteps); err != nil {
		return core.Plan{}, err
	}

	include := e.cfg.IncludeKnowledgeSteps
	if opts.IncludeKnowledgeSteps != nil {
		include = *opts.IncludeKnowledgeSteps
	}
	if include {
		params := map[string]any{"query": q.Text}
		if opts.RetrievalType != "" {
			params["strategy"] = opts.RetrievalType
		}
		maxResults := opts.MaxResults
		if maxResults <= 0 {
			maxResults = e.cfg.DefaultMaxResults
		}
		params["max_results"] = maxResults

		plan = EnhancePlan(plan, params)
		if err := ValidatePlan(plan, 0); err != nil {
			return core.Plan{}, err
		}
	}

	plan.Steps = executionOrder(plan)
	for i := range plan.Steps {
		plan.Steps[i].Number = i + 1
	}
	plan.TotalSteps = len(plan.Steps)

	log.FromCtx(ctx).Debug().Int("steps", plan.TotalSteps).Msg("Plan ready")
	return plan, nil
}

// unmetDependency returns the first dependency of s without a successful
// stored result.
func (e *Engine) unmetDependency(ctx context.Context, ex *execution, s core.Step) string {
	for _, dep := range s.DependsOn {
		if ex.query.SessionID != "" {
			if stored := e.memory.GetStepResult(ctx, ex.query.SessionID, ex.query.ID, dep); stored != nil {
				if !stored.Success {
					return dep
				}
				continue
			}
		}
		if r, ok := ex.results[dep]; !ok || !r.Success {
			return dep
		}
	}
	return ""
}

func (e *Engine) runStep(ctx context.Context, ex *execution, s core.Step) error {
	ctx, span := tracer.Start(ctx, "reasoning.step",
		trace.WithAttributes(
			attribute.String("step_id", s.ID),
			attribute.String("type", string(s.Type)),
		))
	defer span.End()

	logger := log.FromCtx(ctx).With().
		Str("step_id", s.ID).
		Str("type", string(s.Type)).
		Logger()

	r := core.StepResult{StepID: s.ID, StepNumber: s.Number, Type: s.Type, Status: core.StepPending}
	e.persist(ctx, ex, r)
	r.Status = core.StepRunning
	e.persist(ctx, ex, r)

	logger.Debug().Str("description", s.Description).Msg("Step started")
	start := time.Now()

	out, explanation, err := e.executeStep(ctx, ex, s)

	r.ExecutionTime = time.Since(start).Milliseconds()
	r.Result = out
	r.Explanation = explanation
	if err != nil {
		r.Status = core.StepFailed
		r.Error = err.Error()
	} else {
		r.Status = core.StepSuccess
		r.Success = true
		ex.outputs[s.ID] = out
	}
	ex.results[s.ID] = r
	ex.trace = append(ex.trace, core.ReasoningStep{
		StepID:      s.ID,
		StepNumber:  s.Number,
		Type:        s.Type,
		Description: s.Description,
		Explanation: explanation,
		Success:     r.Success,
	})
	e.persist(ctx, ex, r)
	e.metrics.ObserveStep(string(s.Type), string(r.Status))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Int64("duration_ms", r.ExecutionTime).Msg("Step failed")
		return fmt.Errorf("%w: %s: %w", core.ErrStep, s.ID, err)
	}
	logger.Info().Int64("duration_ms", r.ExecutionTime).Msg("Step completed")
	return nil
}

func (e *Engine) persist(ctx context.Context, ex *execution, r core.StepResult) {
	if ex.query.SessionID == "" {
		return
	}
	e.memory.StoreStepResult(ctx, ex.query.SessionID, ex.query.ID, r)
}

func (e *Engine) abort(ex *execution, res Result, err error, stepID string) Result {
	out := failure(err)
	out.Reasoning = res.Reasoning
	out.Reasoning.Steps = ex.trace
	out.FailedStep = stepID
	return out
}

func failure(err error) Result {
	return Result{
		Success:          false,
		Error:            err.Error(),
		ErrorKind:        core.ErrorKind(err),
		Evidence:         []string{},
		KnowledgeSources: []string{},
		Reasoning:        Reasoning{Steps: []core.ReasoningStep{}},
	}
}

func deadline(ctx context.Context, where string) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: deadline exceeded %s", core.ErrTimeout, where)
	default:
		return fmt.Errorf("%w: query cancelled %s", core.ErrTimeout, where)
	}
}

// DeriveEntities recognizes domain entities in text when the caller parsed
// none. Values keep the mention form ("Terminal A") used by data services.
func DeriveEntities(text string) map[string]string {
	out := map[string]string{}
	if m := terminalRe.FindStringSubmatch(text); m != nil {
		out["terminal"] = "Terminal " + strings.ToUpper(m[1])
	}
	if m := standRe.FindStringSubmatch(text); m != nil {
		out["stand"] = "Stand " + strings.ToUpper(m[1])
	}
	if m := periodRe.FindStringSubmatch(text); m != nil {
		out["time_period"] = strings.ToLower(m[1])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
