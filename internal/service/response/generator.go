package response

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
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
	"github.com/sandevgo/capassist/internal/service/memory"
	"github.com/sandevgo/capassist/internal/service/reasoning"
	"github.com/sandevgo/capassist/pkg/log"
)

var tracer = otel.Tracer("github.com/sandevgo/capassist/internal/service/response")

// Error template kinds.
const (
	ErrNotFound          = "not_found"
	ErrAccessDenied      = "access_denied"
	ErrInvalidParameters = "invalid_parameters"
	ErrServer            = "server_error"
	ErrTimeout           = "timeout"
	ErrGeneric           = "generic"
)

// Response paths.
const (
	PathError     = "error"
	PathReasoning = "reasoning"
	PathTemplate  = "template"
	PathLLM       = "llm"
	PathFallback  = "fallback"
)

// Memory is the slice of working memory the generator reads and writes.
type Memory interface {
	GetKnowledgeRetrievalContext(ctx context.Context, session, queryID string, opts memory.RetrievalContextOptions) memory.RetrievalContext
	StoreFinalResult(ctx context.Context, session string, r core.FinalResult) bool
	AddPreviousQuery(ctx context.Context, session string, q core.PreviousQuery) bool
	StoreEntityMentions(ctx context.Context, session string, mentions ...core.EntityMention) bool
	NowMillis() int64
}

type Reasoner interface {
	ExecuteQuery(ctx context.Context, text string, opts reasoning.Options) reasoning.Result
}

// Options are the per-request options. Empty values and nil pointers use
// the configured defaults.
type Options struct {
	SessionID string
	QueryID   string

	Format string
	Detail string
	Tone   string

	UseReasoning          *bool
	UseLLM                *bool
	IncludeVisualizations *bool
	EnablePersonalization *bool
	FactChecking          *bool
	IncludeKnowledgeSteps *bool

	RetrievalType string
	MaxResults    int
	MinConfidence *float64

	EntityLimit  int
	HistoryLimit int

	Timeout time.Duration
}

type Request struct {
	Intent   string
	Entities map[string]string
	Data     map[string]any
	Query    string
	// Err routes the request to the error templates.
	Err     error
	Options Options
}

type Visualization struct {
	Type        string                `json:"type"`
	Title       string                `json:"title"`
	Data        map[string]float64    `json:"data"`
	Description core.ChartDescription `json:"description"`
}

type Response struct {
	Text             string                 `json:"text"`
	Speech           string                 `json:"speech,omitempty"`
	Visualizations   []Visualization        `json:"visualizations"`
	SuggestedActions []core.SuggestedAction `json:"suggested_actions"`
	Reasoning        *reasoning.Result      `json:"reasoning,omitempty"`
	RequestID        string                 `json:"request_id"`
	ProcessingTime   int64                  `json:"processing_time"`
	Path             string                 `json:"path"`
	Error            string                 `json:"error,omitempty"`
}

type Generator struct {
	cfg      *config.ResponseConfig
	llm      core.LLM
	memory   Memory
	reasoner Reasoner
	catalog  *Catalog
	metrics  *metrics.Metrics

	indicators *regexp.Regexp
}

type Option func(*Generator)

// WithReasoner enables the reasoning path.
func WithReasoner(r Reasoner) Option {
	return func(g *Generator) { g.reasoner = r }
}

func WithCatalog(c *Catalog) Option {
	return func(g *Generator) { g.catalog = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// NewGenerator builds a generator. llm and mem may be nil; the LLM and
// personalization paths are then skipped.
func NewGenerator(cfg *config.ResponseConfig, llm core.LLM, mem Memory, opts ...Option) (*Generator, error) {
	g := &Generator{cfg: cfg, llm: llm, memory: mem}
	for _, opt := range opts {
		opt(g)
	}
	if g.catalog == nil {
		c, err := LoadCatalog(cfg.TemplatesFile)
		if err != nil {
			return nil, fmt.Errorf("load response templates: %w", err)
		}
		g.catalog = c
	}

	var words []string
	for _, ind := range cfg.ComplexityIndicators {
		if ind = strings.TrimSpace(strings.ToLower(ind)); ind != "" {
			words = append(words, regexp.QuoteMeta(ind))
		}
	}
	if len(words) > 0 {
		g.indicators = regexp.MustCompile(`\b(?:` + strings.Join(words, "|") + `)\b`)
	}
	return g, nil
}

// routed is the unformatted outcome of a path.
type routed struct {
	text      string
	path      string
	reasoning *reasoning.Result
	actions   []core.SuggestedAction
	err       string
}

// GenerateResponse answers req by the error, reasoning, template or LLM
// path, in that order of preference. It never returns an error; failures
// produce the fallback text of the intent.
func (g *Generator) GenerateResponse(ctx context.Context, req Request) (resp Response) {
	start := time.Now()

	requestID := req.Options.QueryID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Options.QueryID = requestID
	ctx = log.WithQuery(ctx, req.Options.SessionID, requestID)
	logger := log.FromCtx(ctx)

	if req.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Options.Timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "response.generate",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.String("intent", req.Intent),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("response generation panicked")
			span.SetStatus(codes.Error, "panic")
			resp = Response{
				Text:             g.catalog.Fallback(req.Intent),
				Visualizations:   []Visualization{},
				SuggestedActions: suggestedActions(req.Intent, nil),
				RequestID:        requestID,
				ProcessingTime:   time.Since(start).Milliseconds(),
				Path:             PathFallback,
				Error:            fmt.Sprintf("response generation failed: %v", r),
			}
			g.metrics.ObserveResponse(PathFallback)
		}
	}()

	o := g.resolve(req.Options)
	out := g.route(ctx, req, o)

	resp = Response{
		Visualizations:   []Visualization{},
		SuggestedActions: suggestedActions(req.Intent, out.actions),
		Reasoning:        out.reasoning,
		RequestID:        requestID,
		Path:             out.path,
		Error:            out.err,
	}

	format, ok := ParseFormat(o.Format)
	if !ok {
		logger.Warn().Str("format", o.Format).Msg("unknown response format, using text")
		format = FormatText
	}
	if format == FormatSpeech {
		resp.Text = Render(out.text, FormatText)
		resp.Speech = Speech(out.text)
	} else {
		resp.Text = Render(out.text, format)
	}

	if out.path != PathError && out.path != PathFallback {
		if *o.IncludeVisualizations {
			resp.Visualizations = g.visualizations(ctx, req, o)
		}
		g.record(ctx, req, out, time.Since(start))
	}

	resp.ProcessingTime = time.Since(start).Milliseconds()
	g.metrics.ObserveResponse(out.path)

	span.SetAttributes(attribute.String("path", out.path))
	if out.err != "" {
		span.SetStatus(codes.Error, out.err)
	}

	logger.Info().
		Str("intent", req.Intent).
		Str("path", out.path).
		Int64("duration_ms", resp.ProcessingTime).
		Msg("Response generated")

	return resp
}

// resolve applies the configured defaults to o. Every pointer of the
// result is set.
func (g *Generator) resolve(o Options) Options {
	if o.Format == "" {
		o.Format = g.cfg.DefaultFormat
	}
	if o.Detail == "" {
		o.Detail = g.cfg.DefaultDetail
	}
	if o.Tone == "" {
		o.Tone = g.cfg.DefaultTone
	}
	if o.EntityLimit <= 0 {
		o.EntityLimit = g.cfg.EntityLimit
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = memory.DefaultRetrievalContextOptions().HistoryLimit
	}
	o.UseLLM = orDefault(o.UseLLM, g.cfg.UseLLM)
	o.EnablePersonalization = orDefault(o.EnablePersonalization, g.cfg.Personalization)
	o.IncludeVisualizations = orDefault(o.IncludeVisualizations, g.cfg.IncludeVisualizations)
	return o
}

func orDefault(p *bool, def bool) *bool {
	if p != nil {
		return p
	}
	return &def
}

func (g *Generator) route(ctx context.Context, req Request, o Options) routed {
	logger := log.FromCtx(ctx)

	if req.Err != nil {
		return g.errorPath(req, req.Err)
	}

	if g.reasoningWarranted(req, o) {
		out, err := g.reasoningPath(ctx, req, o)
		if err == nil {
			return out
		}
		if errors.Is(err, core.ErrTimeout) {
			return g.errorPath(req, err)
		}
		logger.Warn().Err(err).Msg("reasoning failed, falling back")
	}

	p := g.personalize(ctx, req, o)

	if out, ok := g.templatePath(ctx, req, o, p); ok {
		return out
	}
	return g.llmPath(ctx, req, o, p)
}

// reasoningWarranted honours an explicit use_reasoning option, else checks
// the intent against the complex intents and the query text against the
// complexity indicators.
func (g *Generator) reasoningWarranted(req Request, o Options) bool {
	if g.reasoner == nil {
		return false
	}
	if o.UseReasoning != nil {
		return *o.UseReasoning
	}
	if slices.Contains(g.cfg.ComplexIntents, req.Intent) {
		return true
	}
	return g.indicators != nil && g.indicators.MatchString(strings.ToLower(req.Query))
}

// errorKind maps err to an error template kind.
func errorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, core.ErrAccessDenied):
		return ErrAccessDenied
	case errors.Is(err, core.ErrInvalidParameters), errors.Is(err, core.ErrInvalidPlan):
		return ErrInvalidParameters
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, core.ErrUpstream), errors.Is(err, core.ErrSerialization):
		return ErrServer
	default:
		return ErrGeneric
	}
}

func (g *Generator) errorPath(req Request, err error) routed {
	params := map[string]string{"entities": entitySummary(req.Entities, "that")}
	text, _ := fill(g.catalog.ErrorTemplate(errorKind(err)), params)
	return routed{text: strip(text), path: PathError, err: err.Error()}
}

// record writes the final result, the previous query and the request
// entities to working memory.
func (g *Generator) record(ctx context.Context, req Request, out routed, elapsed time.Duration) {
	session := req.Options.SessionID
	if g.memory == nil || session == "" {
		return
	}
	queryID := req.Options.QueryID

	final := core.FinalResult{
		QueryID:            queryID,
		Answer:             out.text,
		Confidence:         1,
		ReasoningProcess:   []core.ReasoningStep{},
		SupportingEvidence: []string{},
		KnowledgeSources:   []string{},
		ExecutionTime:      elapsed.Milliseconds(),
	}
	if r := out.reasoning; r != nil {
		final.Confidence = r.Confidence
		final.ReasoningProcess = r.Reasoning.Steps
		final.SupportingEvidence = r.Evidence
		final.KnowledgeSources = r.KnowledgeSources
		final.FactChecked = r.FactChecked
	}
	g.memory.StoreFinalResult(ctx, session, final)

	if strings.TrimSpace(req.Query) != "" {
		g.memory.AddPreviousQuery(ctx, session, core.PreviousQuery{
			QueryID:   queryID,
			Text:      req.Query,
			Intent:    req.Intent,
			Timestamp: g.memory.NowMillis(),
		})
	}

	var mentions []core.EntityMention
	for _, typ := range sortedKeys(req.Entities) {
		if v := strings.TrimSpace(req.Entities[typ]); v != "" {
			mentions = append(mentions, core.EntityMention{Type: typ, Value: v, Confidence: 1, QueryID: queryID})
		}
	}
	g.memory.StoreEntityMentions(ctx, session, mentions...)
}
