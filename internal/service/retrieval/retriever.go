package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/metrics"
	"github.com/sandevgo/capassist/pkg/log"
)

const (
	vectorSource    = "vector"
	maxParallelism  = 8
	historyLookback = 5
)

var tracer = otel.Tracer("github.com/sandevgo/capassist/internal/service/retrieval")

// Memory is the slice of working memory the retriever writes to.
type Memory interface {
	StoreRetrievedKnowledge(ctx context.Context, session, queryID string, rk core.RetrievedKnowledge) bool
	AddRetrievalEvent(ctx context.Context, session string, ev core.RetrievalEvent) bool
	GetRetrievalHistory(ctx context.Context, session string, limit int) []core.RetrievalEvent
	StoreRetrievalContext(ctx context.Context, session string, q core.Query) bool
	NowMillis() int64
}

type Options struct {
	// Strategy forces a strategy instead of selecting one.
	Strategy   Strategy
	MaxResults int
	// MinConfidence overrides the configured floor when set. A zero value
	// disables the floor.
	MinConfidence *float64
}

type Result struct {
	Facts      []core.KnowledgeItem `json:"facts"`
	Contextual []core.KnowledgeItem `json:"contextual"`
	Sources    []string             `json:"sources"`
	Strategy   Strategy             `json:"strategy"`
	Degraded   bool                 `json:"degraded,omitempty"`
	// ItemCount is the number of items that passed the confidence floor,
	// before the result cap.
	ItemCount int `json:"item_count"`
}

// Items returns facts followed by contextual items.
func (r Result) Items() []core.KnowledgeItem {
	out := make([]core.KnowledgeItem, 0, len(r.Facts)+len(r.Contextual))
	out = append(out, r.Facts...)
	return append(out, r.Contextual...)
}

type Retriever struct {
	cfg            *config.RetrievalConfig
	memory         Memory
	services       map[string]core.DataService
	vector         core.VectorSearch
	metrics        *metrics.Metrics
	entityServices map[string]string
	relations      map[string]string
	priority       map[string]int
}

type Option func(*Retriever)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retriever) { r.metrics = m }
}

// NewRetriever wires the retriever to its sources. vector may be nil, in
// which case vector retrieval yields nothing.
func NewRetriever(cfg *config.RetrievalConfig, memory Memory, services []core.DataService, vector core.VectorSearch, opts ...Option) *Retriever {
	r := &Retriever{
		cfg:            cfg,
		memory:         memory,
		services:       make(map[string]core.DataService, len(services)),
		vector:         vector,
		entityServices: cfg.EntityServices(),
		relations:      cfg.Relations(),
		priority:       map[string]int{},
	}
	for _, svc := range services {
		r.services[svc.Name()] = svc
	}
	for i, pair := range cfg.EntityServiceTypes {
		if _, svc, ok := strings.Cut(pair, ":"); ok {
			if _, seen := r.priority[svc]; !seen {
				r.priority[svc] = i
			}
		}
	}
	r.priority[vectorSource] = len(cfg.EntityServiceTypes) + 1
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type task struct {
	source string
	run    func(ctx context.Context) ([]core.KnowledgeItem, error)
}

type slot struct {
	items []core.KnowledgeItem
	err   error
}

// RetrieveKnowledge selects a strategy, fans out to the sources with a
// per-source timeout and stores the ranked result for the session. Source
// failures degrade the result instead of failing it.
func (r *Retriever) RetrieveKnowledge(ctx context.Context, q core.Query, opts Options) Result {
	var history []core.RetrievalEvent
	if q.SessionID != "" {
		history = r.memory.GetRetrievalHistory(ctx, q.SessionID, historyLookback)
		r.memory.StoreRetrievalContext(ctx, q.SessionID, q)
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = r.SelectStrategy(q, history)
	}

	ctx, span := tracer.Start(ctx, "retrieval.retrieve",
		trace.WithAttributes(
			attribute.String("query_id", q.ID),
			attribute.String("intent", q.Intent),
			attribute.String("strategy", string(strategy)),
		))
	defer span.End()

	logger := log.FromCtx(ctx).With().
		Str("query_id", q.ID).
		Str("strategy", string(strategy)).
		Logger()

	tasks := r.plan(q, strategy, opts)
	slots := make([]slot, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelism)
	for i, t := range tasks {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, r.cfg.SourceTimeout)
			defer cancel()

			items, err := t.run(sctx)
			if err == nil && sctx.Err() != nil {
				err = sctx.Err()
			}
			slots[i] = slot{items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		merged   []core.KnowledgeItem
		sources  []string
		degraded bool
	)
	for i, s := range slots {
		src := tasks[i].source
		if s.err != nil && !errors.Is(s.err, core.ErrNotFound) {
			degraded = true
			logger.Warn().Err(s.err).Str("source", src).Msg("knowledge source failed")
			span.AddEvent("source_failed", trace.WithAttributes(
				attribute.String("source", src),
				attribute.String("error", s.err.Error()),
			))
			continue
		}
		if len(s.items) > 0 && !slices.Contains(sources, src) {
			sources = append(sources, src)
		}
		merged = append(merged, s.items...)
	}

	minConf := r.cfg.MinConfidence
	if opts.MinConfidence != nil {
		minConf = *opts.MinConfidence
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResults
	}

	ranked := r.rank(filterConfidence(merged, minConf))
	itemCount := len(ranked)
	if maxResults > 0 && len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}

	res := Result{
		Facts:      []core.KnowledgeItem{},
		Contextual: []core.KnowledgeItem{},
		Sources:    sources,
		Strategy:   strategy,
		Degraded:   degraded,
		ItemCount:  itemCount,
	}
	if res.Sources == nil {
		res.Sources = []string{}
	}
	for _, item := range ranked {
		if item.Type == core.KnowledgeFact {
			res.Facts = append(res.Facts, item)
		} else {
			res.Contextual = append(res.Contextual, item)
		}
	}

	if q.SessionID != "" {
		r.memory.StoreRetrievedKnowledge(ctx, q.SessionID, q.ID, core.RetrievedKnowledge{
			Items: ranked,
			Metadata: core.RetrievalMetadata{
				Strategy:  string(strategy),
				Sources:   res.Sources,
				ItemCount: itemCount,
				Degraded:  degraded,
			},
		})
		r.memory.AddRetrievalEvent(ctx, q.SessionID, core.RetrievalEvent{
			QueryID:   q.ID,
			Strategy:  string(strategy),
			Sources:   res.Sources,
			Timestamp: r.memory.NowMillis(),
		})
	}

	r.metrics.ObserveRetrieval(string(strategy), degraded)
	span.SetAttributes(
		attribute.Int("facts", len(res.Facts)),
		attribute.Int("contextual", len(res.Contextual)),
		attribute.Bool("degraded", degraded),
	)
	if degraded {
		span.SetStatus(codes.Error, "degraded")
	}
	logger.Debug().
		Int("facts", len(res.Facts)).
		Int("contextual", len(res.Contextual)).
		Bool("degraded", degraded).
		Msg("knowledge retrieved")

	return res
}

func (r *Retriever) plan(q core.Query, strategy Strategy, opts Options) []task {
	var tasks []task

	if strategy == StrategyStructured || strategy == StrategyCombined {
		for _, e := range r.domainEntities(q) {
			tasks = append(tasks, task{
				source: e.Service,
				run: func(ctx context.Context) ([]core.KnowledgeItem, error) {
					return r.structured(ctx, e)
				},
			})
		}
	}

	if strategy == StrategyVector || strategy == StrategyCombined {
		// over-fetch so the confidence floor is applied before the cap
		k := max(opts.MaxResults, r.cfg.MaxResults)
		tasks = append(tasks, task{
			source: vectorSource,
			run: func(ctx context.Context) ([]core.KnowledgeItem, error) {
				return r.similar(ctx, q.Text, k)
			},
		})
	}
	return tasks
}

// structured resolves one entity: by id, then by name filter, then pulls
// its configured relation.
func (r *Retriever) structured(ctx context.Context, e entityRef) ([]core.KnowledgeItem, error) {
	svc, ok := r.services[e.Service]
	if !ok {
		return nil, fmt.Errorf("%w: data service %q", core.ErrUnsupported, e.Service)
	}

	var records []core.Record
	rec, err := svc.GetByID(ctx, e.Value)
	switch {
	case err == nil && rec != nil:
		records = append(records, rec)
	case err == nil, errors.Is(err, core.ErrNotFound):
		records, err = svc.ListWithFilter(ctx, map[string]any{"name": e.Value}, r.cfg.MaxResults)
		if err != nil {
			return nil, fmt.Errorf("%s list: %w", e.Service, err)
		}
	default:
		return nil, fmt.Errorf("%s get %s: %w", e.Service, e.Value, err)
	}

	items := make([]core.KnowledgeItem, 0, len(records))
	for _, rec := range records {
		items = append(items, FactFromRecord(e.Service, rec, 1))
	}

	relation, ok := r.relations[e.Type]
	if !ok || len(records) == 0 {
		return items, nil
	}
	id := fmt.Sprint(records[0]["id"])
	related, err := svc.GetRelated(ctx, id, relation)
	if err != nil && !errors.Is(err, core.ErrUnsupported) {
		return items, fmt.Errorf("%s related %s: %w", e.Service, relation, err)
	}
	for _, rec := range related {
		items = append(items, FactFromRecord(relation, rec, r.cfg.RelatedConfidence))
	}
	return items, nil
}

func (r *Retriever) similar(ctx context.Context, text string, k int) ([]core.KnowledgeItem, error) {
	if r.vector == nil {
		return nil, nil
	}
	hits, err := r.vector.SearchSimilar(ctx, text, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	items := make([]core.KnowledgeItem, 0, len(hits))
	for _, h := range hits {
		src := h.Source
		if src == "" {
			src = vectorSource
		}
		items = append(items, core.KnowledgeItem{
			Type:       core.KnowledgeContextual,
			Content:    h.Content,
			Data:       h.Metadata,
			Source:     src,
			Similarity: h.Score,
		})
	}
	return items, nil
}

// FactFromRecord turns a record into a fact. A "summary" field becomes the
// content; otherwise the fields are rendered in key order.
func FactFromRecord(source string, rec core.Record, confidence float64) core.KnowledgeItem {
	content := ""
	if s, ok := rec["summary"].(string); ok && s != "" {
		content = s
	} else {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, rec[k]))
		}
		content = source + ": " + strings.Join(parts, ", ")
	}
	return core.KnowledgeItem{
		Type:       core.KnowledgeFact,
		Content:    content,
		Data:       rec,
		Source:     source,
		Confidence: confidence,
	}
}

func filterConfidence(items []core.KnowledgeItem, floor float64) []core.KnowledgeItem {
	if floor <= 0 {
		return items
	}
	out := items[:0:0]
	for _, item := range items {
		if item.Score() >= floor {
			out = append(out, item)
		}
	}
	return out
}

// rank orders facts before contextual items, then by descending score, then
// by source priority. The sort is stable so insertion order breaks the
// remaining ties.
func (r *Retriever) rank(items []core.KnowledgeItem) []core.KnowledgeItem {
	out := make([]core.KnowledgeItem, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Type == core.KnowledgeFact) != (b.Type == core.KnowledgeFact) {
			return a.Type == core.KnowledgeFact
		}
		if a.Score() != b.Score() {
			return a.Score() > b.Score()
		}
		return r.sourcePriority(a.Source) < r.sourcePriority(b.Source)
	})
	return out
}

func (r *Retriever) sourcePriority(source string) int {
	if p, ok := r.priority[source]; ok {
		return p
	}
	// unknown structured sources sit between configured ones and vector
	return len(r.cfg.EntityServiceTypes)
}
