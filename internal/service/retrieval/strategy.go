package retrieval

import (
	"slices"
	"sort"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
)

type Strategy string

const (
	StrategyStructured Strategy = "structured"
	StrategyVector     Strategy = "vector"
	StrategyCombined   Strategy = "combined"
)

func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyStructured:
		return StrategyStructured, true
	case StrategyVector:
		return StrategyVector, true
	case StrategyCombined:
		return StrategyCombined, true
	}
	return "", false
}

type entityRef struct {
	Type    string
	Value   string
	Service string
}

// domainEntities returns the query entities that a data service can
// resolve, sorted by type for deterministic fan-out.
func (r *Retriever) domainEntities(q core.Query) []entityRef {
	var out []entityRef
	for typ, value := range q.Entities {
		svc, ok := r.entityServices[typ]
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		out = append(out, entityRef{Type: typ, Value: value, Service: svc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// SelectStrategy picks the retrieval strategy from the intent, the domain
// entities and whether the session has retrieval history.
func (r *Retriever) SelectStrategy(q core.Query, history []core.RetrievalEvent) Strategy {
	entities := r.domainEntities(q)

	types := map[string]struct{}{}
	for _, e := range entities {
		types[e.Type] = struct{}{}
	}

	switch {
	case len(entities) > 1 || len(types) > 1:
		return StrategyCombined
	case q.FollowUp && len(history) > 0:
		return StrategyCombined
	case slices.Contains(r.cfg.LookupIntents, q.Intent) && len(entities) == 1:
		return StrategyStructured
	case slices.Contains(r.cfg.SearchLikeIntents, q.Intent) || len(entities) == 0:
		return StrategyVector
	default:
		return StrategyStructured
	}
}
