package retrieval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
)

var factualRe = regexp.MustCompile(`(?i)\b(what|which|who|whom|whose|where|when|how many|how much|number of|total|count|all|every)\b`)

// non-domain entity types never expected verbatim in knowledge payloads
var temporalEntities = map[string]struct{}{
	"time_period": {},
	"timeframe":   {},
	"date":        {},
	"time":        {},
}

// IsFactualQuery reports whether the query asks for facts rather than
// explanation.
func IsFactualQuery(q core.Query) bool {
	return strings.Contains(q.Intent, "query") || factualRe.MatchString(q.Text)
}

// Insufficiency explains why knowledge cannot ground an answer. Empty
// Reason means the knowledge is sufficient.
type Insufficiency struct {
	Reason  string
	Missing []string
}

func (i Insufficiency) Insufficient() bool {
	return i.Reason != ""
}

// CheckKnowledge evaluates the insufficiency predicate: no items, a factual
// query without facts, or a named entity that no item mentions.
func CheckKnowledge(q core.Query, items []core.KnowledgeItem) Insufficiency {
	if len(items) == 0 {
		return Insufficiency{Reason: "no knowledge items", Missing: namedEntities(q)}
	}

	hasFacts := false
	for _, item := range items {
		if item.Type == core.KnowledgeFact {
			hasFacts = true
			break
		}
	}
	if IsFactualQuery(q) && !hasFacts {
		return Insufficiency{Reason: "factual query without facts"}
	}

	var payload strings.Builder
	for _, item := range items {
		payload.WriteString(strings.ToLower(item.Content))
		payload.WriteByte('\n')
		for k, v := range item.Data {
			fmt.Fprintf(&payload, "%s=%v\n", strings.ToLower(k), strings.ToLower(fmt.Sprint(v)))
		}
	}
	text := payload.String()

	var missing []string
	for _, v := range namedEntities(q) {
		if !strings.Contains(text, strings.ToLower(v)) {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return Insufficiency{Reason: "entities not found in knowledge", Missing: missing}
	}
	return Insufficiency{}
}

// IsKnowledgeInsufficient is the boolean form of CheckKnowledge.
func IsKnowledgeInsufficient(q core.Query, items []core.KnowledgeItem) bool {
	return CheckKnowledge(q, items).Insufficient()
}

// namedEntities lists the non-temporal entity values of q, sorted.
func namedEntities(q core.Query) []string {
	var out []string
	for typ, value := range q.Entities {
		if _, skip := temporalEntities[typ]; skip {
			continue
		}
		out = append(out, entityValues(value)...)
	}
	sort.Strings(out)
	return out
}

// entityValues splits a multi-valued entity such as "A,B" or "A and B".
func entityValues(value string) []string {
	value = strings.ReplaceAll(value, " and ", ",")
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
