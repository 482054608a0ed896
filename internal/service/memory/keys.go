package memory

import (
	"strings"
	"time"
)

// Entry types of the key grammar <session>:<type>[:<id>].
const (
	TypeContext          = "context"
	TypePlans            = "plans"
	TypeSteps            = "steps"
	TypeResults          = "results"
	TypeEntities         = "entities"
	TypeKnowledge        = "knowledge"
	TypeRetrievalHistory = "retrieval_history"
	TypeRetrievalContext = "retrieval_context"
	TypeLinks            = "links"
)

const keySep = ":"

// partEscaper keeps the separator out of session and id parts, so
// "a" and "a:b" never share a prefix.
var partEscaper = strings.NewReplacer("%", "%25", keySep, "%3A")

// Key builds a working memory key. Empty id parts are skipped.
func Key(session, typ string, ids ...string) string {
	parts := make([]string, 0, 2+len(ids))
	parts = append(parts, partEscaper.Replace(session), typ)
	for _, id := range ids {
		if id != "" {
			parts = append(parts, partEscaper.Replace(id))
		}
	}
	return strings.Join(parts, keySep)
}

// SessionPrefix matches every key of a session and nothing of a session
// whose id merely starts with the same characters.
func SessionPrefix(session string) string {
	return partEscaper.Replace(session) + keySep
}

func stepKey(session, queryID, stepID string) string {
	return Key(session, TypeSteps, queryID, stepID)
}

// stepSeqKey holds the ordered list of step ids stored for a query.
func stepSeqKey(session, queryID string) string {
	return Key(session, TypeSteps, queryID)
}

func (s *Store) ttlFor(typ string) time.Duration {
	var ttl time.Duration
	switch typ {
	case TypeContext:
		ttl = s.cfg.ContextTTL
	case TypePlans:
		ttl = s.cfg.PlanTTL
	case TypeSteps:
		ttl = s.cfg.StepTTL
	case TypeResults:
		ttl = s.cfg.ResultTTL
	case TypeEntities:
		ttl = s.cfg.EntityTTL
	case TypeKnowledge, TypeRetrievalContext:
		ttl = s.cfg.KnowledgeTTL
	case TypeRetrievalHistory:
		ttl = s.cfg.RetrievalHistoryTTL
	case TypeLinks:
		ttl = s.cfg.LinkTTL
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	return ttl
}
