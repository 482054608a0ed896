package response

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandevgo/capassist/internal/service/memory"
	"github.com/sandevgo/capassist/pkg/log"
)

// personalization holds template parameters and prompt hints drawn from
// the session.
type personalization struct {
	params map[string]string
	hints  string
}

// personalize folds recent entities, user preferences and previous queries
// of the session into template parameters and prompt hints. The newest
// mention of an entity type wins.
func (g *Generator) personalize(ctx context.Context, req Request, o Options) personalization {
	p := personalization{params: map[string]string{}}
	if !*o.EnablePersonalization || o.SessionID == "" || g.memory == nil {
		return p
	}

	rc := g.memory.GetKnowledgeRetrievalContext(ctx, o.SessionID, o.QueryID, memory.RetrievalContextOptions{
		EntityLimit:  o.EntityLimit,
		HistoryLimit: o.HistoryLimit,
	})
	if rc.Error != "" {
		log.FromCtx(ctx).Warn().Str("error", rc.Error).Msg("personalization context unavailable")
		return p
	}

	var hints []string

	var recent []string
	for _, m := range rc.RecentEntities {
		if _, ok := p.params[m.Type]; ok {
			continue
		}
		p.params[m.Type] = m.Value
		recent = append(recent, fmt.Sprintf("%s (%s)", m.Value, m.Type))
	}
	if len(recent) > 0 {
		hints = append(hints, "Recently discussed: "+strings.Join(recent, ", ")+".")
	}

	if sc := rc.SessionContext; sc != nil {
		var prefs []string
		for _, k := range sortedKeys(sc.UserPreferences) {
			s, ok := paramString(sc.UserPreferences[k])
			if !ok {
				continue
			}
			p.params[k] = s
			prefs = append(prefs, k+"="+s)
		}
		if len(prefs) > 0 {
			hints = append(hints, "User preferences: "+strings.Join(prefs, ", ")+".")
		}

		if len(sc.PreviousQueries) > 0 {
			last := sc.PreviousQueries[0]
			p.params["previous_query"] = last.Text
			hints = append(hints, fmt.Sprintf("The user previously asked: %q.", last.Text))
		}
		if sc.User.Role != "" {
			hints = append(hints, "The user works as "+sc.User.Role+".")
		}
	}

	p.hints = strings.Join(hints, " ")
	return p
}
