package core

type UserInfo struct {
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

type PreviousQuery struct {
	QueryID   string `json:"query_id"`
	Text      string `json:"text"`
	Intent    string `json:"intent,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SessionContext is the per-session scratch record. PreviousQueries is kept
// newest first.
type SessionContext struct {
	SessionID       string          `json:"session_id"`
	UserPreferences map[string]any  `json:"user_preferences,omitempty"`
	User            UserInfo        `json:"user"`
	PreviousQueries []PreviousQuery `json:"previous_queries"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}

type EntityMention struct {
	Type        string  `json:"type"`
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
	QueryID     string  `json:"query_id"`
	MentionedAt int64   `json:"mentioned_at"`
}

type Relationship string

const (
	RelFollowUp   Relationship = "follow-up"
	RelRefinement Relationship = "refinement"
	RelFollows    Relationship = "follows"
	RelOther      Relationship = "other"
)

type QueryLink struct {
	FromQueryID  string       `json:"from_query_id"`
	ToQueryID    string       `json:"to_query_id"`
	Relationship Relationship `json:"relationship"`
	Timestamp    int64        `json:"timestamp"`
}
