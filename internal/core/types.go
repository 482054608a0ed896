package core

const (
	AppName      = "CapAssist"
	AppUserAgent = "CapAssist-Core/0.1"
	AppVersion   = "0.1.0"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Usage is the token accounting reported by a chat completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Query is a single user turn as seen by the core.
type Query struct {
	SessionID string            `json:"session_id"`
	ID        string            `json:"query_id"`
	Text      string            `json:"text"`
	Intent    string            `json:"parsed_intent"`
	Entities  map[string]string `json:"parsed_entities,omitempty"`
	Timestamp int64             `json:"timestamp"`
	FollowUp  bool              `json:"follow_up,omitempty"`
}
