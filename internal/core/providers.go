package core

import "context"

// ChatProvider is the raw chat-completion transport.
type ChatProvider interface {
	Chat(ctx context.Context, history []Message) (Message, Usage, error)
}

type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

type SuggestedAction struct {
	Type   string `json:"type"`
	Label  string `json:"label"`
	Intent string `json:"intent,omitempty"`
}

type GeneratedResponse struct {
	Text             string            `json:"text"`
	SuggestedActions []SuggestedAction `json:"suggested_actions"`
}

type ContentRequest struct {
	Template      string            `json:"template"`
	MissingFields []string          `json:"missing_fields"`
	Entities      map[string]string `json:"entities"`
	Data          map[string]any    `json:"data"`
	Context       string            `json:"context,omitempty"`
}

type ParameterExtraction struct {
	Parameters map[string]any `json:"parameters"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type ChartDescription struct {
	Main      string `json:"main"`
	Insight   string `json:"insight"`
	Highlight string `json:"highlight"`
}

// LLM is the language-model capability used by the core.
type LLM interface {
	ProcessQuery(ctx context.Context, prompt string, history []Message, systemPrompt string) (Completion, error)
	GenerateResponse(ctx context.Context, query, intent string, data map[string]any) (GeneratedResponse, error)
	GenerateContent(ctx context.Context, req ContentRequest) (map[string]string, error)
	ExtractParameters(ctx context.Context, text string) (ParameterExtraction, error)
	GenerateChartDescription(ctx context.Context, data any, title, context string) (ChartDescription, error)
}

type SearchHit struct {
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorSearch is the similarity-search capability.
type VectorSearch interface {
	SearchSimilar(ctx context.Context, text string, k int) ([]SearchHit, error)
}

type Record = map[string]any

// DataService is a named upstream domain data service. Services that do not
// support an operation return ErrUnsupported.
type DataService interface {
	Name() string
	GetByID(ctx context.Context, id string) (Record, error)
	ListWithFilter(ctx context.Context, filter map[string]any, limit int) ([]Record, error)
	GetRelated(ctx context.Context, id, relation string) ([]Record, error)
}
