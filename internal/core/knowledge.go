package core

type KnowledgeType string

const (
	KnowledgeFact       KnowledgeType = "fact"
	KnowledgeContextual KnowledgeType = "contextual"
)

// KnowledgeItem is a single grounded piece of information. Facts come from
// structured data services, contextual items from similarity search.
type KnowledgeItem struct {
	Type       KnowledgeType  `json:"type"`
	Content    string         `json:"content"`
	Data       map[string]any `json:"data,omitempty"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence,omitempty"`
	Similarity float64        `json:"similarity,omitempty"`
}

// Score is the ranking score of the item: confidence for facts, similarity
// for contextual passages, whichever is set.
func (k KnowledgeItem) Score() float64 {
	if k.Confidence > 0 {
		return k.Confidence
	}
	return k.Similarity
}

type RetrievalMetadata struct {
	Strategy        string   `json:"strategy"`
	Sources         []string `json:"sources"`
	ItemCount       int      `json:"item_count"`
	StoredItemCount int      `json:"stored_item_count"`
	Timestamp       int64    `json:"timestamp"`
	Degraded        bool     `json:"degraded,omitempty"`
}

type RetrievedKnowledge struct {
	Items    []KnowledgeItem   `json:"items"`
	Metadata RetrievalMetadata `json:"metadata"`
}

type RetrievalEvent struct {
	QueryID   string   `json:"query_id"`
	Strategy  string   `json:"strategy"`
	Sources   []string `json:"sources"`
	Timestamp int64    `json:"timestamp"`
}
