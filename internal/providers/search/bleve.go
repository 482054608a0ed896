// Package search provides the similarity-search capability on an in-memory
// Bleve index.
package search

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"gopkg.in/yaml.v3"

	"github.com/sandevgo/capassist/internal/core"
)

// Document is an indexed passage.
type Document struct {
	ID       string         `json:"id" yaml:"id"`
	Content  string         `json:"content" yaml:"content"`
	Source   string         `json:"source" yaml:"source"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Index implements core.VectorSearch with Bleve match queries. Scores are
// mapped into [0,1) with s/(s+1).
type Index struct {
	index bleve.Index

	passageWords int
	overlapWords int
}

type Option func(*Index)

// WithPassages sets the passage size long documents are split into. Zero
// indexes documents whole.
func WithPassages(maxWords, overlapWords int) Option {
	return func(i *Index) {
		i.passageWords = maxWords
		i.overlapWords = overlapWords
	}
}

func NewIndex(opts ...Option) (*Index, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = en.AnalyzerName
	docMapping.AddFieldMappingsAt("content", textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("source", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("id", keywordFieldMapping)

	im.AddDocumentMapping("document", docMapping)
	im.DefaultType = "document"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	i := &Index{index: index, passageWords: 120, overlapWords: 20}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Add indexes docs in one batch. A document without an id gets its
// position in the index. Documents longer than the passage size are indexed
// as passages with ids "<id>#<n>" and a "parent" metadata field.
func (i *Index) Add(docs ...Document) error {
	count, err := i.index.DocCount()
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}

	batch := i.index.NewBatch()
	for n, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", int(count)+n+1)
		}
		for _, p := range i.passages(d) {
			if err := batch.Index(p.ID, p); err != nil {
				return fmt.Errorf("index %s: %w", p.ID, err)
			}
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

func (i *Index) passages(d Document) []Document {
	parts := SplitPassages(d.Content, i.passageWords, i.overlapWords)
	if len(parts) <= 1 {
		return []Document{d}
	}

	out := make([]Document, len(parts))
	for n, text := range parts {
		meta := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta["parent"] = d.ID
		out[n] = Document{
			ID:       fmt.Sprintf("%s#%d", d.ID, n+1),
			Content:  text,
			Source:   d.Source,
			Metadata: meta,
		}
	}
	return out
}

// AddRecords indexes the text field of records from a data service. Records
// without that field are skipped.
func (i *Index) AddRecords(source, field string, records []core.Record) error {
	docs := make([]Document, 0, len(records))
	for _, r := range records {
		text, _ := r[field].(string)
		if text == "" {
			continue
		}
		meta := make(map[string]any, len(r))
		for k, v := range r {
			if k != field {
				meta[k] = v
			}
		}
		docs = append(docs, Document{
			ID:       fmt.Sprintf("%s:%v", source, r["id"]),
			Content:  text,
			Source:   source,
			Metadata: meta,
		})
	}
	return i.Add(docs...)
}

// LoadFile indexes the documents of a YAML file holding a "documents" list.
func (i *Index) LoadFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read documents %s: %w", path, err)
	}
	var file struct {
		Documents []Document `yaml:"documents"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("%w: documents %s: %v", core.ErrSerialization, path, err)
	}
	return len(file.Documents), i.Add(file.Documents...)
}

// SearchSimilar returns up to k passages matching text, best first.
func (i *Index) SearchSimilar(ctx context.Context, text string, k int) ([]core.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []core.SearchHit{}, nil
	}
	if k <= 0 {
		k = 10
	}

	q := bleve.NewMatchQuery(text)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = k
	req.Fields = []string{"*"}

	results, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: Bleve search failed: %v", core.ErrUpstream, err)
	}

	out := make([]core.SearchHit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		content, _ := hit.Fields["content"].(string)
		source, _ := hit.Fields["source"].(string)
		meta := map[string]any{}
		for name, v := range hit.Fields {
			if after, ok := strings.CutPrefix(name, "metadata."); ok {
				meta[after] = v
			}
		}
		meta["id"] = hit.ID
		out = append(out, core.SearchHit{
			Content:  content,
			Source:   source,
			Score:    hit.Score / (hit.Score + 1),
			Metadata: meta,
		})
	}
	return out, nil
}

func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

func (i *Index) Close() error {
	return i.index.Close()
}
