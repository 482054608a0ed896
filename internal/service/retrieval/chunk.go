package retrieval

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
)

// TokenCounter estimates the prompt cost of a text.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter estimates one token per four characters.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

type tiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func (c *tiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
	})
	if c.err != nil {
		return ApproxCounter{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns the configured counter. The tiktoken encoder is
// loaded lazily and falls back to the approximation if it cannot load.
func NewTokenCounter(kind string) TokenCounter {
	if kind == config.TokenizerTiktoken {
		return &tiktokenCounter{}
	}
	return ApproxCounter{}
}

// FormatItem renders one item as a prompt line.
func FormatItem(item core.KnowledgeItem) string {
	return fmt.Sprintf("[%s/%s] %s", item.Type, item.Source, item.Content)
}

// ChunkItems partitions items into prompt-sized groups bounded by both an
// item count and a token budget. Order is preserved; an item larger than the
// budget gets a chunk of its own.
func ChunkItems(items []core.KnowledgeItem, maxItems, maxTokens int, counter TokenCounter) [][]core.KnowledgeItem {
	if len(items) == 0 {
		return nil
	}
	if counter == nil {
		counter = ApproxCounter{}
	}

	var (
		chunks  [][]core.KnowledgeItem
		current []core.KnowledgeItem
		tokens  int
	)
	for _, item := range items {
		cost := counter.Count(FormatItem(item))
		full := (maxItems > 0 && len(current) >= maxItems) ||
			(maxTokens > 0 && len(current) > 0 && tokens+cost > maxTokens)
		if full {
			chunks = append(chunks, current)
			current, tokens = nil, 0
		}
		current = append(current, item)
		tokens += cost
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// FormatChunk renders a chunk as a numbered knowledge block.
func FormatChunk(items []core.KnowledgeItem) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, FormatItem(item))
	}
	return b.String()
}
