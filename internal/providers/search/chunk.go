package search

import (
	"strings"
	"unicode"
)

// SplitPassages packs the sentences of text into passages of at most
// maxWords words. Consecutive passages share up to overlap words of whole
// sentences. A sentence longer than maxWords is cut on word boundaries.
func SplitPassages(text string, maxWords, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxWords <= 0 {
		return []string{text}
	}

	sentences := splitSentences(text)

	var (
		passages []string
		current  []string
		words    int
	)
	flush := func() {
		if len(current) > 0 {
			passages = append(passages, strings.Join(current, " "))
		}
		current, words = nil, 0
	}

	for i, s := range sentences {
		n := len(strings.Fields(s))

		if n > maxWords {
			flush()
			passages = append(passages, splitWords(s, maxWords)...)
			continue
		}

		if words+n > maxWords && len(current) > 0 {
			flush()
			current = overlapSentences(sentences[:i], overlap, maxWords-n)
			for _, o := range current {
				words += len(strings.Fields(o))
			}
		}

		current = append(current, s)
		words += n
	}
	flush()

	return passages
}

// overlapSentences returns the trailing sentences of prev that fit in
// overlap words and in the room left next to the incoming sentence.
func overlapSentences(prev []string, overlap, room int) []string {
	limit := min(overlap, room)
	var out []string
	words := 0
	for i := len(prev) - 1; i >= 0; i-- {
		n := len(strings.Fields(prev[i]))
		if words+n > limit {
			break
		}
		out = append([]string{prev[i]}, out...)
		words += n
	}
	return out
}

// splitWords cuts s into pieces of maxWords words. A tail shorter than a
// quarter of the budget is folded into the piece before it.
func splitWords(s string, maxWords int) []string {
	fields := strings.Fields(s)
	minTail := (maxWords + 3) / 4

	var out []string
	for i := 0; i < len(fields); i += maxWords {
		end := min(i+maxWords, len(fields))
		if rest := len(fields) - end; rest > 0 && rest < minTail {
			end = len(fields)
		}
		out = append(out, strings.Join(fields[i:end], " "))
		if end == len(fields) {
			break
		}
	}
	return out
}

var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true, '…': true,
}

// splitSentences splits paragraphs on sentence-ending punctuation followed by
// whitespace. Soft line wraps inside a paragraph are joined.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var sentences []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(strings.ReplaceAll(para, "\n", " "))
		if para == "" {
			continue
		}

		var current strings.Builder
		runes := []rune(para)
		for i, r := range runes {
			current.WriteRune(r)
			if sentenceEnders[r] && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
