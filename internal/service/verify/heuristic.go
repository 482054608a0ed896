package verify

import (
	"regexp"
	"slices"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
)

var (
	claimRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s+([A-Za-z]+)`)
	subjectRe  = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z0-9][A-Za-z0-9]*)\b`)
	sentenceRe = regexp.MustCompile(`([.!?])\s+`)
	andRe      = regexp.MustCompile(`,?\s+and\s+`)
)

type claim struct {
	number string
	unit   string
	span   string
}

func extractClaims(s string) []claim {
	var out []claim
	for _, m := range claimRe.FindAllStringSubmatch(s, -1) {
		out = append(out, claim{number: m[1], unit: unitKey(m[2]), span: m[0]})
	}
	return out
}

func unitKey(w string) string {
	w = strings.ToLower(w)
	if len(w) > 3 {
		w = strings.TrimSuffix(w, "s")
	}
	return w
}

func normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".!?;:, ")
}

// literallySupported reports whether some item contains the statement
// verbatim, modulo case, spacing and trailing punctuation.
func literallySupported(statement string, items []core.KnowledgeItem) bool {
	n := normalize(statement)
	if n == "" {
		return false
	}
	for _, item := range items {
		if strings.Contains(normalize(itemText(item)), n) {
			return true
		}
	}
	return false
}

// splitStatements breaks text into per-line sentences. A sentence with more
// than one numeric claim is further split on "and".
func splitStatements(text string) []Statement {
	var out []Statement
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#*->• "))
		if line == "" {
			continue
		}
		for _, sentence := range splitSentences(line) {
			parts := []string{sentence}
			if len(extractClaims(sentence)) > 1 {
				parts = andRe.Split(sentence, -1)
			}
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				out = append(out, Statement{Text: p, LineNumber: i + 1})
			}
		}
	}
	return out
}

func splitSentences(line string) []string {
	marked := sentenceRe.ReplaceAllString(line, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		s = strings.TrimRight(strings.TrimSpace(s), ".!?")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// candidates narrows items to those naming one of the statement's subjects
// ("Terminal A", "Stand B12"), or all items when none do.
func candidates(statement string, items []core.KnowledgeItem) []core.KnowledgeItem {
	subjects := subjectRe.FindAllString(statement, -1)
	if len(subjects) == 0 {
		return items
	}
	var out []core.KnowledgeItem
	for _, item := range items {
		text := strings.ToLower(itemText(item))
		for _, s := range subjects {
			if strings.Contains(text, strings.ToLower(s)) {
				out = append(out, item)
				break
			}
		}
	}
	if len(out) == 0 {
		return items
	}
	return out
}

// judge classifies one statement by comparing its numeric claims with the
// numbers the knowledge gives for the same unit.
func judge(st Statement, items []core.KnowledgeItem) Statement {
	if literallySupported(st.Text, items) {
		st.Status = StatusSupported
		return st
	}

	known := map[string][]string{}
	for _, item := range candidates(st.Text, items) {
		for _, c := range extractClaims(itemText(item)) {
			known[c.unit] = append(known[c.unit], c.number)
		}
	}

	claims := extractClaims(st.Text)
	if len(claims) == 0 {
		st.Status = StatusUnsupported
		return st
	}

	corrected := st.Text
	supported, contradicted := 0, 0
	for _, c := range claims {
		numbers, ok := known[c.unit]
		if !ok {
			continue
		}
		if slices.Contains(numbers, c.number) {
			supported++
			continue
		}
		contradicted++
		fixed := strings.Replace(c.span, c.number, numbers[0], 1)
		corrected = strings.Replace(corrected, c.span, fixed, 1)
	}

	switch {
	case contradicted > 0:
		st.Status = StatusContradicted
		st.SuggestedCorrection = corrected
	case supported == len(claims):
		st.Status = StatusSupported
	default:
		st.Status = StatusUnsupported
	}
	return st
}
