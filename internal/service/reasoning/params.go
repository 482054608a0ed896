package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	terminalRe   = regexp.MustCompile(`\b(?i:terminal)\s+([A-Z0-9]{1,4})\b`)
	standRe      = regexp.MustCompile(`\b(?i:stand)\s+([A-Z]?\d{1,4}[A-Z]?)\b`)
	standCountRe = regexp.MustCompile(`(?i)\b(add(?:ed|ing)?|remov(?:e|ed|ing)|clos(?:e|ed|ing)|open(?:ed|ing)?|build(?:ing)?|built)?\s*(\d+)\s+(?:more\s+|additional\s+|new\s+|extra\s+|fewer\s+)?stands?\b`)
	percentRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:%|percent\b)`)
	numberRe     = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	periodRe     = regexp.MustCompile(`(?i)\b(early morning|morning|afternoon|evening|night|peak hours?|today|tomorrow|this week|next week|this month|next month|this year|next year)\b`)
)

// ExtractParameters is the deterministic extractor used when the model
// cannot extract parameters. It recognizes terminals, stands, stand count
// changes, percentages, time periods and bare numbers.
func ExtractParameters(text string) map[string]any {
	params := map[string]any{}

	if m := terminalRe.FindStringSubmatch(text); m != nil {
		params["terminal"] = strings.ToUpper(m[1])
	}
	if m := standRe.FindStringSubmatch(text); m != nil {
		params["stand"] = strings.ToUpper(m[1])
	}
	if m := standCountRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[2])
		verb := strings.ToLower(m[1])
		if strings.HasPrefix(verb, "remov") || strings.HasPrefix(verb, "clos") || strings.Contains(strings.ToLower(m[0]), "fewer") {
			n = -n
		}
		params["stand_count_change"] = n
	}
	if m := percentRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		params["percentage"] = v
	}
	if m := periodRe.FindStringSubmatch(text); m != nil {
		params["time_period"] = strings.ToLower(m[1])
	}

	var numbers []any
	for _, m := range numberRe.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(m, 64)
		if err == nil {
			numbers = append(numbers, v)
		}
	}
	if len(numbers) > 0 {
		params["numbers"] = numbers
	}
	return params
}

// resolveRef looks up "$step-N.path.to.field" in prior step outputs. ok is
// false when the value is not a reference or the reference is unresolved.
func resolveRef(v any, outputs map[string]any) (any, bool, bool) {
	s, isStr := v.(string)
	if !isStr || !strings.HasPrefix(s, "$step-") {
		return v, false, true
	}

	ref := strings.TrimPrefix(s, "$")
	stepID, path, _ := strings.Cut(ref, ".")
	cur, ok := outputs[stepID]
	if !ok {
		return nil, true, false
	}
	if path == "" {
		return cur, true, true
	}
	for _, key := range strings.Split(path, ".") {
		next, found := lookup(cur, key)
		if !found {
			return nil, true, false
		}
		cur = next
	}
	return cur, true, true
}

// lookup indexes maps by key and slices by position.
func lookup(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		val, ok := t[key]
		return val, ok && val != nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case []map[string]any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any, def int) int {
	if f, ok := toFloat(v); ok {
		return int(f)
	}
	return def
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

// flatten turns a step output into a single-level map for comparison.
// Record lists contribute their first record.
func flatten(v any) map[string]any {
	out := map[string]any{}
	m, ok := v.(map[string]any)
	if !ok {
		out["value"] = v
		return out
	}
	if recs, ok := m["records"].([]map[string]any); ok && len(recs) > 0 {
		m = recs[0]
	}
	if recs, ok := m["records"].([]any); ok && len(recs) > 0 {
		if first, ok := recs[0].(map[string]any); ok {
			m = first
		}
	}
	for k, val := range m {
		switch val.(type) {
		case map[string]any, []any, []map[string]any:
			continue
		}
		out[k] = val
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return formatNumber(t)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
