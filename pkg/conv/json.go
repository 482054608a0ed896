package conv

import "strings"

// ExtractJSONObject returns the outermost {...} span of an LLM reply, which
// often wraps JSON in prose or code fences. Empty when there is none.
func ExtractJSONObject(content string) string {
	return extractSpan(content, "{", "}")
}

// ExtractJSONArray returns the outermost [...] span of content.
func ExtractJSONArray(content string) string {
	return extractSpan(content, "[", "]")
}

func extractSpan(content, open, close string) string {
	start := strings.Index(content, open)
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(content[start:], close)
	if end == -1 {
		return ""
	}

	return content[start : start+end+1]
}
