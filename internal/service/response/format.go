package response

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sandevgo/capassist/pkg/conv"
)

type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatSpeech   Format = "speech"
)

func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatHTML, FormatMarkdown, FormatSpeech:
		return f, true
	}
	return "", false
}

const sectionSeparator = "\n\n"

// layout is the wrapper, section joiner and list prefix of a format.
type layout struct {
	wrapper    string
	section    string
	listPrefix string
}

var layouts = map[Format]layout{
	FormatText:     {wrapper: "%s", section: sectionSeparator, listPrefix: "- "},
	FormatMarkdown: {wrapper: "%s", section: sectionSeparator, listPrefix: "* "},
	FormatHTML:     {wrapper: `<div class="capassist-response">%s</div>`, section: sectionSeparator, listPrefix: "* "},
	FormatSpeech:   {wrapper: "%s", section: " ", listPrefix: ""},
}

var listItemRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

// Sections splits text on blank lines.
func Sections(text string) []string {
	var out []string
	for _, s := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), sectionSeparator) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Render formats text. Sections and list items of the input are kept; only
// their wrapping changes.
func Render(text string, f Format) string {
	sections := Sections(text)

	switch f {
	case FormatJSON:
		payload := make(map[string]string, len(sections))
		for i, s := range sections {
			payload["section"+strconv.Itoa(i+1)] = s
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return "{}"
		}
		return string(raw)
	case FormatSpeech:
		return Speech(text)
	}

	l, ok := layouts[f]
	if !ok {
		l = layouts[FormatText]
	}
	for i, s := range sections {
		sections[i] = relist(s, l.listPrefix)
	}
	body := strings.Join(sections, l.section)
	if f == FormatHTML {
		body = strings.TrimSpace(conv.MarkdownToHTML([]byte(body)))
	}
	return fmt.Sprintf(l.wrapper, body)
}

// SectionsOf recovers the sections of a rendered text or JSON response.
func SectionsOf(rendered string, f Format) ([]string, error) {
	if f != FormatJSON {
		var out []string
		for _, s := range Sections(rendered) {
			out = append(out, relist(s, "- "))
		}
		return out, nil
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(rendered), &payload); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return sectionIndex(keys[i]) < sectionIndex(keys[j]) })
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, relist(payload[k], "- "))
	}
	return out, nil
}

func sectionIndex(key string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(key, "section"))
	if err != nil {
		return 1 << 30
	}
	return n
}

func relist(section, prefix string) string {
	lines := strings.Split(section, "\n")
	for i, line := range lines {
		if loc := listItemRe.FindStringIndex(line); loc != nil {
			lines[i] = prefix + line[loc[1]:]
		}
	}
	return strings.Join(lines, "\n")
}

var speechRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\bETA\b`), "estimated time of arrival"},
	{regexp.MustCompile(`\bETD\b`), "estimated time of departure"},
	{regexp.MustCompile(`\bATC\b`), "air traffic control"},
	{regexp.MustCompile(`\bapprox\.`), "approximately"},
	{regexp.MustCompile(`\be\.g\.`), "for example"},
	{regexp.MustCompile(`\bi\.e\.`), "that is"},
	{regexp.MustCompile(`\bvs\.?\s`), "versus "},
	{regexp.MustCompile(`\bhrs\b`), "hours"},
	{regexp.MustCompile(`\bmins\b`), "minutes"},
	{regexp.MustCompile(`\bNo\.\s*(\d)`), "number $1"},
	{regexp.MustCompile(`\bT(\d+)\b`), "Terminal $1"},
	{regexp.MustCompile(`(\d),(\d{3})\b`), "$1$2"},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`), "$1 percent"},
	{regexp.MustCompile(`\b(\d+)\s*-\s*(\d+)\b`), "$1 to $2"},
	{regexp.MustCompile(`\b(\d{1,2}):00\b`), "$1 o'clock"},
	{regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`), "$1 $2"},
	{regexp.MustCompile(`\+(\d)`), "plus $1"},
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	emphasis     = strings.NewReplacer("*", "", "_", " ", "#", "")
)

// Speech strips markdown and HTML and expands abbreviations and number
// patterns for text-to-speech.
func Speech(text string) string {
	plain := conv.MarkdownToText(text)

	lines := strings.Split(plain, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(emphasis.Replace(listItemRe.ReplaceAllString(line, "")))
		if line != "" && !strings.ContainsAny(line[len(line)-1:], ".!?:") {
			line += "."
		}
		lines[i] = line
	}
	plain = strings.Join(lines, " ")

	for _, r := range speechRules {
		plain = r.re.ReplaceAllString(plain, r.repl)
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(plain, " "))
}
