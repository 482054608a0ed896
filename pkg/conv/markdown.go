package conv

import (
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/inbucket/html2text"
	"github.com/microcosm-cc/bluemonday"
)

var (
	extensions   = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock
	htmlFlags    = html.CommonFlags | html.HrefTargetBlank
	reportPolicy = bluemonday.NewPolicy()
)

func init() {
	reportPolicy.AllowElements(
		"p", "br", "b", "strong", "i", "em", "code", "pre", "blockquote",
		"h1", "h2", "h3", "h4", "ul", "ol", "li",
		"table", "thead", "tbody", "tr", "th", "td",
	)
	reportPolicy.AllowAttrs("class").OnElements("code", "div")
}

// MarkdownToHTML renders md and strips anything outside the report tag set.
func MarkdownToHTML(md []byte) string {
	p := parser.NewWithExtensions(extensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})
	unsafeHTML := markdown.Render(p.Parse(md), renderer)

	safe := reportPolicy.SanitizeBytes(unsafeHTML)
	return string(emptyParaRe.ReplaceAll(safe, nil))
}

// emptyParaRe matches paragraphs left empty once disallowed tags are gone.
var emptyParaRe = regexp.MustCompile(`<p>\s*</p>\n?`)

var (
	dividerRe  = regexp.MustCompile(`^[*\-=]{3,}$`)
	bulletRe   = regexp.MustCompile(`^\s*[*\-]\s+`)
	emphasisRe = regexp.MustCompile(`\*([^*\n]+)\*`)
)

// MarkdownToText renders md to HTML and back down to plain text, which drops
// emphasis markers, headings and list bullets.
func MarkdownToText(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	text, err := html2text.FromString(MarkdownToHTML([]byte(md)), html2text.Options{
		OmitLinks: true,
	})
	if err != nil {
		return md
	}

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if dividerRe.MatchString(trimmed) {
			continue
		}
		line = bulletRe.ReplaceAllString(line, "")
		out = append(out, emphasisRe.ReplaceAllString(line, "$1"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
