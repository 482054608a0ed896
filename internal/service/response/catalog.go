package response

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var embeddedCatalog []byte

const (
	TemplateBrief    = "brief"
	TemplateStandard = "standard"
	TemplateDetailed = "detailed"
)

// Catalog holds response templates by intent and template type, error
// templates by kind, and fallback texts by intent.
type Catalog struct {
	Templates map[string]map[string]string `yaml:"templates"`
	Errors    map[string]string            `yaml:"errors"`
	Fallbacks map[string]string            `yaml:"fallbacks"`
}

// LoadCatalog returns the built-in catalog with the entries of path, when
// set, layered on top.
func LoadCatalog(path string) (*Catalog, error) {
	c, err := parseCatalog(embeddedCatalog)
	if err != nil {
		return nil, fmt.Errorf("built-in templates: %w", err)
	}
	if path == "" {
		return c, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates %s: %w", path, err)
	}
	override, err := parseCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("templates %s: %w", path, err)
	}
	c.merge(override)
	return c, nil
}

func parseCatalog(raw []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, err
	}
	if c.Templates == nil {
		c.Templates = map[string]map[string]string{}
	}
	if c.Errors == nil {
		c.Errors = map[string]string{}
	}
	if c.Fallbacks == nil {
		c.Fallbacks = map[string]string{}
	}
	return c, nil
}

func (c *Catalog) merge(o *Catalog) {
	for intent, types := range o.Templates {
		if c.Templates[intent] == nil {
			c.Templates[intent] = map[string]string{}
		}
		for typ, tpl := range types {
			c.Templates[intent][typ] = tpl
		}
	}
	for k, v := range o.Errors {
		c.Errors[k] = v
	}
	for k, v := range o.Fallbacks {
		c.Fallbacks[k] = v
	}
}

// Template looks up the template for intent and type, falling back to the
// standard type.
func (c *Catalog) Template(intent, typ string) (string, bool) {
	types, ok := c.Templates[intent]
	if !ok {
		return "", false
	}
	if tpl, ok := types[typ]; ok {
		return tpl, true
	}
	tpl, ok := types[TemplateStandard]
	return tpl, ok
}

func (c *Catalog) ErrorTemplate(kind string) string {
	if tpl, ok := c.Errors[kind]; ok {
		return tpl
	}
	return c.Errors[ErrGeneric]
}

func (c *Catalog) Fallback(intent string) string {
	if text, ok := c.Fallbacks[intent]; ok {
		return text
	}
	if text, ok := c.Fallbacks["default"]; ok {
		return text
	}
	return "I'm sorry, I couldn't process that request right now. Please try again."
}

func templateType(detail string) string {
	switch detail {
	case "brief":
		return TemplateBrief
	case "comprehensive":
		return TemplateDetailed
	default:
		return TemplateStandard
	}
}

var placeholderRe = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// placeholders lists the distinct placeholder names of tpl in order.
func placeholders(tpl string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range placeholderRe.FindAllStringSubmatch(tpl, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// fill substitutes every placeholder found in params and returns the
// result with the names still missing.
func fill(tpl string, params map[string]string) (string, []string) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := params[name]; ok {
			return v
		}
		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return m
	})
	return out, missing
}

var (
	spaceRunRe  = regexp.MustCompile(`[ \t]{2,}`)
	spacePunkRe = regexp.MustCompile(`\s+([.,;:!?])`)
	emptyParRe  = regexp.MustCompile(`\n{3,}`)
)

// strip removes unresolved placeholders and tidies the whitespace they
// leave behind.
func strip(text string) string {
	text = placeholderRe.ReplaceAllString(text, "")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = spacePunkRe.ReplaceAllString(text, "$1")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	text = emptyParRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
