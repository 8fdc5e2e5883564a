package doclang

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	scriptScheme = regexp.MustCompile(`(?i)javascript:`)
	// browsers drop these anywhere inside a URL
	urlWhitespace = strings.NewReplacer("\t", "", "\n", "", "\r", "")
)

// Strategy renders a single part; Format concatenates the results in order.
type Strategy interface {
	FormatPart(p Part) string
}

type StrategyFunc func(p Part) string

func (f StrategyFunc) FormatPart(p Part) string {
	return f(p)
}

// Identity renders text verbatim and tags in their source form.
var Identity Strategy = StrategyFunc(func(p Part) string {
	switch p := p.(type) {
	case Text:
		return p.Value
	case Tag:
		return p.Source()
	default:
		return ""
	}
})

// HTML renders escaped text and anchors for link-bearing tags, using default URL layouts.
var HTML Strategy = &HTMLStrategy{}

func Format(doc string, s Strategy) string {
	return defaultParser.Format(doc, s)
}

func (p *Parser) Format(doc string, s Strategy) string {
	var b strings.Builder
	for _, part := range p.Parse(doc) {
		b.WriteString(s.FormatPart(part))
	}
	return b.String()
}

// HTMLStrategy renders LINK, SCHEMA and FIELD tags as anchors and every other
// tag as its escaped source form. Nil URL builders fall back to
// /schemas/<subject>/<version>[#<schemaFullName>.<field>].
type HTMLStrategy struct {
	SchemaURL func(subject string, version int) string
	FieldURL  func(subject string, version int, schemaFullName, field string) string
}

func (h *HTMLStrategy) FormatPart(p Part) string {
	switch p := p.(type) {
	case Text:
		return html.EscapeString(p.Value)
	case Tag:
		href, title, ok := h.link(p)
		if !ok {
			return html.EscapeString(p.Source())
		}
		var b strings.Builder
		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(NeutralizeURL(href)))
		b.WriteString(`" title="`)
		b.WriteString(html.EscapeString(title))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(title))
		b.WriteString(`</a>`)
		return b.String()
	default:
		return ""
	}
}

func (h *HTMLStrategy) link(t Tag) (href, title string, ok bool) {
	switch t.Type {
	case TagLink:
		href = t.stringParam("url")
		if href == "" {
			return "", "", false
		}
		return href, orDefault(t.stringParam("text"), href), true
	case TagSchema:
		subject := t.stringParam("subject")
		version, hasVersion := t.intParam("version")
		if subject == "" || !hasVersion {
			return "", "", false
		}
		return h.schemaURL(subject, version), orDefault(t.stringParam("text"), subject), true
	case TagField:
		subject, name, field := t.stringParam("subject"), t.stringParam("schemaFullName"), t.stringParam("field")
		version, hasVersion := t.intParam("version")
		if subject == "" || name == "" || field == "" || !hasVersion {
			return "", "", false
		}
		return h.fieldURL(subject, version, name, field), orDefault(t.stringParam("text"), field), true
	case TagForeignKey, TagTable:
		return "", "", false
	default:
		return "", "", false
	}
}

func (h *HTMLStrategy) schemaURL(subject string, version int) string {
	if h.SchemaURL != nil {
		return h.SchemaURL(subject, version)
	}
	return "/schemas/" + url.PathEscape(subject) + "/" + strconv.Itoa(version)
}

func (h *HTMLStrategy) fieldURL(subject string, version int, schemaFullName, field string) string {
	if h.FieldURL != nil {
		return h.FieldURL(subject, version, schemaFullName, field)
	}
	return h.schemaURL(subject, version) + "#" + url.PathEscape(schemaFullName+"."+field)
}

// NeutralizeURL defuses every "javascript:" occurrence, whatever its case.
// Tabs and line breaks are removed and leading control characters and spaces
// trimmed first, the way a browser reads the href.
func NeutralizeURL(u string) string {
	u = urlWhitespace.Replace(u)
	u = strings.TrimLeftFunc(u, func(r rune) bool { return r <= ' ' })
	return scriptScheme.ReplaceAllLiteralString(u, "blocked:")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
