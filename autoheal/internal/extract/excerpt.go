package extract

import (
	"fmt"
	"html"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Excerpt renders the visible interactive elements as compact one-line
// tags, stopping at maxElements lines or maxBytes bytes.
func (s *Snapshot) Excerpt(maxElements, maxBytes int) string {
	var b strings.Builder
	n := 0
	for _, e := range s.Visible() {
		if maxElements > 0 && n >= maxElements {
			break
		}
		line := e.Render() + "\n"
		if maxBytes > 0 && b.Len()+len(line) > maxBytes {
			break
		}
		b.WriteString(line)
		n++
	}
	return b.String()
}

// Render formats e as a single HTML-like line.
func (e Element) Render() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(e.Tag)
	for _, k := range KeyAttrs {
		if v, ok := e.Attrs[k]; ok {
			fmt.Fprintf(&b, " %s=%q", k, html.EscapeString(v))
		}
	}
	b.WriteByte('>')
	if e.Text != "" {
		b.WriteString(html.EscapeString(e.Text))
	}
	if e.Label != "" && e.Label != e.Text {
		fmt.Fprintf(&b, " (label: %s)", html.EscapeString(e.Label))
	}
	return b.String()
}

// TextConverter turns page HTML into bounded markdown used as surrounding
// context. Scripts, styles and event handlers are stripped before
// conversion.
type TextConverter struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// NewTextConverter creates a TextConverter.
func NewTextConverter() *TextConverter {
	p := bluemonday.UGCPolicy()
	p.AllowElements("form", "label", "fieldset", "legend", "button", "select", "option", "textarea", "input")
	p.AllowAttrs("id", "name", "type", "placeholder", "for").Globally()
	return &TextConverter{
		policy: p,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Convert sanitizes raw and converts it to markdown truncated to maxBytes.
func (t *TextConverter) Convert(raw []byte, pageURL string, maxBytes int) (string, error) {
	clean := t.policy.SanitizeBytes(raw)
	md, err := t.conv.ConvertString(string(clean), converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("extract: convert markdown: %w", err)
	}
	md = strings.TrimSpace(md)
	if maxBytes > 0 && len(md) > maxBytes {
		md = truncate(md, maxBytes)
	}
	return md, nil
}
