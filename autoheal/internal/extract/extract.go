// CLAUDE:SUMMARY Parses a page's HTML snapshot and enumerates interactive elements with their distinguishing attributes.
// Package extract turns the serialized DOM of a page into the bounded list
// of interactive elements the candidate generator scores. It also hosts the
// selector subset used to resolve locators against a snapshot.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// DefaultMaxElements bounds the number of interactive elements extracted.
const DefaultMaxElements = 500

// maxTextLen bounds the visible text kept per element.
const maxTextLen = 120

// KeyAttrs are the attributes retained on an Element, in the order they
// are rendered into prompts.
var KeyAttrs = []string{
	"id", "name", "data-test", "data-testid", "data-test-id", "data-qa", "data-cy",
	"type", "role", "placeholder", "aria-label", "title", "alt", "value", "href", "class",
}

// Element is one interactive element of a snapshot.
type Element struct {
	Index  int               `json:"index"`
	Tag    string            `json:"tag"`
	Attrs  map[string]string `json:"attrs,omitempty"`
	Text   string            `json:"text,omitempty"`
	Label  string            `json:"label,omitempty"`
	Hidden bool              `json:"hidden,omitempty"`

	node *html.Node
}

// Node returns the parsed node backing the element.
func (e Element) Node() *html.Node { return e.node }

// Snapshot is a parsed page document plus its interactive elements.
type Snapshot struct {
	Doc      *html.Node
	Elements []Element
	Raw      []byte

	index map[*html.Node]int
}

// Take reads the page content and parses it.
func Take(ctx context.Context, page locator.Page, maxElements int) (*Snapshot, error) {
	raw, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract: page content: %w", err)
	}
	return Parse(raw, maxElements)
}

// Parse builds a Snapshot from serialized HTML. maxElements <= 0 uses
// DefaultMaxElements.
func Parse(raw []byte, maxElements int) (*Snapshot, error) {
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	s := &Snapshot{Doc: doc, Raw: raw, index: make(map[*html.Node]int)}
	labels := collectLabels(doc)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(s.Elements) >= maxElements {
			return
		}
		if n.Type == html.ElementNode {
			if skipText(n) {
				return
			}
			if IsInteractive(n) {
				s.index[n] = len(s.Elements)
				s.Elements = append(s.Elements, newElement(n, len(s.Elements), labels))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return s, nil
}

// Query resolves loc against the snapshot document.
func (s *Snapshot) Query(loc locator.Locator) ([]*html.Node, error) {
	sel, err := Compile(string(loc))
	if err != nil {
		return nil, err
	}
	return sel.MatchAll(s.Doc), nil
}

// ElementFor returns the interactive element backed by n.
func (s *Snapshot) ElementFor(n *html.Node) (Element, bool) {
	i, ok := s.index[n]
	if !ok {
		return Element{}, false
	}
	return s.Elements[i], true
}

// Visible returns the elements not hidden by markup.
func (s *Snapshot) Visible() []Element {
	out := make([]Element, 0, len(s.Elements))
	for _, e := range s.Elements {
		if !e.Hidden {
			out = append(out, e)
		}
	}
	return out
}

func newElement(n *html.Node, idx int, labels map[string]string) Element {
	e := Element{
		Index:  idx,
		Tag:    n.Data,
		Attrs:  make(map[string]string),
		Hidden: IsHidden(n),
		node:   n,
	}
	for _, k := range KeyAttrs {
		if v, ok := LookupAttr(n, k); ok && v != "" {
			e.Attrs[k] = truncate(v, maxTextLen)
		}
	}
	if n.Data != "select" {
		e.Text = truncate(NodeText(n), maxTextLen)
	}
	if id := Attr(n, "id"); id != "" {
		e.Label = labels[id]
	}
	if e.Label == "" {
		for p := parentElement(n); p != nil; p = parentElement(p) {
			if p.Data == "label" {
				e.Label = truncate(NodeText(p), maxTextLen)
				break
			}
		}
	}
	return e
}

func collectLabels(doc *html.Node) map[string]string {
	labels := make(map[string]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "label" {
			if f := Attr(n, "for"); f != "" {
				labels[f] = truncate(NodeText(n), maxTextLen)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return labels
}

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "checkbox": true, "radio": true, "textbox": true,
	"combobox": true, "option": true, "tab": true, "menuitem": true, "switch": true,
	"searchbox": true, "listbox": true,
}

// IsInteractive reports whether n is an element a user can act on.
func IsInteractive(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "button", "select", "textarea", "summary":
		return true
	case "input":
		return !strings.EqualFold(Attr(n, "type"), "hidden")
	case "a":
		_, ok := LookupAttr(n, "href")
		return ok
	}
	if interactiveRoles[strings.ToLower(Attr(n, "role"))] {
		return true
	}
	if _, ok := LookupAttr(n, "onclick"); ok {
		return true
	}
	if v, ok := LookupAttr(n, "contenteditable"); ok && v != "false" {
		return true
	}
	return false
}

// IsHidden reports whether markup hides n or one of its ancestors.
func IsHidden(n *html.Node) bool {
	if n.Data == "input" && strings.EqualFold(Attr(n, "type"), "hidden") {
		return true
	}
	for e := n; e != nil; e = parentElement(e) {
		if skipText(e) {
			return true
		}
		if _, ok := LookupAttr(e, "hidden"); ok {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(Attr(e, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

// IsDisabled reports whether n is disabled, directly or through a
// disabled fieldset.
func IsDisabled(n *html.Node) bool {
	if _, ok := LookupAttr(n, "disabled"); ok {
		return true
	}
	if strings.EqualFold(Attr(n, "aria-disabled"), "true") {
		return true
	}
	for p := parentElement(n); p != nil; p = parentElement(p) {
		if p.Data == "fieldset" {
			if _, ok := LookupAttr(p, "disabled"); ok {
				return true
			}
		}
	}
	return false
}

// IsEditable reports whether n accepts typed text.
func IsEditable(n *html.Node) bool {
	if _, ok := LookupAttr(n, "readonly"); ok {
		return false
	}
	switch n.Data {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(Attr(n, "type")) {
		case "", "text", "password", "email", "search", "tel", "url", "number",
			"date", "datetime-local", "month", "time", "week":
			return true
		}
		return false
	}
	if v, ok := LookupAttr(n, "contenteditable"); ok && v != "false" {
		return true
	}
	return strings.EqualFold(Attr(n, "role"), "textbox")
}

// State derives the element state of n from markup alone.
func State(n *html.Node) locator.ElementState {
	disabled := IsDisabled(n)
	return locator.ElementState{
		Visible:  !IsHidden(n),
		Enabled:  !disabled,
		Editable: !disabled && IsEditable(n),
		Tag:      n.Data,
		Type:     strings.ToLower(Attr(n, "type")),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
