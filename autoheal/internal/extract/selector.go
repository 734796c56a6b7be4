// CLAUDE:SUMMARY Locator compilation against parsed HTML: CSS via cascadia, plus text=, :has-text() and :text-is().
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// ErrUnsupported is returned for selector syntax outside the supported
// subset (sibling combinators next to text pseudo-classes).
var ErrUnsupported = errors.New("extract: unsupported selector")

// Selector is a compiled locator. Supported forms:
//   - any CSS selector cascadia accepts, optionally prefixed with css=
//   - :has-text("x") (case-insensitive substring) and :text-is("x") (exact)
//     on any compound, with descendant and child combinators
//   - text=foo (substring, case-insensitive) and text="foo" (exact)
//   - XPath 1.0, either prefixed with xpath= or starting with / or (
type Selector struct {
	raw    string
	groups []group
	text   *textMatch
	xp     *xpath.Expr
}

// group is one comma-separated alternative. Plain CSS is matched by
// cascadia as a whole; groups carrying text pseudo-classes are split into
// compounds walked here.
type group struct {
	css   cascadia.Selector
	steps []step
}

type step struct {
	comb  byte // 0 for the first step, ' ' descendant, '>' child
	css   cascadia.Selector
	texts []textMatch
}

type textMatch struct {
	val   string
	exact bool
}

var textPseudo = regexp.MustCompile(`:(has-text|text-is)\(\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')\s*\)`)

// Compile parses sel.
func Compile(sel string) (*Selector, error) {
	raw := sel
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil, fmt.Errorf("extract: empty selector")
	}
	if strings.HasPrefix(sel, "xpath=") || strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(") {
		expr, err := xpath.Compile(strings.TrimPrefix(sel, "xpath="))
		if err != nil {
			return nil, fmt.Errorf("extract: compile xpath %q: %w", sel, err)
		}
		return &Selector{raw: raw, xp: expr}, nil
	}
	if rest, ok := strings.CutPrefix(sel, "text="); ok {
		tm := textMatch{val: rest}
		if len(rest) >= 2 && (rest[0] == '"' || rest[0] == '\'') && rest[len(rest)-1] == rest[0] {
			tm = textMatch{val: unescape(rest[1 : len(rest)-1]), exact: true}
		}
		if strings.TrimSpace(tm.val) == "" {
			return nil, fmt.Errorf("extract: empty text selector")
		}
		return &Selector{raw: raw, text: &tm}, nil
	}
	sel = strings.TrimPrefix(sel, "css=")

	s := &Selector{raw: raw}
	for _, g := range splitTopLevel(sel, ',') {
		g = strings.TrimSpace(g)
		if g == "" {
			return nil, fmt.Errorf("extract: compile %q: empty group", sel)
		}
		var (
			cg  group
			err error
		)
		if textPseudo.MatchString(g) {
			cg.steps, err = compileSteps(g)
		} else {
			cg.css, err = cascadia.Compile(g)
		}
		if err != nil {
			return nil, fmt.Errorf("extract: compile %q: %w", sel, err)
		}
		s.groups = append(s.groups, cg)
	}
	return s, nil
}

// compileSteps splits g into compounds, strips their text pseudo-classes
// and compiles the rest with cascadia.
func compileSteps(g string) ([]step, error) {
	var steps []step
	comb := byte(0)
	for _, tok := range splitCompounds(g) {
		switch tok {
		case ">":
			if len(steps) == 0 || comb == '>' {
				return nil, fmt.Errorf("misplaced combinator")
			}
			comb = '>'
			continue
		case "+", "~":
			return nil, fmt.Errorf("%w: %q combinator with text pseudo-classes", ErrUnsupported, tok)
		}
		st := step{comb: comb}
		if len(steps) > 0 && comb == 0 {
			st.comb = ' '
		}
		for _, m := range textPseudo.FindAllStringSubmatch(tok, -1) {
			st.texts = append(st.texts, textMatch{val: unescape(m[2] + m[3]), exact: m[1] == "text-is"})
		}
		rest := textPseudo.ReplaceAllString(tok, "")
		if rest == "" {
			rest = "*"
		}
		css, err := cascadia.Compile(rest)
		if err != nil {
			return nil, err
		}
		st.css = css
		steps = append(steps, st)
		comb = 0
	}
	if len(steps) == 0 || comb != 0 {
		return nil, fmt.Errorf("dangling combinator")
	}
	return steps, nil
}

// splitCompounds tokenizes a complex selector into compounds and the
// combinators between them, ignoring whitespace.
func splitCompounds(s string) []string {
	var toks []string
	depth := 0
	var quote byte
	start := -1
	flush := func(i int) {
		if start >= 0 {
			toks = append(toks, s[start:i])
			start = -1
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case depth == 0 && isSpace(ch):
			flush(i)
			continue
		case depth == 0 && (ch == '>' || ch == '+' || ch == '~'):
			flush(i)
			toks = append(toks, string(ch))
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(s))
	return toks
}

// String returns the selector source.
func (s *Selector) String() string { return s.raw }

// MatchAll returns every element under root matching s, in document order.
func (s *Selector) MatchAll(root *html.Node) []*html.Node {
	if s.xp != nil {
		var els []*html.Node
		for _, n := range htmlquery.QuerySelectorAll(root, s.xp) {
			if n.Type == html.ElementNode {
				els = append(els, n)
			}
		}
		return els
	}
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && s.Matches(n) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

// Matches reports whether the element n matches s.
func (s *Selector) Matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.text != nil {
		return matchesTextSelector(n, *s.text)
	}
	if s.xp != nil {
		root := n
		for root.Parent != nil {
			root = root.Parent
		}
		for _, m := range htmlquery.QuerySelectorAll(root, s.xp) {
			if m == n {
				return true
			}
		}
		return false
	}
	for _, g := range s.groups {
		if g.css != nil {
			if g.css.Match(n) {
				return true
			}
			continue
		}
		if matchesSteps(n, g.steps, len(g.steps)-1) {
			return true
		}
	}
	return false
}

// matchesTextSelector selects the innermost elements carrying the text:
// an element matches when its own text matches and no child element does.
func matchesTextSelector(n *html.Node, tm textMatch) bool {
	if skipText(n) || !tm.matches(NodeText(n)) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && !skipText(c) && tm.matches(NodeText(c)) {
			return false
		}
	}
	return true
}

func matchesSteps(n *html.Node, steps []step, i int) bool {
	if !steps[i].matches(n) {
		return false
	}
	if i == 0 {
		return true
	}
	if steps[i].comb == '>' {
		p := parentElement(n)
		return p != nil && matchesSteps(p, steps, i-1)
	}
	for p := parentElement(n); p != nil; p = parentElement(p) {
		if matchesSteps(p, steps, i-1) {
			return true
		}
	}
	return false
}

func (st step) matches(n *html.Node) bool {
	if !st.css.Match(n) {
		return false
	}
	for _, tm := range st.texts {
		if !tm.matches(NodeText(n)) {
			return false
		}
	}
	return true
}

func (tm textMatch) matches(text string) bool {
	text = normalizeSpace(text)
	want := normalizeSpace(tm.val)
	if tm.exact {
		return text == want
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(want))
}

// splitTopLevel splits s on sep outside quotes, brackets and parentheses.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case ch == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isSpace(ch byte) bool { return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' }

// --- node helpers ---

// Attr returns the value of an attribute on a node.
func Attr(n *html.Node, key string) string {
	v, _ := LookupAttr(n, key)
	return v
}

// LookupAttr returns the attribute value and whether it is present.
func LookupAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

// NodeText returns the whitespace-normalized text content of n, skipping
// script, style and template subtrees.
func NodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && skipText(n) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return normalizeSpace(b.String())
}

func skipText(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "template", "noscript", "head":
		return true
	}
	return false
}

func parentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
