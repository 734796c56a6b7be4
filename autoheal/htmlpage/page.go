// CLAUDE:SUMMARY Static HTML page adapter: resolves locators against a parsed document and simulates actions in memory.
// Package htmlpage implements locator.Page over a static HTML document held
// in memory. Actions mutate the parsed tree (fill sets value, check sets
// checked) so a sequence of healed actions can be observed afterwards.
//
// It backs the CLI file mode, the MCP heal tool and the engine tests.
package htmlpage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/selfheal/autoheal/internal/extract"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Event is one performed action.
type Event struct {
	Locator locator.Locator
	Action  locator.Action
}

// Page is an in-memory page. Safe for concurrent use.
type Page struct {
	mu      sync.Mutex
	url     string
	gen     uint64
	doc     *html.Node
	events  []Event
	latency time.Duration
}

// Option configures a Page.
type Option func(*Page)

// WithLatency delays every page operation by d, honouring the context.
func WithLatency(d time.Duration) Option {
	return func(p *Page) { p.latency = d }
}

// New parses content as the document loaded from pageURL.
func New(pageURL string, content []byte, opts ...Option) (*Page, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("htmlpage: parse: %w", err)
	}
	p := &Page{url: pageURL, doc: doc}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Open reads an HTML file. The page URL is the file:// form of path.
func Open(path string, opts ...Option) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("htmlpage: open: %w", err)
	}
	return New("file://"+path, data, opts...)
}

// Navigate replaces the document. The generation increments even when
// the URL is unchanged.
func (p *Page) Navigate(pageURL string, content []byte) error {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("htmlpage: parse: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = pageURL
	p.doc = doc
	p.gen++
	return nil
}

// Identity implements locator.Identifier.
func (p *Page) Identity(_ context.Context) (locator.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return locator.Identity{Scope: locator.ScopeOf(p.url), Generation: p.gen}, nil
}

// URL returns the current page URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Events returns a copy of the performed actions, in order.
func (p *Page) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Value returns the current value of the single element loc matches:
// the value attribute for form fields, the text otherwise.
func (p *Page) Value(loc locator.Locator) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.resolve(loc)
	if err != nil {
		return "", err
	}
	return valueOf(n), nil
}

// Count implements locator.Page.
func (p *Page) Count(ctx context.Context, loc locator.Locator) (int, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, err := p.query(loc)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// State implements locator.Page.
func (p *Page) State(ctx context.Context, loc locator.Locator) (locator.ElementState, error) {
	if err := p.wait(ctx); err != nil {
		return locator.ElementState{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.resolve(loc)
	if err != nil {
		return locator.ElementState{}, err
	}
	return extract.State(n), nil
}

// Content implements locator.Page.
func (p *Page) Content(ctx context.Context) ([]byte, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc); err != nil {
		return nil, fmt.Errorf("htmlpage: render: %w", err)
	}
	return buf.Bytes(), nil
}

// DryRun implements locator.DryRunner: it runs every check Do would run
// without mutating the document.
func (p *Page) DryRun(ctx context.Context, loc locator.Locator, act locator.Action) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.actionable(loc, act.Kind)
	if err != nil {
		return err
	}
	return checkTarget(n, act)
}

// Do implements locator.Page.
func (p *Page) Do(ctx context.Context, loc locator.Locator, act locator.Action) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.actionable(loc, act.Kind)
	if err != nil {
		return "", err
	}
	if err := checkTarget(n, act); err != nil {
		return "", fmt.Errorf("htmlpage: %s %q: %w", act.Kind, loc, err)
	}

	var out string
	switch act.Kind {
	case locator.ActionFill:
		setValue(n, act.Value)
	case locator.ActionClick:
		if isToggle(n) {
			setFlag(n, "checked", !hasFlag(n, "checked"))
		}
	case locator.ActionCheck:
		setFlag(n, "checked", true)
	case locator.ActionUncheck:
		setFlag(n, "checked", false)
	case locator.ActionSelect:
		selectOption(n, act.Value)
	case locator.ActionGetText:
		out = valueOf(n)
	case locator.ActionHover:
	default:
		return "", fmt.Errorf("htmlpage: unknown action %q", act.Kind)
	}
	p.events = append(p.events, Event{Locator: loc, Action: act})
	return out, nil
}

func (p *Page) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// query must be called with mu held.
func (p *Page) query(loc locator.Locator) ([]*html.Node, error) {
	sel, err := extract.Compile(string(loc))
	if err != nil {
		return nil, fmt.Errorf("htmlpage: %q: %w (%w)", loc, locator.ErrNotFound, err)
	}
	return sel.MatchAll(p.doc), nil
}

// resolve must be called with mu held.
func (p *Page) resolve(loc locator.Locator) (*html.Node, error) {
	nodes, err := p.query(loc)
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return nil, fmt.Errorf("htmlpage: %q: %w", loc, locator.ErrNotFound)
	case 1:
		return nodes[0], nil
	default:
		return nil, fmt.Errorf("htmlpage: %q matched %d elements: %w", loc, len(nodes), locator.ErrAmbiguous)
	}
}

func (p *Page) actionable(loc locator.Locator, kind locator.ActionKind) (*html.Node, error) {
	n, err := p.resolve(loc)
	if err != nil {
		return nil, err
	}
	if err := extract.State(n).Satisfies(kind); err != nil {
		return nil, fmt.Errorf("htmlpage: %s %q: %w", kind, loc, err)
	}
	return n, nil
}

// checkTarget verifies the element kind suits the action.
func checkTarget(n *html.Node, act locator.Action) error {
	switch act.Kind {
	case locator.ActionCheck, locator.ActionUncheck:
		if !isToggle(n) {
			return fmt.Errorf("%w: not a checkbox or radio", locator.ErrNotActionable)
		}
	case locator.ActionSelect:
		if n.Data != "select" {
			return fmt.Errorf("%w: not a select element", locator.ErrNotActionable)
		}
		if findOption(n, act.Value) == nil {
			return fmt.Errorf("%w: no option %q", locator.ErrNotActionable, act.Value)
		}
	}
	return nil
}

func isToggle(n *html.Node) bool {
	if n.Data != "input" {
		return strings.EqualFold(extract.Attr(n, "role"), "checkbox")
	}
	t := strings.ToLower(extract.Attr(n, "type"))
	return t == "checkbox" || t == "radio"
}

func valueOf(n *html.Node) string {
	switch n.Data {
	case "input":
		return extract.Attr(n, "value")
	case "select":
		if o := selectedOption(n); o != nil {
			return optionValue(o)
		}
		return ""
	}
	return extract.NodeText(n)
}

func setValue(n *html.Node, v string) {
	if n.Data == "input" {
		setAttr(n, "value", v)
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: v})
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasFlag(n *html.Node, key string) bool {
	_, ok := extract.LookupAttr(n, key)
	return ok
}

func setFlag(n *html.Node, key string, on bool) {
	if on {
		if !hasFlag(n, key) {
			n.Attr = append(n.Attr, html.Attribute{Key: key})
		}
		return
	}
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

func options(sel *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "option" {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel)
	return out
}

func optionValue(o *html.Node) string {
	if v, ok := extract.LookupAttr(o, "value"); ok {
		return v
	}
	return extract.NodeText(o)
}

func findOption(sel *html.Node, want string) *html.Node {
	for _, o := range options(sel) {
		if optionValue(o) == want || extract.NodeText(o) == want {
			return o
		}
	}
	return nil
}

func selectedOption(sel *html.Node) *html.Node {
	opts := options(sel)
	for _, o := range opts {
		if hasFlag(o, "selected") {
			return o
		}
	}
	if len(opts) > 0 {
		return opts[0]
	}
	return nil
}

func selectOption(sel *html.Node, want string) {
	target := findOption(sel, want)
	for _, o := range options(sel) {
		setFlag(o, "selected", o == target)
	}
}
