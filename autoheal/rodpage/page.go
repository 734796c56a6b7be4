// CLAUDE:SUMMARY go-rod adapter: resolves CSS, XPath, text= and :has-text() locators on a live Chrome tab and maps failures to locator sentinels.
// Package rodpage adapts a *rod.Page to locator.Page.
//
// CSS locators go through querySelectorAll, XPath (leading "/" or
// "xpath=") through document.evaluate, and the text forms (text=...,
// tag:has-text("...")) through a small in-page matcher, so every locator
// the heuristic generator builds resolves here too.
package rodpage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Page implements locator.Page, locator.DryRunner and locator.Identifier
// over a Rod tab.
type Page struct {
	page *rod.Page

	mu     sync.Mutex
	origin float64 // performance.timeOrigin of the last seen document
	gen    uint64
}

// New wraps page.
func New(page *rod.Page) *Page {
	return &Page{page: page}
}

// Rod returns the underlying tab.
func (p *Page) Rod() *rod.Page { return p.page }

// Identity implements locator.Identifier. The generation increments
// whenever a new document is loaded in the tab.
func (p *Page) Identity(ctx context.Context) (locator.Identity, error) {
	res, err := p.page.Context(ctx).Eval(`() => ({url: location.href, origin: performance.timeOrigin})`)
	if err != nil {
		return locator.Identity{}, fmt.Errorf("rodpage: identity: %w", err)
	}
	scope := locator.ScopeOf(res.Value.Get("url").Str())
	origin := res.Value.Get("origin").Num()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.origin != 0 && origin != p.origin {
		p.gen++
	}
	p.origin = origin
	return locator.Identity{Scope: scope, Generation: p.gen}, nil
}

// Count implements locator.Page.
func (p *Page) Count(ctx context.Context, loc locator.Locator) (int, error) {
	els, err := p.query(ctx, loc)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// State implements locator.Page.
func (p *Page) State(ctx context.Context, loc locator.Locator) (locator.ElementState, error) {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return locator.ElementState{}, err
	}
	return state(el)
}

// Content implements locator.Page.
func (p *Page) Content(ctx context.Context) ([]byte, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("rodpage: content: %w", mapErr(ctx, err))
	}
	return []byte(html), nil
}

// DryRun implements locator.DryRunner: the element resolves uniquely,
// passes the action's state checks, and suits the action.
func (p *Page) DryRun(ctx context.Context, loc locator.Locator, act locator.Action) error {
	el, err := p.actionable(ctx, loc, act.Kind)
	if err != nil {
		return err
	}
	return checkTarget(el, act)
}

// Do implements locator.Page.
func (p *Page) Do(ctx context.Context, loc locator.Locator, act locator.Action) (string, error) {
	el, err := p.actionable(ctx, loc, act.Kind)
	if err != nil {
		return "", err
	}
	if err := checkTarget(el, act); err != nil {
		return "", fmt.Errorf("rodpage: %s %q: %w", act.Kind, loc, err)
	}

	var out string
	switch act.Kind {
	case locator.ActionFill:
		if err = el.SelectAllText(); err == nil {
			err = el.Input(act.Value)
		}
	case locator.ActionClick:
		err = el.Click(proto.InputMouseButtonLeft, 1)
	case locator.ActionCheck, locator.ActionUncheck:
		err = setChecked(el, act.Kind == locator.ActionCheck)
	case locator.ActionSelect:
		_, err = el.Eval(selectJS, act.Value)
	case locator.ActionHover:
		err = el.Hover()
	case locator.ActionGetText:
		out, err = el.Text()
	default:
		return "", fmt.Errorf("rodpage: unknown action %q", act.Kind)
	}
	if err != nil {
		return "", fmt.Errorf("rodpage: %s %q: %w", act.Kind, loc, mapErr(ctx, err))
	}
	return out, nil
}

func (p *Page) actionable(ctx context.Context, loc locator.Locator, kind locator.ActionKind) (*rod.Element, error) {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	st, err := state(el)
	if err != nil {
		return nil, err
	}
	if err := st.Satisfies(kind); err != nil {
		return nil, fmt.Errorf("rodpage: %s %q: %w", kind, loc, err)
	}
	return el, nil
}

func (p *Page) resolve(ctx context.Context, loc locator.Locator) (*rod.Element, error) {
	els, err := p.query(ctx, loc)
	if err != nil {
		return nil, err
	}
	switch len(els) {
	case 0:
		return nil, fmt.Errorf("rodpage: %q: %w", loc, locator.ErrNotFound)
	case 1:
		return els[0], nil
	default:
		return nil, fmt.Errorf("rodpage: %q matched %d elements: %w", loc, len(els), locator.ErrAmbiguous)
	}
}

var hasText = regexp.MustCompile(`^([a-zA-Z][\w-]*|\*)?:has-text\(\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')\s*\)$`)

// query resolves loc. Invalid selectors count as no match.
func (p *Page) query(ctx context.Context, loc locator.Locator) (rod.Elements, error) {
	pg := p.page.Context(ctx)
	s := strings.TrimSpace(string(loc))

	var els rod.Elements
	var err error
	switch {
	case strings.HasPrefix(s, "xpath="):
		els, err = pg.ElementsX(strings.TrimPrefix(s, "xpath="))
	case strings.HasPrefix(s, "/") || strings.HasPrefix(s, "("):
		els, err = pg.ElementsX(s)
	case strings.HasPrefix(s, "text="):
		els, err = pg.ElementsByJS(rod.Eval(textJS, "*", unquote(strings.TrimPrefix(s, "text=")), true))
	default:
		if m := hasText.FindStringSubmatch(s); m != nil {
			tag := m[1]
			if tag == "" {
				tag = "*"
			}
			text := m[2] + m[3]
			els, err = pg.ElementsByJS(rod.Eval(textJS, tag, unescape(text), false))
		} else {
			els, err = pg.Elements(s)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var evalErr *rod.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("rodpage: %q: %w (%v)", loc, locator.ErrNotFound, err)
		}
		return nil, fmt.Errorf("rodpage: query %q: %w", loc, err)
	}
	return els, nil
}

// textJS returns the innermost elements whose trimmed text contains (or,
// when exact, equals) the wanted text, case-insensitively for contains.
const textJS = `(tag, want, exact) => {
	const norm = s => (s || "").replace(/\s+/g, " ").trim();
	const w = norm(want);
	const hit = el => {
		const t = norm(el.innerText || el.textContent || el.value);
		return exact ? t === w : t.toLowerCase().includes(w.toLowerCase());
	};
	const all = Array.from(document.querySelectorAll(tag)).filter(hit);
	return all.filter(el => !all.some(o => o !== el && el.contains(o)));
}`

const stateJS = `() => {
	const el = this;
	const style = getComputedStyle(el);
	const rect = el.getBoundingClientRect();
	const visible = style.visibility !== "hidden" && style.display !== "none" && rect.width > 0 && rect.height > 0;
	const disabled = !!el.disabled || el.getAttribute("aria-disabled") === "true";
	const tag = el.tagName.toLowerCase();
	const type = (el.getAttribute("type") || "").toLowerCase();
	const textual = (tag === "input" && !["checkbox", "radio", "submit", "button", "reset", "image", "file", "hidden", "range", "color"].includes(type)) || tag === "textarea";
	const editable = !disabled && ((textual && !el.readOnly) || el.isContentEditable);
	return {visible, enabled: !disabled, editable, tag, type};
}`

const selectJS = `(want) => {
	const opts = Array.from(this.options || []);
	const o = opts.find(o => o.value === want) || opts.find(o => o.label === want || o.text.trim() === want);
	if (!o) throw new Error("no option " + want);
	this.value = o.value;
	this.dispatchEvent(new Event("input", {bubbles: true}));
	this.dispatchEvent(new Event("change", {bubbles: true}));
}`

const targetJS = `(kind, want) => {
	const tag = this.tagName.toLowerCase();
	const type = (this.getAttribute("type") || "").toLowerCase();
	const role = (this.getAttribute("role") || "").toLowerCase();
	if (kind === "check" || kind === "uncheck") {
		return (tag === "input" && (type === "checkbox" || type === "radio")) || role === "checkbox" ? "" : "not a checkbox or radio";
	}
	if (kind === "select") {
		if (tag !== "select") return "not a select element";
		const opts = Array.from(this.options);
		return opts.some(o => o.value === want || o.label === want || o.text.trim() === want) ? "" : "no option " + JSON.stringify(want);
	}
	return "";
}`

func state(el *rod.Element) (locator.ElementState, error) {
	res, err := el.Eval(stateJS)
	if err != nil {
		return locator.ElementState{}, fmt.Errorf("rodpage: state: %w", err)
	}
	v := res.Value
	return locator.ElementState{
		Visible:  v.Get("visible").Bool(),
		Enabled:  v.Get("enabled").Bool(),
		Editable: v.Get("editable").Bool(),
		Tag:      v.Get("tag").Str(),
		Type:     v.Get("type").Str(),
	}, nil
}

func checkTarget(el *rod.Element, act locator.Action) error {
	if act.Kind != locator.ActionCheck && act.Kind != locator.ActionUncheck && act.Kind != locator.ActionSelect {
		return nil
	}
	res, err := el.Eval(targetJS, string(act.Kind), act.Value)
	if err != nil {
		return fmt.Errorf("rodpage: target check: %w", err)
	}
	if reason := res.Value.Str(); reason != "" {
		return fmt.Errorf("%w: %s", locator.ErrNotActionable, reason)
	}
	return nil
}

func setChecked(el *rod.Element, want bool) error {
	prop, err := el.Property("checked")
	if err != nil {
		return err
	}
	if prop.Bool() == want {
		return nil
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// mapErr reports deadline expiry through the context error and rod's
// visibility and coverage failures as ErrNotActionable.
func mapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var (
		invisible *rod.InvisibleShapeError
		covered   *rod.CoveredError
		notInter  *rod.NotInteractableError
	)
	switch {
	case errors.As(err, &invisible), errors.As(err, &covered), errors.As(err, &notInter):
		return fmt.Errorf("%w: %v", locator.ErrNotActionable, err)
	}
	return err
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return unescape(s[1 : len(s)-1])
	}
	return s
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
