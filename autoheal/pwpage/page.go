// CLAUDE:SUMMARY playwright-go adapter: locator counting, actionability state, trial-mode dry runs and actions mapped to locator sentinels.
// Package pwpage adapts a playwright.Page to locator.Page. Locators are
// passed to Playwright unchanged, so its full selector engine (CSS, text=,
// :has-text(), role=, xpath) is available.
package pwpage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Page implements locator.Page, locator.DryRunner and locator.Identifier.
type Page struct {
	page playwright.Page
	gen  atomic.Uint64
}

// New wraps page. Main frame navigations advance the page generation.
func New(page playwright.Page) *Page {
	p := &Page{page: page}
	page.OnFrameNavigated(func(f playwright.Frame) {
		if f.ParentFrame() == nil {
			p.gen.Add(1)
		}
	})
	return p
}

// Playwright returns the underlying page.
func (p *Page) Playwright() playwright.Page { return p.page }

// Identity implements locator.Identifier.
func (p *Page) Identity(_ context.Context) (locator.Identity, error) {
	return locator.Identity{Scope: locator.ScopeOf(p.page.URL()), Generation: p.gen.Load()}, nil
}

// Count implements locator.Page.
func (p *Page) Count(ctx context.Context, loc locator.Locator) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.page.Locator(string(loc)).Count()
	if err != nil {
		return 0, p.mapErr(ctx, loc, err)
	}
	return n, nil
}

// State implements locator.Page.
func (p *Page) State(ctx context.Context, loc locator.Locator) (locator.ElementState, error) {
	l, err := p.resolve(ctx, loc)
	if err != nil {
		return locator.ElementState{}, err
	}
	return p.state(ctx, loc, l)
}

// Content implements locator.Page.
func (p *Page) Content(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	html, err := p.page.Content()
	if err != nil {
		return nil, fmt.Errorf("pwpage: content: %w", err)
	}
	return []byte(html), nil
}

// DryRun implements locator.DryRunner using Playwright's trial mode where
// the action has one; fill and getText are covered by the state checks.
func (p *Page) DryRun(ctx context.Context, loc locator.Locator, act locator.Action) error {
	l, err := p.actionable(ctx, loc, act.Kind)
	if err != nil {
		return err
	}
	timeout := timeoutMs(ctx)
	trial := playwright.Bool(true)
	switch act.Kind {
	case locator.ActionClick:
		err = l.Click(playwright.LocatorClickOptions{Trial: trial, Timeout: timeout})
	case locator.ActionCheck:
		err = l.Check(playwright.LocatorCheckOptions{Trial: trial, Timeout: timeout})
	case locator.ActionUncheck:
		err = l.Uncheck(playwright.LocatorUncheckOptions{Trial: trial, Timeout: timeout})
	case locator.ActionHover:
		err = l.Hover(playwright.LocatorHoverOptions{Trial: trial, Timeout: timeout})
	case locator.ActionSelect:
		_, err := p.optionValue(ctx, loc, l, act.Value)
		return err
	}
	if err != nil {
		return p.mapErr(ctx, loc, err)
	}
	return nil
}

// Do implements locator.Page.
func (p *Page) Do(ctx context.Context, loc locator.Locator, act locator.Action) (string, error) {
	l, err := p.actionable(ctx, loc, act.Kind)
	if err != nil {
		return "", err
	}
	timeout := timeoutMs(ctx)

	var out string
	switch act.Kind {
	case locator.ActionFill:
		err = l.Fill(act.Value, playwright.LocatorFillOptions{Timeout: timeout})
	case locator.ActionClick:
		err = l.Click(playwright.LocatorClickOptions{Timeout: timeout})
	case locator.ActionCheck:
		err = l.Check(playwright.LocatorCheckOptions{Timeout: timeout})
	case locator.ActionUncheck:
		err = l.Uncheck(playwright.LocatorUncheckOptions{Timeout: timeout})
	case locator.ActionSelect:
		var val string
		if val, err = p.optionValue(ctx, loc, l, act.Value); err != nil {
			return "", err
		}
		_, err = l.SelectOption(playwright.SelectOptionValues{Values: &[]string{val}},
			playwright.LocatorSelectOptionOptions{Timeout: timeout})
	case locator.ActionHover:
		err = l.Hover(playwright.LocatorHoverOptions{Timeout: timeout})
	case locator.ActionGetText:
		out, err = l.TextContent(playwright.LocatorTextContentOptions{Timeout: timeout})
	default:
		return "", fmt.Errorf("pwpage: unknown action %q", act.Kind)
	}
	if err != nil {
		return "", p.mapErr(ctx, loc, err)
	}
	return out, nil
}

func (p *Page) resolve(ctx context.Context, loc locator.Locator) (playwright.Locator, error) {
	n, err := p.Count(ctx, loc)
	if err != nil {
		return nil, err
	}
	switch {
	case n == 0:
		return nil, fmt.Errorf("pwpage: %q: %w", loc, locator.ErrNotFound)
	case n > 1:
		return nil, fmt.Errorf("pwpage: %q matched %d elements: %w", loc, n, locator.ErrAmbiguous)
	}
	return p.page.Locator(string(loc)), nil
}

func (p *Page) actionable(ctx context.Context, loc locator.Locator, kind locator.ActionKind) (playwright.Locator, error) {
	l, err := p.resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	st, err := p.state(ctx, loc, l)
	if err != nil {
		return nil, err
	}
	if err := st.Satisfies(kind); err != nil {
		return nil, fmt.Errorf("pwpage: %s %q: %w", kind, loc, err)
	}
	return l, nil
}

const describeJS = `el => ({tag: el.tagName.toLowerCase(), type: (el.getAttribute("type") || "").toLowerCase()})`

func (p *Page) state(ctx context.Context, loc locator.Locator, l playwright.Locator) (locator.ElementState, error) {
	var st locator.ElementState
	var err error
	if st.Visible, err = l.IsVisible(); err != nil {
		return st, p.mapErr(ctx, loc, err)
	}
	if st.Enabled, err = l.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: timeoutMs(ctx)}); err != nil {
		return st, p.mapErr(ctx, loc, err)
	}
	// IsEditable fails on elements that cannot be edited at all.
	st.Editable, err = l.IsEditable(playwright.LocatorIsEditableOptions{Timeout: timeoutMs(ctx)})
	if err != nil {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		st.Editable = false
	}
	if v, err := l.Evaluate(describeJS, nil); err == nil {
		if m, ok := v.(map[string]any); ok {
			st.Tag, _ = m["tag"].(string)
			st.Type, _ = m["type"].(string)
		}
	}
	return st, nil
}

// optionJS returns the value of the option matching want by value or
// label, or null.
const optionJS = `(el, want) => {
	if (el.tagName.toLowerCase() !== "select") return null;
	const o = Array.from(el.options).find(o => o.value === want) ||
		Array.from(el.options).find(o => o.label === want || o.text.trim() === want);
	return o ? o.value : null;
}`

func (p *Page) optionValue(ctx context.Context, loc locator.Locator, l playwright.Locator, want string) (string, error) {
	v, err := l.Evaluate(optionJS, want)
	if err != nil {
		return "", p.mapErr(ctx, loc, err)
	}
	val, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("pwpage: select %q: %w: no option %q", loc, locator.ErrNotActionable, want)
	}
	return val, nil
}

// mapErr turns Playwright timeouts into deadline errors so the healer
// treats them like any other expired attempt. A selector Playwright cannot
// parse matches nothing.
func (p *Page) mapErr(ctx context.Context, loc locator.Locator, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("pwpage: %q: %w: %v", loc, context.DeadlineExceeded, err)
	}
	if isSelectorError(err) {
		return fmt.Errorf("pwpage: %q: %w (%v)", loc, locator.ErrNotFound, err)
	}
	return fmt.Errorf("pwpage: %q: %w", loc, err)
}

// selectorErrors are the messages the Playwright driver uses when a
// selector fails to parse.
var selectorErrors = []string{
	"is not a valid selector",
	"Unexpected token",
	"Unknown engine",
	"Failed to parse selector",
	"Invalid selector",
}

func isSelectorError(err error) bool {
	msg := err.Error()
	for _, s := range selectorErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// timeoutMs converts the context deadline to a Playwright timeout. Without
// a deadline the page default applies.
func timeoutMs(ctx context.Context) *float64 {
	dl, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := max(float64(time.Until(dl).Milliseconds()), 1)
	return playwright.Float(ms)
}
