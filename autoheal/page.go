package autoheal

import (
	"context"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// HealingPage wraps a page so every action goes through the healer. It
// implements locator.Page itself, so it can be handed to code written
// against the plain adapter.
type HealingPage struct {
	h    *Healer
	page locator.Page
	id   locator.Identity
}

// Setup wraps page. When page implements locator.Identifier its identity
// is read before every action; otherwise id is used throughout.
func (h *Healer) Setup(page locator.Page, id locator.Identity) *HealingPage {
	return &HealingPage{h: h, page: page, id: id}
}

// Unwrap returns the adapter.
func (p *HealingPage) Unwrap() locator.Page { return p.page }

func (p *HealingPage) identity(ctx context.Context) locator.Identity {
	if ider, ok := p.page.(locator.Identifier); ok {
		if id, err := ider.Identity(ctx); err == nil {
			return id
		}
	}
	return p.id
}

// Do implements locator.Page with healing.
func (p *HealingPage) Do(ctx context.Context, loc locator.Locator, act locator.Action) (string, error) {
	return p.h.PerformAction(ctx, p.page, p.identity(ctx), loc, act)
}

// Count implements locator.Page.
func (p *HealingPage) Count(ctx context.Context, loc locator.Locator) (int, error) {
	return p.page.Count(ctx, loc)
}

// State implements locator.Page.
func (p *HealingPage) State(ctx context.Context, loc locator.Locator) (locator.ElementState, error) {
	return p.page.State(ctx, loc)
}

// Content implements locator.Page.
func (p *HealingPage) Content(ctx context.Context) ([]byte, error) {
	return p.page.Content(ctx)
}

func (p *HealingPage) Fill(ctx context.Context, loc locator.Locator, value string) error {
	_, err := p.Do(ctx, loc, locator.Fill(value))
	return err
}

func (p *HealingPage) Click(ctx context.Context, loc locator.Locator) error {
	_, err := p.Do(ctx, loc, locator.Click())
	return err
}

func (p *HealingPage) Check(ctx context.Context, loc locator.Locator) error {
	_, err := p.Do(ctx, loc, locator.Check())
	return err
}

func (p *HealingPage) Uncheck(ctx context.Context, loc locator.Locator) error {
	_, err := p.Do(ctx, loc, locator.Uncheck())
	return err
}

// SelectOption selects the option whose value or label is option.
func (p *HealingPage) SelectOption(ctx context.Context, loc locator.Locator, option string) error {
	_, err := p.Do(ctx, loc, locator.Select(option))
	return err
}

func (p *HealingPage) Hover(ctx context.Context, loc locator.Locator) error {
	_, err := p.Do(ctx, loc, locator.Hover())
	return err
}

// Text returns the element's text content.
func (p *HealingPage) Text(ctx context.Context, loc locator.Locator) (string, error) {
	return p.Do(ctx, loc, locator.GetText())
}
