package rodpage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/selfheal/autoheal/internal/browser"
)

// Options configures Open.
type Options struct {
	Remote   string // DevTools websocket URL; empty launches a local Chrome
	Headless bool
	Stealth  bool
	Block    []string
	Logger   *slog.Logger
}

// Session is a tab opened by Open together with the browser behind it.
type Session struct {
	*Page
	mgr *browser.Manager
}

// Open starts (or connects to) Chrome and loads pageURL in a new tab.
func Open(ctx context.Context, pageURL string, opts Options) (*Session, error) {
	mgr := browser.NewManager(browser.Config{
		RemoteURL: opts.Remote,
		Headless:  opts.Headless,
		Stealth:   opts.Stealth,
		Block:     opts.Block,
		Logger:    opts.Logger,
	})
	tab, err := mgr.OpenTab(ctx, pageURL)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	return &Session{Page: New(tab), mgr: mgr}, nil
}

// Close closes the tab and the browser.
func (s *Session) Close() error {
	return errors.Join(s.page.Close(), s.mgr.Close())
}
