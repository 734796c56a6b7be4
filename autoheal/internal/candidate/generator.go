// CLAUDE:SUMMARY Lazy candidate generation from a page snapshot using heuristic similarity, an advisor model, or both.
// Package candidate proposes replacement locators for a broken one.
//
// Generation is lazy: the page snapshot is taken when the sequence is first
// pulled, and in "both" mode the advisor is only consulted once every
// heuristic candidate has been consumed.
package candidate

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/hazyhaar/selfheal/autoheal/internal/extract"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Strategy selects the generation strategies.
type Strategy string

const (
	StrategyHeuristic  Strategy = "heuristic"
	StrategyGenerative Strategy = "generative"
	StrategyBoth       Strategy = "both"
)

// ParseStrategy validates s. Empty means heuristic.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyHeuristic:
		return StrategyHeuristic, nil
	case StrategyGenerative, StrategyBoth:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("candidate: unknown strategy %q", s)
}

// Config configures a Generator.
type Config struct {
	Strategy    Strategy
	Heuristic   Heuristic
	Generative  *Generative // required for generative and both
	MaxElements int
	Logger      *slog.Logger
}

// Generator produces candidate sequences.
type Generator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Generator.
func New(cfg Config) *Generator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyHeuristic
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{cfg: cfg, logger: logger}
}

// Strategy returns the configured strategy.
func (g *Generator) Strategy() Strategy { return g.cfg.Strategy }

// Generate returns a finite, non-restartable sequence of candidates for
// original on page. Heuristic candidates come first, best first; then
// generative ones. Duplicates and the original itself are skipped. Any
// failure ends the sequence early; it never surfaces an error.
func (g *Generator) Generate(ctx context.Context, page locator.Page, pageURL string, original locator.Locator, kind locator.ActionKind) iter.Seq[locator.Candidate] {
	var used atomic.Bool
	return func(yield func(locator.Candidate) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		snap, err := extract.Take(ctx, page, g.cfg.MaxElements)
		if err != nil {
			g.logger.Warn("candidate: snapshot failed", "locator", original, "error", err)
			return
		}
		if len(snap.Elements) == 0 {
			g.logger.Debug("candidate: no interactive elements", "locator", original)
			return
		}

		seen := map[locator.Locator]bool{original: true}
		emit := func(cs []locator.Candidate) bool {
			for _, c := range cs {
				if seen[c.Locator] {
					continue
				}
				seen[c.Locator] = true
				if !yield(c) {
					return false
				}
			}
			return true
		}

		if g.cfg.Strategy != StrategyGenerative {
			if !emit(g.cfg.Heuristic.Candidates(snap, original, kind)) {
				return
			}
		}
		if g.cfg.Strategy != StrategyHeuristic && g.cfg.Generative != nil {
			if ctx.Err() != nil {
				return
			}
			emit(g.cfg.Generative.Candidates(ctx, snap, pageURL, original, kind))
		}
	}
}
