// CLAUDE:SUMMARY Model advisor client: asks an OpenAI-compatible or Ollama endpoint for replacement locators, behind a timeout and circuit breaker.
// Package advisor talks to the external language model that proposes
// replacement locators for the generative strategy.
//
// The model is an unreliable collaborator: every call is bounded by a
// timeout, guarded by a circuit breaker, and every failure surfaces as
// locator.ErrAdvisorUnavailable so callers can fall back to heuristics.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Providers.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Request is one suggestion request.
type Request struct {
	Original locator.Locator
	Action   locator.ActionKind
	PageURL  string
	Elements string // compact element excerpt, one element per line
	PageText string // optional markdown page context
	Max      int
}

// Advisor proposes replacement locators.
type Advisor interface {
	Suggest(ctx context.Context, req Request) ([]locator.Locator, error)
	Name() string
}

// Config configures the advisor client.
type Config struct {
	Provider string        `json:"provider" yaml:"provider"`
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	Model    string        `json:"model" yaml:"model"`
	APIKey   string        `json:"api_key" yaml:"api_key"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`

	// MaxSuggestions caps the number of locators requested. Default: 5.
	MaxSuggestions int `json:"max_suggestions" yaml:"max_suggestions"`

	// BreakerThreshold is the consecutive failure count that opens the
	// breaker. Default: 3.
	BreakerThreshold int `json:"breaker_threshold" yaml:"breaker_threshold"`

	// BreakerReset is how long the breaker stays open. Default: 1m.
	BreakerReset time.Duration `json:"breaker_reset" yaml:"breaker_reset"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = ProviderNone
	}
	if c.Endpoint == "" {
		switch c.Provider {
		case ProviderOllama:
			c.Endpoint = "http://localhost:11434"
		case ProviderOpenAI:
			c.Endpoint = "https://api.openai.com"
		}
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderOllama:
			c.Model = "qwen2.5-coder:7b"
		case ProviderOpenAI:
			c.Model = "gpt-4o-mini"
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = 5
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Advisor for cfg.Provider. Unknown or "none" providers
// return an advisor that is always unavailable.
func New(cfg Config) Advisor {
	cfg.defaults()
	var inner client
	switch cfg.Provider {
	case ProviderOpenAI:
		inner = newOpenAIClient(cfg)
	case ProviderOllama:
		inner = newOllamaClient(cfg)
	default:
		if cfg.Provider != ProviderNone {
			cfg.Logger.Warn("advisor: unknown provider, generative strategy disabled", "provider", cfg.Provider)
		}
		return unavailable{}
	}
	return &guarded{
		inner: inner,
		cfg:   cfg,
		breaker: NewCircuitBreaker(
			WithBreakerThreshold(cfg.BreakerThreshold),
			WithBreakerResetTimeout(cfg.BreakerReset),
		),
	}
}

// client is one provider's raw completion call.
type client interface {
	complete(ctx context.Context, system, user string) (string, error)
	name() string
}

// guarded bounds, breaks and parses provider calls.
type guarded struct {
	inner   client
	cfg     Config
	breaker *CircuitBreaker
}

func (g *guarded) Name() string { return g.inner.name() }

func (g *guarded) Suggest(ctx context.Context, req Request) ([]locator.Locator, error) {
	if !g.breaker.Allow() {
		return nil, fmt.Errorf("%w: circuit open", locator.ErrAdvisorUnavailable)
	}
	if req.Max <= 0 || req.Max > g.cfg.MaxSuggestions {
		req.Max = g.cfg.MaxSuggestions
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	system, user := BuildPrompt(req)
	start := time.Now()
	text, err := g.inner.complete(callCtx, system, user)
	if err != nil {
		// Caller cancellation is not an advisor failure.
		if ctx.Err() == nil {
			g.breaker.RecordFailure()
		} else {
			g.breaker.Release()
		}
		g.cfg.Logger.Warn("advisor: completion failed",
			"provider", g.inner.name(), "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("%w: %w", locator.ErrAdvisorUnavailable, err)
	}
	g.breaker.RecordSuccess()

	sugg := ParseSuggestions(text, req.Max)
	g.cfg.Logger.Debug("advisor: suggestions",
		"provider", g.inner.name(), "count", len(sugg), "duration", time.Since(start))
	return sugg, nil
}

type unavailable struct{}

func (unavailable) Name() string { return ProviderNone }

func (unavailable) Suggest(context.Context, Request) ([]locator.Locator, error) {
	return nil, fmt.Errorf("%w: no provider configured", locator.ErrAdvisorUnavailable)
}

// IsUnavailable reports whether err came from an unreachable advisor.
func IsUnavailable(err error) bool {
	return errors.Is(err, locator.ErrAdvisorUnavailable)
}
