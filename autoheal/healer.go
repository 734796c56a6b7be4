// CLAUDE:SUMMARY Healing engine: intercepts page actions, heals failed locators via cache, candidate generation and verification, and records outcomes.
// Package autoheal repairs broken element locators while automation runs.
//
// A Healer sits between test code and a page adapter. Each action is first
// tried with the caller's locator. When that fails because the locator no
// longer resolves to exactly one actionable element, the healer looks up a
// previously healed replacement, or generates candidates from the current
// page, verifies them, and retries the action with the best ones. Every
// healing attempt is recorded for later review.
//
// Usage:
//
//	h, err := autoheal.New(autoheal.DefaultConfig())
//	defer h.Close()
//	p := h.Setup(rodpage.New(page), locator.Identity{})
//	err = p.Fill(ctx, "#user-name", "standard_user")
package autoheal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/selfheal/autoheal/internal/cache"
	"github.com/hazyhaar/selfheal/autoheal/internal/candidate"
	"github.com/hazyhaar/selfheal/autoheal/internal/extract"
	"github.com/hazyhaar/selfheal/autoheal/internal/recorder"
	"github.com/hazyhaar/selfheal/autoheal/internal/verify"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Option configures a Healer.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	sinks    []Sink
	advisor  Advisor
	registry *prometheus.Registry
	now      func() time.Time
	noConfig bool
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithSinks adds record sinks on top of those configured in Config.Report.
func WithSinks(s ...Sink) Option { return func(o *options) { o.sinks = append(o.sinks, s...) } }

// WithoutConfiguredSinks ignores Config.Report; only WithSinks sinks are used.
func WithoutConfiguredSinks() Option { return func(o *options) { o.noConfig = true } }

// WithAdvisor replaces the advisor built from the model_* settings.
func WithAdvisor(a Advisor) Option { return func(o *options) { o.advisor = a } }

// WithRegistry registers the healer metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(o *options) { o.registry = reg } }

// withClock is used by tests.
func withClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Healer is safe for concurrent use by many goroutines.
type Healer struct {
	cfg      Config
	logger   *slog.Logger
	gen      *candidate.Generator
	verifier *verify.Verifier
	cache    *cache.Cache
	rec      *recorder.Recorder
	registry *prometheus.Registry
	flights  singleflight.Group
	now      func() time.Time
	closed   atomic.Bool
}

// New creates a Healer. The configuration is completed with defaults for
// zero durations and limits; MaxRetries and DryRun are used as given, so
// start from DefaultConfig.
func New(cfg Config, opts ...Option) (*Healer, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil && o.advisor == nil {
		return nil, fmt.Errorf("autoheal: %w", err)
	}
	strategy, err := candidate.ParseStrategy(cfg.CandidateStrategy)
	if err != nil {
		return nil, fmt.Errorf("autoheal: %w", err)
	}

	h := &Healer{
		cfg:      cfg,
		logger:   o.logger,
		cache:    cache.New(cfg.StaleGenerations),
		registry: o.registry,
		now:      o.now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.registry == nil {
		h.registry = prometheus.NewRegistry()
	}

	var gen *candidate.Generative
	if strategy != candidate.StrategyHeuristic {
		adv := o.advisor
		if adv == nil {
			adv = newAdvisor(cfg, h)
		}
		gen = &candidate.Generative{
			Advisor: adv,
			Text:    extract.NewTextConverter(),
			Logger:  h.logger,
		}
	}
	h.gen = candidate.New(candidate.Config{
		Strategy:   strategy,
		Generative: gen,
		Logger:     h.logger,
	})
	h.verifier = &verify.Verifier{DryRun: cfg.DryRun, Logger: h.logger}

	sinks := o.sinks
	if !o.noConfig {
		configured, err := sinksFromConfig(cfg, h.logger)
		if err != nil {
			return nil, fmt.Errorf("autoheal: sinks: %w", err)
		}
		sinks = append(configured, sinks...)
	}
	h.rec = recorder.New(recorder.Config{
		Sinks:   sinks,
		Metrics: recorder.NewMetrics(h.registry),
		Logger:  h.logger,
		Now:     h.now,
	})

	h.logger.Info("autoheal: healer ready",
		"strategy", strategy, "max_retries", cfg.MaxRetries, "max_candidates", cfg.MaxCandidates,
		"dry_run", cfg.DryRun, "sinks", len(sinks))
	return h, nil
}

// Config returns the effective configuration.
func (h *Healer) Config() Config { return h.cfg }

// Registry returns the metrics registry.
func (h *Healer) Registry() *prometheus.Registry { return h.registry }

// PerformAction runs act on original. If the locator is broken the action
// is retried on a healed replacement. On success it returns the action's
// output (the element text for getText). When healing does not rescue the
// action the error is a *locator.HealError wrapping the original failure.
// Errors unrelated to locator resolution are returned unchanged.
func (h *Healer) PerformAction(ctx context.Context, page locator.Page, id locator.Identity, original locator.Locator, act locator.Action) (string, error) {
	if !act.Kind.Valid() {
		return "", fmt.Errorf("autoheal: unknown action %q", act.Kind)
	}
	start := h.now()
	caller := ctx
	ctx, cancel := context.WithTimeout(ctx, h.cfg.OperationTimeout)
	defer cancel()

	out, err := h.attempt(ctx, page, original, act)
	if err == nil {
		h.rec.Direct()
		return out, nil
	}
	if !h.healable(caller, err) {
		return "", err
	}
	h.logger.Info("autoheal: locator failed, healing",
		"locator", original, "action", act.Kind, "page", id.Scope, "error", err)
	return h.heal(caller, ctx, page, id, original, act, err, start)
}

// attempt runs one action under ActionTimeout.
func (h *Healer) attempt(ctx context.Context, page locator.Page, loc locator.Locator, act locator.Action) (string, error) {
	actx, cancel := context.WithTimeout(ctx, h.cfg.ActionTimeout)
	defer cancel()
	return page.Do(actx, loc, act)
}

// healable reports whether err is a resolution failure worth healing. A
// deadline counts while the caller's context is still live.
func (h *Healer) healable(caller context.Context, err error) bool {
	if caller.Err() != nil {
		return false
	}
	return locator.IsLocatorFailure(err) || locator.IsTimeout(err)
}

// outcome is the result of one healing flight.
type outcome struct {
	healed     locator.Locator
	confidence float64
	strategy   locator.Strategy
	output     string
	attempted  []locator.Locator
	exhausted  bool
	err        error // last action error on the healed candidates
}

// heal runs under ctx, the operation context. Once healing has started
// every outcome is recorded and reported as a *locator.HealError, unless
// the caller's own context ended, in which case its error is returned
// unchanged.
func (h *Healer) heal(caller, ctx context.Context, page locator.Page, id locator.Identity, original locator.Locator, act locator.Action, cause error, start time.Time) (string, error) {
	key := cache.KeyFor(id, original, act.Kind)
	var attempted []locator.Locator

	if e, ok := h.cache.Get(key, id.Generation); ok {
		attempted = append(attempted, e.Healed)
		out, err := h.attempt(ctx, page, e.Healed, act)
		if err == nil {
			h.cache.Touch(key, id.Generation, h.now())
			h.record(ctx, locator.HealingRecord{
				OriginalLocator: original, Page: id, Action: act.Kind,
				HealedLocator: e.Healed, Strategy: locator.StrategyCache, Confidence: e.Confidence,
				Success: true, Attempted: attempted,
			}, start)
			return out, nil
		}
		if caller.Err() != nil {
			return "", caller.Err()
		}
		if ctx.Err() != nil {
			return h.finish(ctx, original, id, act, cause, outcome{attempted: attempted, err: err}, false, start)
		}
		if h.cache.Evict(key, e.Healed) {
			h.logger.Info("autoheal: cached locator failed, evicted",
				"locator", original, "healed", e.Healed, "error", err)
		}
	}

	for retry := 0; ; retry++ {
		res, leader, err := h.flight(ctx, key, page, id, original, act)
		if err != nil {
			// The leader's context ended while ours is alive: run the
			// flight again, possibly as the new leader.
			if !leader && retry == 0 && ctx.Err() == nil && isContextErr(err) {
				h.logger.Debug("autoheal: healing leader cancelled, retrying", "locator", original)
				continue
			}
			if caller.Err() != nil {
				return "", caller.Err()
			}
			// Our own deadline or an adapter failure: report it as a
			// failed heal.
			res.attempted = append(attempted, res.attempted...)
			res.healed = ""
			res.err = err
			return h.finish(ctx, original, id, act, cause, res, !leader, start)
		}
		res.attempted = append(attempted, res.attempted...)
		if leader {
			return h.finish(ctx, original, id, act, cause, res, false, start)
		}
		return h.follow(caller, ctx, page, original, id, act, cause, res, start)
	}
}

// flight runs the shared generate, verify and act sequence for key. Only
// the leader's closure executes; followers receive the leader's outcome.
func (h *Healer) flight(ctx context.Context, key cache.Key, page locator.Page, id locator.Identity, original locator.Locator, act locator.Action) (outcome, bool, error) {
	leader := false
	ch := h.flights.DoChan(key.String(), func() (any, error) {
		leader = true
		return h.lead(ctx, key, page, id, original, act)
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(outcome)
		return res, leader, r.Err
	case <-ctx.Done():
		return outcome{}, false, ctx.Err()
	}
}

// lead generates and verifies candidates, then tries the verified ones in
// confidence order until one succeeds or MaxRetries actions were spent.
// Candidates are pulled in batches of MaxCandidates so the advisor is only
// consulted when the heuristic ones ran out.
func (h *Healer) lead(ctx context.Context, key cache.Key, page locator.Page, id locator.Identity, original locator.Locator, act locator.Action) (outcome, error) {
	var res outcome
	next, stop := iter.Pull(h.gen.Generate(ctx, page, id.Scope, original, act.Kind))
	defer stop()

	retries := h.cfg.MaxRetries
	for {
		batch := pullBatch(next, h.cfg.MaxCandidates)
		if len(batch) == 0 {
			return res, ctx.Err()
		}
		verified, err := h.verifier.VerifyAll(ctx, page, batch, act)
		if err != nil {
			return res, err
		}
		h.logger.Debug("autoheal: candidates verified",
			"locator", original, "generated", len(batch), "verified", len(verified))
		if len(verified) > 0 {
			res.exhausted = true
		}
		for _, v := range verified {
			if retries == 0 {
				return res, nil
			}
			retries--
			c := v.Candidate
			res.attempted = append(res.attempted, c.Locator)
			out, err := h.attempt(ctx, page, c.Locator, act)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				h.logger.Info("autoheal: candidate failed", "locator", original, "candidate", c.Locator, "error", err)
				res.err = err
				continue
			}
			res.healed = c.Locator
			res.confidence = c.Confidence
			res.strategy = locator.StrategyOf(c.Provenance)
			res.output = out
			if ctx.Err() == nil {
				h.cache.Put(key, cache.Entry{
					Healed:         c.Locator,
					Confidence:     c.Confidence,
					Strategy:       res.strategy,
					Generation:     id.Generation,
					LastVerifiedAt: h.now(),
				})
			}
			return res, nil
		}
		if retries == 0 {
			return res, nil
		}
	}
}

func pullBatch(next func() (locator.Candidate, bool), n int) []locator.Candidate {
	var batch []locator.Candidate
	for len(batch) < n {
		c, ok := next()
		if !ok {
			break
		}
		batch = append(batch, c)
	}
	return batch
}

// finish records the leader's outcome and builds the caller's result.
func (h *Healer) finish(ctx context.Context, original locator.Locator, id locator.Identity, act locator.Action, cause error, res outcome, coalesced bool, start time.Time) (string, error) {
	rec := locator.HealingRecord{
		OriginalLocator: original,
		Page:            id,
		Action:          act.Kind,
		Attempted:       res.attempted,
		Coalesced:       coalesced,
	}
	if res.healed != "" {
		rec.HealedLocator = res.healed
		rec.Strategy = res.strategy
		rec.Confidence = res.confidence
		rec.Success = true
		h.record(ctx, rec, start)
		h.logger.Info("autoheal: locator healed",
			"locator", original, "healed", res.healed, "strategy", res.strategy, "confidence", res.confidence)
		return res.output, nil
	}

	rec.Strategy = locator.StrategyNone
	rec.Error = cause.Error()
	h.record(ctx, rec, start)
	herr := &locator.HealError{
		Locator:   original,
		Action:    act.Kind,
		Err:       cause,
		Attempted: res.attempted,
		Exhausted: res.exhausted,
	}
	h.logger.Warn("autoheal: healing failed",
		"locator", original, "action", act.Kind, "error", herr, "last_candidate_error", res.err)
	return "", herr
}

// follow acts once with the leader's healed locator.
func (h *Healer) follow(caller, ctx context.Context, page locator.Page, original locator.Locator, id locator.Identity, act locator.Action, cause error, res outcome, start time.Time) (string, error) {
	if res.healed == "" {
		return h.finish(ctx, original, id, act, cause, res, true, start)
	}
	out, err := h.attempt(ctx, page, res.healed, act)
	if err != nil {
		if caller.Err() != nil {
			return "", caller.Err()
		}
		failed := res
		failed.healed = ""
		failed.exhausted = ctx.Err() == nil
		failed.err = err
		return h.finish(ctx, original, id, act, cause, failed, true, start)
	}
	res.output = out
	return h.finish(ctx, original, id, act, cause, res, true, start)
}

func (h *Healer) record(ctx context.Context, rec locator.HealingRecord, start time.Time) {
	rec.LatencyMs = h.now().Sub(start).Milliseconds()
	h.rec.Record(context.WithoutCancel(ctx), rec)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// HealResult is the outcome of a manual HealSelector call.
type HealResult struct {
	Success     bool                `json:"success"`
	Original    locator.Locator     `json:"original"`
	NewSelector locator.Locator     `json:"new_selector,omitempty"`
	Confidence  float64             `json:"confidence,omitempty"`
	Strategy    locator.Strategy    `json:"strategy"`
	Candidates  []locator.Candidate `json:"candidates,omitempty"`
}

// HealSelector finds a verified replacement for original without acting.
// Candidates are verified for getText, the weakest precondition. The
// cache is consulted but never written, and nothing is recorded.
func (h *Healer) HealSelector(ctx context.Context, page locator.Page, original locator.Locator) (HealResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.OperationTimeout)
	defer cancel()
	res := HealResult{Original: original, Strategy: locator.StrategyNone}
	act := locator.GetText()

	var id locator.Identity
	if ider, ok := page.(locator.Identifier); ok {
		got, err := ider.Identity(ctx)
		if err != nil {
			return res, fmt.Errorf("autoheal: identity: %w", err)
		}
		id = got
	}
	for _, kind := range []locator.ActionKind{locator.ActionClick, locator.ActionFill, locator.ActionGetText} {
		e, ok := h.cache.Get(cache.KeyFor(id, original, kind), id.Generation)
		if !ok {
			continue
		}
		if _, err := h.verifier.Verify(ctx, page, locator.Candidate{Locator: e.Healed, Confidence: e.Confidence}, act); err == nil {
			res.Success, res.NewSelector, res.Confidence, res.Strategy = true, e.Healed, e.Confidence, locator.StrategyCache
			return res, nil
		}
	}

	var cands []locator.Candidate
	for c := range h.gen.Generate(ctx, page, id.Scope, original, act.Kind) {
		cands = append(cands, c)
		if len(cands) >= h.cfg.MaxCandidates {
			break
		}
	}
	verified, err := h.verifier.VerifyAll(ctx, page, cands, act)
	if err != nil {
		return res, fmt.Errorf("autoheal: verify: %w", err)
	}
	for _, v := range verified {
		res.Candidates = append(res.Candidates, v.Candidate)
	}
	if len(verified) > 0 {
		best := verified[0].Candidate
		res.Success = true
		res.NewSelector = best.Locator
		res.Confidence = best.Confidence
		res.Strategy = locator.StrategyOf(best.Provenance)
	}
	return res, nil
}

// Results returns every healing record in order.
func (h *Healer) Results() []locator.HealingRecord { return h.rec.Query() }

// Summarize aggregates the healing records.
func (h *Healer) Summarize() locator.Summary { return h.rec.Summarize() }

// HealedSelectors returns the distinct successful replacements.
func (h *Healer) HealedSelectors() []locator.Healed { return h.rec.Healed() }

// CacheLen returns the number of cached replacements.
func (h *Healer) CacheLen() int { return h.cache.Len() }

// PrintSummary writes a human-readable summary to w.
func (h *Healer) PrintSummary(w io.Writer) error {
	s := h.Summarize()
	if _, err := fmt.Fprintf(w, "Locator healing: %d attempts, %d healed, %d failed, %d direct\n",
		s.Total, s.Succeeded, s.Failed, s.Direct); err != nil {
		return err
	}
	for _, st := range s.SortedStrategies() {
		fmt.Fprintf(w, "  %-10s %d\n", st, s.ByStrategy[st])
	}
	for _, p := range h.HealedSelectors() {
		fmt.Fprintf(w, "  %s %q -> %q (%s, %.2f, x%d)\n", p.Action, p.Original, p.Healed, p.Strategy, p.Confidence, p.Count)
	}
	return nil
}

// Close clears the cache, drains pending records to the sinks and closes
// them. Results stay available. Close is idempotent.
func (h *Healer) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.cache.Clear()
	if err := h.rec.Close(); err != nil {
		return fmt.Errorf("autoheal: close: %w", err)
	}
	return nil
}
