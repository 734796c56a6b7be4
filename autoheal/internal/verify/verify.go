// CLAUDE:SUMMARY Checks that healing candidates resolve to exactly one actionable element before the engine acts on them.
// Package verify filters healing candidates.
//
// A candidate passes when it resolves to exactly one element, that element
// meets the action's preconditions, and (when enabled and supported by the
// page) a dry run of the action succeeds.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// DefaultConcurrency bounds parallel verification in VerifyAll.
const DefaultConcurrency = 4

// Verified is a candidate that passed every check.
type Verified struct {
	Candidate locator.Candidate
	State     locator.ElementState
}

// Verifier runs the checks.
type Verifier struct {
	DryRun      bool
	Concurrency int
	Logger      *slog.Logger
}

// Verify checks one candidate for act. Rejections are returned as
// *locator.Rejection; context and adapter errors are returned as-is.
func (v *Verifier) Verify(ctx context.Context, page locator.Page, cand locator.Candidate, act locator.Action) (Verified, error) {
	reject := func(reason error) (Verified, error) {
		return Verified{}, &locator.Rejection{Candidate: cand, Reason: reason}
	}

	n, err := page.Count(ctx, cand.Locator)
	if err != nil {
		if locator.IsLocatorFailure(err) {
			return reject(err)
		}
		return Verified{}, fmt.Errorf("verify: count %q: %w", cand.Locator, err)
	}
	switch {
	case n == 0:
		return reject(locator.ErrNotFound)
	case n > 1:
		return reject(fmt.Errorf("%w: %d matches", locator.ErrAmbiguous, n))
	}

	st, err := page.State(ctx, cand.Locator)
	if err != nil {
		if locator.IsLocatorFailure(err) {
			return reject(err)
		}
		return Verified{}, fmt.Errorf("verify: state %q: %w", cand.Locator, err)
	}
	if err := st.Satisfies(act.Kind); err != nil {
		return reject(err)
	}

	if v.DryRun {
		if dr, ok := page.(locator.DryRunner); ok {
			if err := dr.DryRun(ctx, cand.Locator, act); err != nil {
				if locator.IsLocatorFailure(err) {
					return reject(err)
				}
				return Verified{}, fmt.Errorf("verify: dry run %q: %w", cand.Locator, err)
			}
		}
	}
	return Verified{Candidate: cand, State: st}, nil
}

// VerifyAll verifies cands concurrently and returns those that passed,
// ordered by confidence descending and stable on input order. Rejected
// candidates and candidates the adapter failed on are logged and dropped;
// only the end of ctx aborts the batch.
func (v *Verifier) VerifyAll(ctx context.Context, page locator.Page, cands []locator.Candidate, act locator.Action) ([]Verified, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := v.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]*Verified, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range cands {
		g.Go(func() error {
			ver, err := v.Verify(gctx, page, c, act)
			if err != nil {
				var rej *locator.Rejection
				if errors.As(err, &rej) {
					logger.Debug("verify: candidate rejected",
						"locator", c.Locator, "provenance", c.Provenance, "reason", rej.Reason)
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Debug("verify: candidate check failed",
					"locator", c.Locator, "provenance", c.Provenance, "error", err)
				return nil
			}
			results[i] = &ver
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Verified, 0, len(cands))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Candidate.Confidence > out[j].Candidate.Confidence
	})
	return out, nil
}
