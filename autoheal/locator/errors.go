package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the locator matched no element.
	ErrNotFound = errors.New("locator: no element matches")

	// ErrAmbiguous means the locator matched more than one element.
	ErrAmbiguous = errors.New("locator: more than one element matches")

	// ErrNotActionable means the element exists but fails the action's
	// preconditions (hidden, disabled, read-only).
	ErrNotActionable = errors.New("locator: element not actionable")

	// ErrAdvisorUnavailable means the generative advisor could not be
	// reached. It never escapes the candidate generator.
	ErrAdvisorUnavailable = errors.New("locator: advisor unavailable")

	// ErrHealingExhausted means verified candidates existed but none of
	// them completed the action.
	ErrHealingExhausted = errors.New("locator: healing exhausted")
)

// IsLocatorFailure reports whether err is one of the element resolution
// failures that trigger healing.
func IsLocatorFailure(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAmbiguous) ||
		errors.Is(err, ErrNotActionable)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// HealError is returned when an action failed and healing did not rescue
// it. It unwraps to the original action error and, when candidates were
// available, to ErrHealingExhausted.
type HealError struct {
	Locator   Locator
	Action    ActionKind
	Err       error
	Attempted []Locator
	Exhausted bool
}

func (e *HealError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "autoheal: %s %q: %v", e.Action, e.Locator, e.Err)
	if e.Exhausted {
		b.WriteString(": healing exhausted")
	} else {
		b.WriteString(": no healing candidates")
	}
	if len(e.Attempted) > 0 {
		parts := make([]string, len(e.Attempted))
		for i, l := range e.Attempted {
			parts[i] = fmt.Sprintf("%q", l)
		}
		fmt.Fprintf(&b, " (attempted %s)", strings.Join(parts, ", "))
	}
	return b.String()
}

func (e *HealError) Unwrap() []error {
	if e.Exhausted {
		return []error{e.Err, ErrHealingExhausted}
	}
	return []error{e.Err}
}

// Rejection explains why the verifier refused a candidate. It unwraps to
// the underlying resolution error.
type Rejection struct {
	Candidate Candidate
	Reason    error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("verify: reject %q: %v", r.Candidate.Locator, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Reason }
