// CLAUDE:SUMMARY Public contract types shared by the healing engine and host page adapters.
// Package locator defines the contract between the autoheal engine and the
// host automation adapters: locators, page identity, action kinds, healing
// candidates, healing records and the Page surface an adapter implements.
//
// Adapters (rodpage, pwpage, htmlpage) depend only on this package, so a new
// host driver never needs to import the engine itself.
package locator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Locator is a selector expression in the host's selector language.
// Locators are compared byte for byte.
type Locator string

func (l Locator) String() string { return string(l) }

// Identity scopes healing to a logical page. Scope is origin + path (frame
// contexts append the frame name); Generation increments on each navigation
// or document reset within the same scope.
type Identity struct {
	Scope      string `json:"scope"`
	Generation uint64 `json:"generation"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s#%d", id.Scope, id.Generation)
}

// ScopeOf derives an identity scope (origin + path) from a page URL.
// Query and fragment are dropped. Unparseable input is returned trimmed.
func ScopeOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path
}

// ActionKind is the automation action requested on an element.
type ActionKind string

const (
	ActionFill    ActionKind = "fill"
	ActionClick   ActionKind = "click"
	ActionCheck   ActionKind = "check"
	ActionUncheck ActionKind = "uncheck"
	ActionSelect  ActionKind = "select"
	ActionHover   ActionKind = "hover"
	ActionGetText ActionKind = "getText"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionFill, ActionClick, ActionCheck, ActionUncheck,
		ActionSelect, ActionHover, ActionGetText:
		return true
	}
	return false
}

// Requirement lists the element state an action needs.
type Requirement struct {
	Visible  bool
	Enabled  bool
	Editable bool
}

// Requires returns the actionability preconditions for k.
func (k ActionKind) Requires() Requirement {
	switch k {
	case ActionFill:
		return Requirement{Visible: true, Enabled: true, Editable: true}
	case ActionGetText:
		return Requirement{Visible: true}
	default:
		return Requirement{Visible: true, Enabled: true}
	}
}

// Action is a requested action with its optional argument (the text to
// fill, the option to select).
type Action struct {
	Kind  ActionKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

// Fill returns a fill action with the given text.
func Fill(value string) Action { return Action{Kind: ActionFill, Value: value} }

// Click returns a click action.
func Click() Action { return Action{Kind: ActionClick} }

// Check returns a check action.
func Check() Action { return Action{Kind: ActionCheck} }

// Uncheck returns an uncheck action.
func Uncheck() Action { return Action{Kind: ActionUncheck} }

// Select returns a select action choosing the given option value or label.
func Select(option string) Action { return Action{Kind: ActionSelect, Value: option} }

// Hover returns a hover action.
func Hover() Action { return Action{Kind: ActionHover} }

// GetText returns a text read action.
func GetText() Action { return Action{Kind: ActionGetText} }

// ElementState is the observable state of a single resolved element.
type ElementState struct {
	Visible  bool   `json:"visible"`
	Enabled  bool   `json:"enabled"`
	Editable bool   `json:"editable"`
	Tag      string `json:"tag,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Satisfies checks the state against the preconditions of kind. The
// returned error wraps ErrNotActionable and names the failed condition.
func (s ElementState) Satisfies(kind ActionKind) error {
	req := kind.Requires()
	switch {
	case req.Visible && !s.Visible:
		return fmt.Errorf("%w: not visible", ErrNotActionable)
	case req.Enabled && !s.Enabled:
		return fmt.Errorf("%w: disabled", ErrNotActionable)
	case req.Editable && !s.Editable:
		return fmt.Errorf("%w: not editable", ErrNotActionable)
	}
	return nil
}

// Provenance names the strategy that produced a candidate.
type Provenance string

const (
	ProvenanceHeuristic  Provenance = "heuristic"
	ProvenanceGenerative Provenance = "generative"
)

// Candidate is a proposed replacement locator.
type Candidate struct {
	Locator    Locator    `json:"locator"`
	Provenance Provenance `json:"provenance"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason,omitempty"`
}

// Page is the query and action surface a host adapter exposes. Every
// method resolves the locator against the live page at call time.
//
// Adapters map their native failures onto ErrNotFound, ErrAmbiguous and
// ErrNotActionable. Deadline expiry is reported through the context error.
type Page interface {
	// Count returns how many elements the locator currently matches.
	Count(ctx context.Context, loc Locator) (int, error)

	// State reports the state of the single element the locator matches.
	State(ctx context.Context, loc Locator) (ElementState, error)

	// Do performs the action. For ActionGetText the element text is
	// returned; other kinds return "".
	Do(ctx context.Context, loc Locator, act Action) (string, error)

	// Content returns the serialized document (outer HTML).
	Content(ctx context.Context) ([]byte, error)
}

// DryRunner is implemented by adapters able to run an action's
// actionability checks without performing it.
type DryRunner interface {
	DryRun(ctx context.Context, loc Locator, act Action) error
}

// Identifier is implemented by adapters that can report their own
// page identity.
type Identifier interface {
	Identity(ctx context.Context) (Identity, error)
}
