package verify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/selfheal/autoheal/htmlpage"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

const doc = `<html><body>
<input id="user-name" type="text">
<input id="ro" type="text" readonly>
<input id="gone" type="text" style="display:none">
<button class="btn">One</button><button class="btn">Two</button>
<button id="login">Login</button>
<select id="country"><option value="fr">France</option></select>
</body></html>`

// countingPage records calls so tests can assert how often the page was
// consulted.
type countingPage struct {
	*htmlpage.Page
	counts atomic.Int32
	dry    atomic.Int32
}

func (c *countingPage) Count(ctx context.Context, loc locator.Locator) (int, error) {
	c.counts.Add(1)
	return c.Page.Count(ctx, loc)
}

func (c *countingPage) DryRun(ctx context.Context, loc locator.Locator, act locator.Action) error {
	c.dry.Add(1)
	return c.Page.DryRun(ctx, loc, act)
}

func newPage(t *testing.T) *countingPage {
	t.Helper()
	p, err := htmlpage.New("https://shop.test/", []byte(doc))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &countingPage{Page: p}
}

func cand(loc string, conf float64) locator.Candidate {
	return locator.Candidate{Locator: locator.Locator(loc), Provenance: locator.ProvenanceHeuristic, Confidence: conf}
}

func TestVerify_Rejections(t *testing.T) {
	tests := []struct {
		name string
		loc  string
		act  locator.Action
		want error
	}{
		{"missing", "#nope", locator.Click(), locator.ErrNotFound},
		{"ambiguous", ".btn", locator.Click(), locator.ErrAmbiguous},
		{"hidden", "#gone", locator.Fill("x"), locator.ErrNotActionable},
		{"read-only", "#ro", locator.Fill("x"), locator.ErrNotActionable},
		{"dry run option", "#country", locator.Select("Germany"), locator.ErrNotActionable},
		{"bad syntax", "div:bogus(2)", locator.Click(), locator.ErrNotFound},
	}
	v := &Verifier{DryRun: true}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), newPage(t), cand(tt.loc, 0.9), tt.act)
			var rej *locator.Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("got %v, want *locator.Rejection", err)
			}
			if rej.Candidate.Locator != locator.Locator(tt.loc) {
				t.Errorf("candidate: got %q, want %q", rej.Candidate.Locator, tt.loc)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerify_Accepts(t *testing.T) {
	p := newPage(t)
	v := &Verifier{DryRun: true}
	got, err := v.Verify(context.Background(), p, cand("#user-name", 0.8), locator.Fill("standard_user"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !got.State.Editable || got.State.Tag != "input" {
		t.Errorf("state: got %+v", got.State)
	}
	if p.dry.Load() != 1 {
		t.Errorf("dry runs: got %d, want 1", p.dry.Load())
	}
	if val, _ := p.Value("#user-name"); val != "" {
		t.Errorf("verification mutated the page: value %q", val)
	}
}

func TestVerify_DryRunDisabled(t *testing.T) {
	p := newPage(t)
	v := &Verifier{}
	if _, err := v.Verify(context.Background(), p, cand("#country", 0.5), locator.Select("Germany")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.dry.Load() != 0 {
		t.Errorf("dry runs: got %d, want 0", p.dry.Load())
	}
}

func TestVerify_CancelledIsNotRejection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := htmlpage.New("https://shop.test/", []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	_, err = (&Verifier{}).Verify(ctx, p, cand("#login", 1), locator.Click())
	var rej *locator.Rejection
	if errors.As(err, &rej) {
		t.Fatalf("cancellation reported as rejection: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestVerifyAll_OrdersByConfidence(t *testing.T) {
	p := newPage(t)
	cands := []locator.Candidate{
		cand("#gone", 0.95),
		cand("#login", 0.5),
		cand(".btn", 0.9),
		cand(`button:has-text("Login")`, 0.7),
		cand("#nope", 0.99),
		cand(`[id="login"]`, 0.7),
	}
	got, err := (&Verifier{Concurrency: 2}).VerifyAll(context.Background(), p, cands, locator.Click())
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	want := []locator.Locator{`button:has-text("Login")`, `[id="login"]`, "#login"}
	if len(got) != len(want) {
		t.Fatalf("got %d verified, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Candidate.Locator != want[i] {
			t.Errorf("[%d]: got %q, want %q", i, got[i].Candidate.Locator, want[i])
		}
	}
	if n := p.counts.Load(); n != int32(len(cands)) {
		t.Errorf("count calls: got %d, want %d", n, len(cands))
	}
}

// flakyPage fails State for one locator the way a detached node does.
type flakyPage struct {
	*countingPage
	broken locator.Locator
}

func (f *flakyPage) State(ctx context.Context, loc locator.Locator) (locator.ElementState, error) {
	if loc == f.broken {
		return locator.ElementState{}, errors.New("cdp: node detached")
	}
	return f.countingPage.State(ctx, loc)
}

func TestVerifyAll_AdapterErrorDropsOnlyThatCandidate(t *testing.T) {
	p := &flakyPage{countingPage: newPage(t), broken: `[id="login"]`}
	cands := []locator.Candidate{cand("#login", 0.9), cand(`[id="login"]`, 0.6)}

	got, err := (&Verifier{}).VerifyAll(context.Background(), p, cands, locator.Click())
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if len(got) != 1 || got[0].Candidate.Locator != "#login" {
		t.Errorf("got %+v, want only #login", got)
	}
}

func TestVerifyAll_CancelledAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Verifier{}).VerifyAll(ctx, newPage(t), []locator.Candidate{cand("#login", 1)}, locator.Click())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestVerifyAll_Empty(t *testing.T) {
	got, err := (&Verifier{}).VerifyAll(context.Background(), newPage(t), nil, locator.Click())
	if err != nil || got != nil {
		t.Errorf("got %v, %v", got, err)
	}
}
