package locator

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name  string
		state ElementState
		kind  ActionKind
		ok    bool
	}{
		{"fill editable", ElementState{Visible: true, Enabled: true, Editable: true}, ActionFill, true},
		{"fill readonly", ElementState{Visible: true, Enabled: true}, ActionFill, false},
		{"click hidden", ElementState{Enabled: true}, ActionClick, false},
		{"click disabled", ElementState{Visible: true}, ActionClick, false},
		{"gettext disabled", ElementState{Visible: true}, ActionGetText, true},
		{"select enabled", ElementState{Visible: true, Enabled: true}, ActionSelect, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Satisfies(tt.kind)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrNotActionable) {
				t.Fatalf("got %v, want ErrNotActionable", err)
			}
		})
	}
}

func TestHealError_Unwrap(t *testing.T) {
	exhausted := &HealError{
		Locator:   "#gone",
		Action:    ActionClick,
		Err:       ErrNotFound,
		Attempted: []Locator{"#a", "#b"},
		Exhausted: true,
	}
	if !errors.Is(exhausted, ErrNotFound) {
		t.Error("exhausted error should unwrap to the original error")
	}
	if !errors.Is(exhausted, ErrHealingExhausted) {
		t.Error("exhausted error should unwrap to ErrHealingExhausted")
	}
	if !strings.Contains(exhausted.Error(), `"#a"`) {
		t.Errorf("message should list attempts: %s", exhausted.Error())
	}

	empty := &HealError{Locator: "#gone", Action: ActionClick, Err: ErrNotFound}
	if errors.Is(empty, ErrHealingExhausted) {
		t.Error("no-candidate error must not report exhaustion")
	}
	if !errors.Is(empty, ErrNotFound) {
		t.Error("no-candidate error should unwrap to the original error")
	}
}

func TestIsLocatorFailure(t *testing.T) {
	if !IsLocatorFailure(&Rejection{Reason: ErrAmbiguous}) {
		t.Error("rejection wrapping ErrAmbiguous should be a locator failure")
	}
	if IsLocatorFailure(errors.New("socket closed")) {
		t.Error("transport error should not be a locator failure")
	}
}

func TestSummarize(t *testing.T) {
	records := []HealingRecord{
		{Strategy: StrategyHeuristic, Success: true},
		{Strategy: StrategyCache, Success: true},
		{Strategy: StrategyNone, Success: false},
	}
	got := Summarize(records, 4)
	want := Summary{
		Total:     3,
		Succeeded: 2,
		Failed:    1,
		Direct:    4,
		ByStrategy: map[Strategy]int{
			StrategyHeuristic: 1,
			StrategyCache:     1,
			StrategyNone:      1,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
	if keys := got.SortedStrategies(); keys[0] != StrategyCache {
		t.Errorf("first sorted strategy: got %q, want %q", keys[0], StrategyCache)
	}
}

func TestHealedPairs(t *testing.T) {
	page := Identity{Scope: "https://shop.test/login"}
	records := []HealingRecord{
		{OriginalLocator: "#user", HealedLocator: "#user-name", Action: ActionFill, Page: page, Strategy: StrategyHeuristic, Success: true},
		{OriginalLocator: "#user", HealedLocator: "#user-name", Action: ActionFill, Page: page, Strategy: StrategyCache, Success: true},
		{OriginalLocator: "#pw", Action: ActionFill, Page: page, Strategy: StrategyNone},
	}
	got := HealedPairs(records)
	if len(got) != 1 {
		t.Fatalf("pairs: got %d, want 1", len(got))
	}
	if got[0].Count != 2 {
		t.Errorf("count: got %d, want 2", got[0].Count)
	}
	if got[0].Strategy != StrategyHeuristic {
		t.Errorf("strategy: got %q, want %q", got[0].Strategy, StrategyHeuristic)
	}
}

func TestRecordClone(t *testing.T) {
	r := HealingRecord{Attempted: []Locator{"#a"}}
	c := r.Clone()
	c.Attempted[0] = "#b"
	if r.Attempted[0] != "#a" {
		t.Error("clone shares the attempted slice")
	}
}

func TestScopeOf(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://www.SauceDemo.com/?q=1#top", "https://www.saucedemo.com/"},
		{"https://shop.test/login?next=/cart", "https://shop.test/login"},
		{"https://shop.test", "https://shop.test/"},
		{"file.html", "file.html"},
		{"  about:blank ", "about:blank"},
	}
	for _, tt := range tests {
		if got := ScopeOf(tt.in); got != tt.want {
			t.Errorf("ScopeOf(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
