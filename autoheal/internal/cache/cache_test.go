package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

var key = KeyFor(locator.Identity{Scope: "https://www.saucedemo.com/", Generation: 3}, "#user-name-broken-selector", locator.ActionFill)

func TestPutGet(t *testing.T) {
	c := New(0)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := Entry{Healed: "#user-name", Confidence: 0.82, Strategy: locator.StrategyHeuristic, Generation: 3, LastVerifiedAt: at}
	c.Put(key, want)

	got, ok := c.Get(key, 3)
	if !ok {
		t.Fatal("miss after Put")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	other := key
	other.Action = locator.ActionClick
	if _, ok := c.Get(other, 3); ok {
		t.Error("different action kind should miss")
	}
	other = key
	other.Scope = "https://www.saucedemo.com/inventory.html"
	if _, ok := c.Get(other, 3); ok {
		t.Error("different scope should miss")
	}
}

func TestPut_ReplacesAndStampsTime(t *testing.T) {
	c := New(0)
	c.Put(key, Entry{Healed: "#a"})
	c.Put(key, Entry{Healed: "#b"})
	got, _ := c.Get(key, 0)
	if got.Healed != "#b" {
		t.Errorf("healed: got %q, want %q", got.Healed, "#b")
	}
	if got.LastVerifiedAt.IsZero() {
		t.Error("LastVerifiedAt not stamped")
	}
	if c.Len() != 1 {
		t.Errorf("len: got %d, want 1", c.Len())
	}
}

func TestGet_StaleGenerations(t *testing.T) {
	tests := []struct {
		name  string
		stale uint64
		gen   uint64
		hit   bool
	}{
		{"unbounded", 0, 100, true},
		{"within bound", 2, 5, true},
		{"beyond bound", 2, 6, false},
		{"older caller", 2, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.stale)
			c.Put(key, Entry{Healed: "#user-name", Generation: 3})
			_, ok := c.Get(key, tt.gen)
			if ok != tt.hit {
				t.Errorf("hit: got %v, want %v", ok, tt.hit)
			}
			if !tt.hit && c.Len() != 0 {
				t.Error("stale entry not evicted")
			}
		})
	}
}

func TestEvict(t *testing.T) {
	c := New(0)
	c.Put(key, Entry{Healed: "#new"})
	if c.Evict(key, "#old") {
		t.Error("evicted an entry that was already replaced")
	}
	if !c.Evict(key, "#new") {
		t.Error("evict of current entry failed")
	}
	if _, ok := c.Get(key, 0); ok {
		t.Error("entry survived Evict")
	}
	if c.Evict(key, "") {
		t.Error("evict of missing key reported success")
	}
}

func TestTouch(t *testing.T) {
	c := New(0)
	c.Put(key, Entry{Healed: "#user-name", Generation: 1})
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c.Touch(key, 4, at)
	got, _ := c.Get(key, 4)
	if !got.LastVerifiedAt.Equal(at) || got.Generation != 4 {
		t.Errorf("got %+v", got)
	}
	c.Touch(Key{Scope: "x"}, 1, at)
	if c.Len() != 1 {
		t.Error("Touch created an entry")
	}
}

func TestClearAndSnapshot(t *testing.T) {
	c := New(0)
	for i := range 3 {
		c.Put(Key{Scope: "s", Original: locator.Locator(fmt.Sprintf("#k%d", i)), Action: locator.ActionClick}, Entry{Healed: "#v"})
	}
	snap := c.Snapshot()
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after Clear: got %d", c.Len())
	}
	if len(snap) != 3 {
		t.Errorf("snapshot len: got %d, want 3", len(snap))
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(1)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := Key{Scope: "s", Original: locator.Locator(fmt.Sprintf("#k%d", i%5)), Action: locator.ActionClick}
			c.Put(k, Entry{Healed: "#v", Generation: uint64(i)})
			c.Get(k, uint64(i+2))
			c.Touch(k, uint64(i), time.Now())
			c.Evict(k, "#v")
		}()
	}
	wg.Wait()
}
