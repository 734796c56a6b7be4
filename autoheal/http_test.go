package autoheal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, body
}

func TestHandler(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	ctx := context.Background()
	id := identity(t, page)
	h.PerformAction(ctx, page, id, "#user-name-broken-selector", locator.Fill("u"))
	h.PerformAction(ctx, page, id, "#totally-unrelated-xyz", locator.Click())
	h.PerformAction(ctx, page, id, "#password", locator.Fill("p"))

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	t.Run("records", func(t *testing.T) {
		code, body := get(t, srv, "/healing/records?success=true")
		if code != http.StatusOK {
			t.Fatalf("status: got %d, want 200", code)
		}
		var recs []locator.HealingRecord
		if err := json.Unmarshal(body, &recs); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(recs) != 1 || recs[0].HealedLocator != "#user-name" {
			t.Errorf("records: got %+v", recs)
		}
	})

	t.Run("records limit", func(t *testing.T) {
		_, body := get(t, srv, "/healing/records?limit=1")
		var recs []locator.HealingRecord
		if err := json.Unmarshal(body, &recs); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(recs) != 1 || recs[0].OriginalLocator != "#totally-unrelated-xyz" {
			t.Errorf("records: got %+v", recs)
		}
	})

	t.Run("bad filter", func(t *testing.T) {
		if code, _ := get(t, srv, "/healing/records?success=maybe"); code != http.StatusBadRequest {
			t.Errorf("status: got %d, want 400", code)
		}
	})

	t.Run("summary", func(t *testing.T) {
		_, body := get(t, srv, "/healing/summary")
		var s locator.Summary
		if err := json.Unmarshal(body, &s); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if s.Total != 2 || s.Succeeded != 1 || s.Direct != 1 {
			t.Errorf("summary: got %+v", s)
		}
	})

	t.Run("healed", func(t *testing.T) {
		_, body := get(t, srv, "/healing/healed")
		var healed []locator.Healed
		if err := json.Unmarshal(body, &healed); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(healed) != 1 || healed[0].Healed != "#user-name" {
			t.Errorf("healed: got %+v", healed)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		_, body := get(t, srv, "/metrics")
		for _, want := range []string{
			`autoheal_attempts_total{outcome="success",strategy="heuristic"} 1`,
			"autoheal_direct_total 1",
		} {
			if !strings.Contains(string(body), want) {
				t.Errorf("metrics missing %q", want)
			}
		}
	})
}
