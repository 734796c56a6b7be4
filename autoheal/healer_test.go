package autoheal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hazyhaar/selfheal/autoheal/htmlpage"
	"github.com/hazyhaar/selfheal/autoheal/internal/store"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

const sauceURL = "https://www.saucedemo.com/"

const sauceLogin = `<html><body><div class="login_wrapper"><form>
<input class="input_error form_input" placeholder="Username" type="text" data-test="username" id="user-name" name="user-name">
<input class="input_error form_input" placeholder="Password" type="password" data-test="password" id="password" name="password">
<input type="submit" class="submit-button btn_action" data-test="login-button" id="login-button" name="login-button" value="Login">
</form></div></body></html>`

// Two identical buttons: any locator built from them matches both.
const twinButtons = `<html><body>
<button class="submit-btn">Submit</button>
<button class="submit-btn">Submit</button>
</body></html>`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// spyPage counts snapshots (one per generation cycle) and can inject
// failures.
type spyPage struct {
	*htmlpage.Page
	contents  atomic.Int32
	dos       atomic.Int32
	onContent func()
	doErr     error
}

func (p *spyPage) Content(ctx context.Context) ([]byte, error) {
	p.contents.Add(1)
	data, err := p.Page.Content(ctx)
	if p.onContent != nil {
		p.onContent()
	}
	return data, err
}

func (p *spyPage) Do(ctx context.Context, loc locator.Locator, act locator.Action) (string, error) {
	p.dos.Add(1)
	if p.doErr != nil {
		return "", p.doErr
	}
	return p.Page.Do(ctx, loc, act)
}

func newSpy(t *testing.T, doc string, opts ...htmlpage.Option) *spyPage {
	t.Helper()
	p, err := htmlpage.New(sauceURL, []byte(doc), opts...)
	if err != nil {
		t.Fatalf("htmlpage.New: %v", err)
	}
	return &spyPage{Page: p}
}

func newHealer(t *testing.T, mutate func(*Config), opts ...Option) *Healer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Report = ReportConfig{}
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithLogger(quiet), WithoutConfiguredSinks()}, opts...)
	h, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func identity(t *testing.T, p *spyPage) locator.Identity {
	t.Helper()
	id, err := p.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	return id
}

func TestPerformAction_HealsBrokenID(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)

	_, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name-broken-selector", locator.Fill("standard_user"))
	if err != nil {
		t.Fatalf("PerformAction: %v", err)
	}
	if v, _ := page.Value("#user-name"); v != "standard_user" {
		t.Errorf("value: got %q, want %q", v, "standard_user")
	}

	recs := h.Results()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	r := recs[0]
	if !r.Success || r.HealedLocator != "#user-name" || r.Strategy != locator.StrategyHeuristic {
		t.Errorf("record: got %+v", r)
	}
	if r.Page.Scope != sauceURL || r.Action != locator.ActionFill {
		t.Errorf("record key: got %q %q", r.Page.Scope, r.Action)
	}
	if !strings.HasPrefix(r.ID, "heal_") {
		t.Errorf("id: got %q, want heal_ prefix", r.ID)
	}
	if h.CacheLen() != 1 {
		t.Errorf("cache: got %d entries, want 1", h.CacheLen())
	}
}

func TestPerformAction_NoCandidates(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)

	_, err := h.PerformAction(context.Background(), page, identity(t, page), "#totally-unrelated-xyz", locator.Click())
	if !errors.Is(err, locator.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if errors.Is(err, locator.ErrHealingExhausted) {
		t.Errorf("no candidate was tried, error should not be exhausted: %v", err)
	}
	var herr *locator.HealError
	if !errors.As(err, &herr) || herr.Locator != "#totally-unrelated-xyz" {
		t.Errorf("got %v, want *HealError for the original locator", err)
	}

	recs := h.Results()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	if recs[0].Success || recs[0].HealedLocator != "" || recs[0].Strategy != locator.StrategyNone {
		t.Errorf("record: got %+v", recs[0])
	}
	if len(page.Events()) != 0 {
		t.Errorf("events: got %v, want none", page.Events())
	}
}

func TestPerformAction_NeverActsOnAmbiguousMatch(t *testing.T) {
	h := newHealer(t, func(c *Config) { c.MaxRetries = 3 })
	page := newSpy(t, twinButtons)

	_, err := h.PerformAction(context.Background(), page, identity(t, page), ".submit-button-old", locator.Click())
	if !errors.Is(err, locator.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if len(page.Events()) != 0 {
		t.Errorf("acted on an ambiguous candidate: %v", page.Events())
	}
	if h.CacheLen() != 0 {
		t.Errorf("cache: got %d entries, want 0", h.CacheLen())
	}
}

func TestPerformAction_ConcurrentCallsCoalesce(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin, htmlpage.WithLatency(10*time.Millisecond))
	id := identity(t, page)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.PerformAction(context.Background(), page, id, "#user-name-broken-selector", locator.Fill("standard_user"))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if n := page.contents.Load(); n != 1 {
		t.Errorf("generation cycles: got %d, want 1", n)
	}
	recs := h.Results()
	if len(recs) != callers {
		t.Fatalf("records: got %d, want %d", len(recs), callers)
	}
	for _, r := range recs {
		if !r.Success || r.HealedLocator != "#user-name" {
			t.Errorf("record: got %+v", r)
		}
	}
}

func TestPerformAction_CacheHitSkipsGeneration(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	ctx := context.Background()
	id := identity(t, page)

	for i := range 2 {
		if _, err := h.PerformAction(ctx, page, id, "#user-name-broken-selector", locator.Fill("u")); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := page.contents.Load(); n != 1 {
		t.Errorf("generation cycles: got %d, want 1", n)
	}

	var strategies []locator.Strategy
	for _, r := range h.Results() {
		strategies = append(strategies, r.Strategy)
	}
	want := []locator.Strategy{locator.StrategyHeuristic, locator.StrategyCache}
	if diff := cmp.Diff(want, strategies); diff != "" {
		t.Errorf("strategies mismatch (-want +got):\n%s", diff)
	}

	healed := h.HealedSelectors()
	if len(healed) != 1 || healed[0].Count != 2 {
		t.Errorf("healed selectors: got %+v", healed)
	}
}

func TestPerformAction_FailedCacheEntryIsEvicted(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	ctx := context.Background()

	if _, err := h.PerformAction(ctx, page, identity(t, page), "#user-name-broken-selector", locator.Fill("u")); err != nil {
		t.Fatalf("first: %v", err)
	}

	redesigned := strings.Replace(sauceLogin, `id="user-name"`, `id="user-name-field"`, 1)
	if err := page.Navigate(sauceURL, []byte(redesigned)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.PerformAction(ctx, page, identity(t, page), "#user-name-broken-selector", locator.Fill("u")); err != nil {
		t.Fatalf("second: %v", err)
	}

	recs := h.Results()
	last := recs[len(recs)-1]
	if last.HealedLocator != "#user-name-field" || last.Strategy != locator.StrategyHeuristic {
		t.Errorf("second heal: got %+v", last)
	}
	if last.Attempted[0] != "#user-name" {
		t.Errorf("attempted: got %q, want the stale cached locator first", last.Attempted)
	}
	if h.CacheLen() != 1 {
		t.Errorf("cache: got %d entries, want 1", h.CacheLen())
	}
}

func TestPerformAction_StaleGenerationRegenerates(t *testing.T) {
	h := newHealer(t, func(c *Config) { c.StaleGenerations = 1 })
	page := newSpy(t, sauceLogin)
	ctx := context.Background()

	if _, err := h.PerformAction(ctx, page, identity(t, page), "#user-name-broken-selector", locator.Fill("u")); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := page.Navigate(sauceURL, []byte(sauceLogin)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.PerformAction(ctx, page, identity(t, page), "#user-name-broken-selector", locator.Fill("u")); err != nil {
		t.Fatal(err)
	}
	if n := page.contents.Load(); n != 2 {
		t.Errorf("generation cycles: got %d, want 2", n)
	}
}

func TestPerformAction_DirectSuccessIsNotHealing(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)

	if _, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name", locator.Fill("u")); err != nil {
		t.Fatal(err)
	}
	if recs := h.Results(); len(recs) != 0 {
		t.Errorf("records: got %d, want 0", len(recs))
	}
	if s := h.Summarize(); s.Direct != 1 || s.Total != 0 {
		t.Errorf("summary: got %+v", s)
	}
	if page.contents.Load() != 0 {
		t.Error("direct success took a snapshot")
	}
}

func TestPerformAction_NonLocatorErrorUnchanged(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	transport := errors.New("cdp: connection closed")
	page.doErr = transport

	_, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name", locator.Click())
	if err != transport {
		t.Fatalf("got %v, want the adapter error unchanged", err)
	}
	if len(h.Results()) != 0 {
		t.Error("a transport failure was recorded as healing")
	}
}

func TestPerformAction_ZeroRetriesExhausts(t *testing.T) {
	h := newHealer(t, func(c *Config) { c.MaxRetries = 0 })
	page := newSpy(t, sauceLogin)

	_, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name-broken-selector", locator.Fill("u"))
	if !errors.Is(err, locator.ErrHealingExhausted) || !errors.Is(err, locator.ErrNotFound) {
		t.Fatalf("got %v, want ErrHealingExhausted wrapping ErrNotFound", err)
	}
	if len(page.Events()) != 0 {
		t.Errorf("events: got %v, want none", page.Events())
	}
	recs := h.Results()
	if len(recs) != 1 || recs[0].Success {
		t.Errorf("records: got %+v", recs)
	}
}

func TestPerformAction_CancelledHealingLeavesNoCacheEntry(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page.onContent = cancel

	_, err := h.PerformAction(ctx, page, identity(t, page), "#user-name-broken-selector", locator.Fill("u"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if h.CacheLen() != 0 {
		t.Errorf("cache: got %d entries, want 0", h.CacheLen())
	}
	if len(page.Events()) != 0 {
		t.Errorf("events: got %v, want none", page.Events())
	}
}

func TestPerformAction_OperationTimeoutRecordsFailure(t *testing.T) {
	h := newHealer(t, func(c *Config) {
		c.OperationTimeout = 60 * time.Millisecond
		c.ActionTimeout = 40 * time.Millisecond
	})
	// Direct attempt, snapshot and first count already exceed the budget.
	page := newSpy(t, sauceLogin, htmlpage.WithLatency(25*time.Millisecond))

	_, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name-broken-selector", locator.Fill("u"))
	var herr *locator.HealError
	if !errors.As(err, &herr) {
		t.Fatalf("got %v, want *locator.HealError", err)
	}
	if !errors.Is(err, locator.ErrNotFound) {
		t.Errorf("got %v, want it to wrap ErrNotFound", err)
	}
	recs := h.Results()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	if recs[0].Success || recs[0].Strategy != locator.StrategyNone || recs[0].HealedLocator != "" {
		t.Errorf("record: got %+v", recs[0])
	}
	if h.CacheLen() != 0 {
		t.Errorf("cache: got %d entries, want 0", h.CacheLen())
	}
}

func TestPerformAction_FollowerRetriesWhenLeaderCancelled(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	id := identity(t, page)

	gate := make(chan struct{})
	var once sync.Once
	page.onContent = func() { once.Do(func() { <-gate }) }

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := h.PerformAction(leaderCtx, page, id, "#user-name-broken-selector", locator.Fill("u"))
		leaderErr <- err
	}()
	waitFor(t, func() bool { return page.contents.Load() == 1 })

	followerErr := make(chan error, 1)
	go func() {
		_, err := h.PerformAction(context.Background(), page, id, "#user-name-broken-selector", locator.Fill("u"))
		followerErr <- err
	}()
	waitFor(t, func() bool { return page.dos.Load() == 2 })
	time.Sleep(20 * time.Millisecond) // follower joins the flight
	cancelLeader()
	close(gate)

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader: got %v, want context.Canceled", err)
	}
	if err := <-followerErr; err != nil {
		t.Fatalf("follower: %v", err)
	}
	recs := h.Results()
	if len(recs) != 1 || !recs[0].Success || recs[0].HealedLocator != "#user-name" {
		t.Errorf("records: got %+v", recs)
	}
	if h.CacheLen() != 1 {
		t.Errorf("cache: got %d entries, want 1", h.CacheLen())
	}
	if n := page.contents.Load(); n != 2 {
		t.Errorf("generation cycles: got %d, want 2", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPerformAction_UnknownAction(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	_, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name", locator.Action{Kind: "drag"})
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Errorf("got %v, want unknown action error", err)
	}
}

type fakeAdvisor struct {
	suggest []locator.Locator
	err     error
	calls   atomic.Int32
}

func (f *fakeAdvisor) Name() string { return "fake" }

func (f *fakeAdvisor) Suggest(context.Context, AdvisorRequest) ([]locator.Locator, error) {
	f.calls.Add(1)
	return f.suggest, f.err
}

func TestPerformAction_AdvisorDownFallsBackToHeuristic(t *testing.T) {
	adv := &fakeAdvisor{err: locator.ErrAdvisorUnavailable}
	h := newHealer(t, func(c *Config) {
		c.CandidateStrategy = "both"
		c.MaxRetries = 2
	}, WithAdvisor(adv))
	page := newSpy(t, sauceLogin)

	if _, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name-broken-selector", locator.Fill("u")); err != nil {
		t.Fatalf("PerformAction: %v", err)
	}
	if recs := h.Results(); recs[0].Strategy != locator.StrategyHeuristic {
		t.Errorf("strategy: got %q, want heuristic", recs[0].Strategy)
	}
}

func TestPerformAction_GenerativeOnly(t *testing.T) {
	adv := &fakeAdvisor{suggest: []locator.Locator{"#nope", `[data-test="username"]`}}
	h := newHealer(t, func(c *Config) { c.CandidateStrategy = "generative" }, WithAdvisor(adv))
	page := newSpy(t, sauceLogin)

	if _, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name-broken-selector", locator.Fill("u")); err != nil {
		t.Fatalf("PerformAction: %v", err)
	}
	r := h.Results()[0]
	if r.Strategy != locator.StrategyGenerative || r.HealedLocator != `[data-test="username"]` {
		t.Errorf("record: got %+v", r)
	}
	if adv.calls.Load() != 1 {
		t.Errorf("advisor calls: got %d, want 1", adv.calls.Load())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandidateStrategy = "generative"
	if _, err := New(cfg, WithLogger(quiet), WithoutConfiguredSinks()); err == nil {
		t.Error("generative without a provider should fail")
	}
}

func TestHealSelector(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)

	res, err := h.HealSelector(context.Background(), page, "#user-name-broken-selector")
	if err != nil {
		t.Fatalf("HealSelector: %v", err)
	}
	if !res.Success || res.NewSelector != "#user-name" || res.Strategy != locator.StrategyHeuristic {
		t.Errorf("result: got %+v", res)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Locator != res.NewSelector {
		t.Errorf("candidates: got %+v", res.Candidates)
	}
	if len(h.Results()) != 0 || h.CacheLen() != 0 {
		t.Error("manual healing must not record or cache")
	}

	res, err = h.HealSelector(context.Background(), page, "#totally-unrelated-xyz")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Strategy != locator.StrategyNone {
		t.Errorf("unrelated: got %+v", res)
	}
}

func TestHealSelector_UsesCache(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	ctx := context.Background()
	if _, err := h.PerformAction(ctx, page, identity(t, page), "#user-name-broken-selector", locator.Click()); err != nil {
		t.Fatal(err)
	}
	res, err := h.HealSelector(ctx, page, "#user-name-broken-selector")
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != locator.StrategyCache || res.NewSelector != "#user-name" {
		t.Errorf("result: got %+v", res)
	}
}

func TestHealingPage(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	p := h.Setup(page, locator.Identity{})
	ctx := context.Background()

	if err := p.Fill(ctx, "#user-name-broken-selector", "standard_user"); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := p.Fill(ctx, "#password", "secret_sauce"); err != nil {
		t.Fatalf("Fill password: %v", err)
	}
	if err := p.Click(ctx, `[data-test="login-btn"]`); err != nil {
		t.Fatalf("Click: %v", err)
	}

	got := make([]locator.Locator, 0, 3)
	for _, ev := range page.Events() {
		got = append(got, ev.Locator)
	}
	want := []locator.Locator{"#user-name", "#password", `[data-test="login-button"]`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("acted locators mismatch (-want +got):\n%s", diff)
	}
	if recs := h.Results(); len(recs) != 2 || recs[0].Page.Scope != sauceURL {
		t.Errorf("records: got %+v", recs)
	}
	if p.Unwrap() != locator.Page(page) {
		t.Error("Unwrap should return the adapter")
	}
}

func TestPrintSummary(t *testing.T) {
	h := newHealer(t, nil)
	page := newSpy(t, sauceLogin)
	ctx := context.Background()
	id := identity(t, page)

	h.PerformAction(ctx, page, id, "#user-name-broken-selector", locator.Fill("u"))
	h.PerformAction(ctx, page, id, "#totally-unrelated-xyz", locator.Click())
	h.PerformAction(ctx, page, id, "#password", locator.Fill("p"))

	var buf bytes.Buffer
	if err := h.PrintSummary(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"2 attempts, 1 healed, 1 failed, 1 direct",
		`fill "#user-name-broken-selector" -> "#user-name"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSinks_ConfiguredReports(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit", "healing.db")

	cfg := DefaultConfig()
	cfg.ProjectPath = dir
	cfg.Report = ReportConfig{Markdown: true, SQLite: dbPath}

	var mu sync.Mutex
	var delivered []locator.HealingRecord
	cb := CallbackSink(func(_ context.Context, rec locator.HealingRecord) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, rec)
		return nil
	})

	h, err := New(cfg, WithLogger(quiet), WithSinks(cb))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	page := newSpy(t, sauceLogin)
	if _, err := h.PerformAction(context.Background(), page, identity(t, page), "#user-name-broken-selector", locator.Fill("u")); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	mu.Lock()
	if diff := cmp.Diff(h.Results(), delivered, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("callback records mismatch (-want +got):\n%s", diff)
	}
	mu.Unlock()

	reports, _ := filepath.Glob(filepath.Join(dir, ".autoheal", "recommendations", "healing-*.md"))
	if len(reports) != 1 {
		t.Errorf("markdown reports: got %v, want 1", reports)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	rows, err := st.List(context.Background(), store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].HealedLocator != "#user-name" {
		t.Errorf("audit rows: got %+v", rows)
	}
}
