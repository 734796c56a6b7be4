// CLAUDE:SUMMARY Append-only healing log with summaries, metrics and asynchronous fan-out to sinks.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// DefaultBuffer is the sink delivery queue length.
const DefaultBuffer = 256

// Config configures a Recorder.
type Config struct {
	Sinks   []Sink
	Metrics *Metrics // nil disables metrics
	Logger  *slog.Logger
	IDs     IDGenerator
	Now     func() time.Time
	Buffer  int
}

// Recorder is safe for concurrent use. Records are kept in memory in
// append order and delivered to sinks by a single background goroutine,
// so a slow webhook never delays an action.
type Recorder struct {
	mu      sync.RWMutex
	records []locator.HealingRecord
	direct  int

	router  *Router
	metrics *Metrics
	logger  *slog.Logger
	ids     IDGenerator
	now     func() time.Time

	sendMu sync.RWMutex // guards queue against close while sending
	queue  chan locator.HealingRecord
	closed bool
	done   chan struct{}
}

// New creates a Recorder and starts its delivery goroutine.
func New(cfg Config) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		router:  NewRouter(logger, cfg.Sinks...),
		metrics: cfg.Metrics,
		logger:  logger,
		ids:     cfg.IDs,
		now:     cfg.Now,
		queue:   make(chan locator.HealingRecord, max(cfg.Buffer, DefaultBuffer)),
		done:    make(chan struct{}),
	}
	if r.ids == nil {
		r.ids = DefaultIDs
	}
	if r.now == nil {
		r.now = time.Now
	}
	go r.deliver()
	return r
}

func (r *Recorder) deliver() {
	defer close(r.done)
	ctx := context.Background()
	for rec := range r.queue {
		// Errors are logged by the router and never reach the caller.
		_ = r.router.Send(ctx, rec)
	}
}

// Record appends rec, assigning an ID and timestamp when missing, and
// returns the stored copy.
func (r *Recorder) Record(ctx context.Context, rec locator.HealingRecord) locator.HealingRecord {
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = r.ids()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now().UTC()
	}

	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.observe(rec)
	}
	r.logger.Info("recorder: healing recorded",
		"id", rec.ID, "original", rec.OriginalLocator, "healed", rec.HealedLocator,
		"strategy", rec.Strategy, "success", rec.Success, "latency_ms", rec.LatencyMs)

	if r.router.Len() > 0 {
		r.sendMu.RLock()
		if !r.closed {
			select {
			case r.queue <- rec.Clone():
			case <-ctx.Done():
				r.logger.Warn("recorder: record not delivered to sinks", "id", rec.ID, "error", ctx.Err())
			}
		}
		r.sendMu.RUnlock()
	}
	return rec.Clone()
}

// Direct counts an action that succeeded without healing.
func (r *Recorder) Direct() {
	r.mu.Lock()
	r.direct++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.incDirect()
	}
}

// Query returns a copy of every record in append order.
func (r *Recorder) Query() []locator.HealingRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]locator.HealingRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

// Summarize aggregates the log.
func (r *Recorder) Summarize() locator.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return locator.Summarize(r.records, r.direct)
}

// Healed returns the distinct successful mappings.
func (r *Recorder) Healed() []locator.Healed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return locator.HealedPairs(r.records)
}

// Close drains pending deliveries and closes every sink. Records stay
// queryable afterwards. Close is idempotent.
func (r *Recorder) Close() error {
	r.sendMu.Lock()
	if r.closed {
		r.sendMu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.sendMu.Unlock()

	<-r.done
	return r.router.Close()
}
