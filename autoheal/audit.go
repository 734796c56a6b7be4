package autoheal

import (
	"context"
	"io"
	"time"

	"github.com/hazyhaar/selfheal/autoheal/internal/recorder"
	"github.com/hazyhaar/selfheal/autoheal/internal/store"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// DefaultAuditPath is where the CLI keeps the SQLite audit store,
// relative to the project path.
const DefaultAuditPath = ".autoheal/healing.db"

// RecommendationsDir holds the markdown reports, relative to the project
// path.
const RecommendationsDir = recorder.RecommendationsDir

// AuditFilter selects stored records.
type AuditFilter = store.Filter

// AuditLog reads the healing records persisted by the SQLite sink.
type AuditLog struct {
	st *store.Store
}

// OpenAuditLog opens (creating if needed) the audit store at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return &AuditLog{st: st}, nil
}

// List returns the records matching f, oldest first.
func (a *AuditLog) List(ctx context.Context, f AuditFilter) ([]locator.HealingRecord, error) {
	return a.st.List(ctx, f)
}

// Summarize aggregates every stored record.
func (a *AuditLog) Summarize(ctx context.Context) (locator.Summary, error) {
	return a.st.Summarize(ctx)
}

// Close closes the store.
func (a *AuditLog) Close() error { return a.st.Close() }

// WriteReport renders records as the markdown recommendations report.
func WriteReport(w io.Writer, records []locator.HealingRecord, direct int, at time.Time) error {
	return recorder.WriteReport(w, records, direct, at)
}
