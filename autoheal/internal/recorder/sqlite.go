package recorder

import (
	"context"

	"github.com/hazyhaar/selfheal/autoheal/internal/store"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// SQLite persists records to the audit store.
type SQLite struct {
	st    *store.Store
	owned bool
}

// NewSQLite wraps an open store. The caller keeps ownership of st.
func NewSQLite(st *store.Store) *SQLite {
	return &SQLite{st: st}
}

// OpenSQLite opens the store at path; Close closes it.
func OpenSQLite(path string) (*SQLite, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{st: st, owned: true}, nil
}

// Store returns the underlying store.
func (s *SQLite) Store() *store.Store { return s.st }

func (s *SQLite) Send(ctx context.Context, rec locator.HealingRecord) error {
	return s.st.Insert(ctx, rec)
}

func (s *SQLite) Close() error {
	if s.owned {
		return s.st.Close()
	}
	return nil
}
