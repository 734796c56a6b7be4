// CLAUDE:SUMMARY In-process callback sink delivering healing records via a Go function call.
package recorder

import (
	"context"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// RecordFunc is called for each record.
type RecordFunc func(ctx context.Context, rec locator.HealingRecord) error

// Callback delivers records to a function in the same process.
type Callback struct {
	fn RecordFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn RecordFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, rec locator.HealingRecord) error {
	if c.fn != nil {
		return c.fn(ctx, rec)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
