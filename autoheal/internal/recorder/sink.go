// Package recorder keeps the append-only healing log and fans records out
// to output sinks.
package recorder

import (
	"context"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Sink is the output interface. Implementations deliver healing records
// to different backends (stdout, webhook, sqlite, markdown, in-process
// callback).
type Sink interface {
	Send(ctx context.Context, rec locator.HealingRecord) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
