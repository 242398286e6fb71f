// Package events publishes the engine's domain events for the notification
// layer. The AMQP publisher is the production implementation; Nop keeps the
// engine runnable without a broker.
package events

import (
	"context"

	"tanda/internal/core"
)

// Publisher delivers domain events to subscribers. Publish must not block a
// state transition on broker problems; implementations log and drop rather
// than fail the caller.
type Publisher interface {
	Publish(ctx context.Context, event core.Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, core.Event) error { return nil }
func (Nop) Close() error                              { return nil }
