// Package outbox relays committed session events, in commit order, to
// durable storage and to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/mcdev12/aln/go/internal/broadcast"
)

// EventPublisher delivers one event somewhere outside the process.
type EventPublisher interface {
	Publish(ctx context.Context, event broadcast.Event) error
}

// Config holds the relay retry settings. Backoff grows by RetryDelay per
// attempt and is capped at MaxRetryDelay.
type Config struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Target is a named publisher the relay feeds. A durable target never drops
// an event: past MaxRetries it keeps retrying and holds back every later
// event until it succeeds or the relay is cancelled.
type Target struct {
	Name      string
	Publisher EventPublisher
	Durable   bool
}
