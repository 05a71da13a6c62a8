// Package adapter forwards remote events to downstream systems.
//
// `tether watch` builds one adapter per invocation and publishes every
// delivery it renders. The adapter owns its connection; callers close it.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventType is the envelope type for forwarded remote events.
const EventType = "remote_event"

// EventEnvelope is the payload published for each event delivery.
type EventEnvelope struct {
	Protocol  string `json:"protocol"`
	EventType string `json:"event_type"` // always "remote_event"
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Event     string `json:"event"`
	Seq       int    `json:"seq"`
	Args      []any  `json:"args"`
	Timestamp string `json:"timestamp"` // RFC 3339
}

// Adapter publishes event envelopes to a downstream system.
type Adapter interface {
	// Publish sends one envelope. It must respect ctx cancellation.
	Publish(ctx context.Context, env *EventEnvelope) error

	// Close releases adapter resources.
	Close() error
}

// Permanent marks an error that retrying cannot fix.
type Permanent struct {
	Err error
}

func (e *Permanent) Error() string { return e.Err.Error() }
func (e *Permanent) Unwrap() error { return e.Err }

// BaseBackoff is the delay before the first retry; it doubles per attempt.
var BaseBackoff = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times with exponential backoff
// between calls. A *Permanent error stops immediately. name prefixes the
// returned errors.
func Retry(ctx context.Context, name string, retries int, attempt func(context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("%s: non-retriable error: %w", name, perm.Err)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
