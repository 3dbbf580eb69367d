package events

import (
	"context"
	"time"
)

// Bus appends events to a capped stream. Publish is fire-and-forget from
// the business path's point of view: a failed append is logged and the
// request proceeds.
type Bus interface {
	Publish(ctx context.Context, stream string, ev *Event) error
	Close() error
}

// StreamMessage is one undecoded entry pulled from a stream.
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]string
}

// Consumer is the processor's view of the stream transport. Implementations
// must support consumer groups with per-message acknowledgment.
type Consumer interface {
	// EnsureGroup creates the durable group cursor on the stream if it does
	// not exist, seeded at the given start time.
	EnsureGroup(ctx context.Context, stream, group string, start time.Time) error
	// ReadGroup pulls up to count pending-or-new messages across the given
	// streams, blocking at most block. An empty result is not an error.
	ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]StreamMessage, error)
	// Claim transfers messages left unacknowledged in the group for longer
	// than minIdle to the given consumer and returns them for a retry,
	// regardless of which consumer first received them.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error)
	// AckAndDelete acknowledges the messages in the group and removes them
	// from the stream. Both steps are required: acking alone leaves a
	// trimmed-but-unacked backlog, deleting alone can double-count.
	AckAndDelete(ctx context.Context, stream, group string, ids ...string) error
}
