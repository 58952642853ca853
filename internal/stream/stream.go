// Package stream abstracts the durable append log the pipeline consumes from
// and publishes to: a multi-reader log with consumer-group semantics, where
// each group tracks its own cursor and pending (delivered but unacknowledged)
// entries. The concrete transport is Redis Streams; the capability interfaces
// keep the orchestrator independent of it.
//
// Delivery is at-least-once: an entry stays pending until explicitly
// acknowledged, and a crash before acknowledgement guarantees redelivery to
// some consumer in the group once the idle threshold elapses.
package stream

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNoStreams is returned when a subscriber is configured without input streams.
	ErrNoStreams = errors.New("at least one input stream is required")

	// ErrEmptyGroup is returned when the consumer group name is empty.
	ErrEmptyGroup = errors.New("consumer group name cannot be empty")
)

// Message is one delivered log entry.
type Message struct {
	// ID is the log entry id, unique and ordered within its stream.
	ID string

	// Stream is the logical stream the entry arrived on.
	Stream string

	// Values holds the flat entry fields.
	Values map[string]any

	// DeliveryCount is the number of times this entry has been delivered,
	// when the transport reports it (reclaimed entries); zero otherwise.
	DeliveryCount int64
}

// Subscriber pulls entries from the log under one consumer group. Multiple
// process instances sharing the group receive disjoint subsets of each
// stream's traffic; distinct groups each receive the full stream.
type Subscriber interface {
	// Poll fetches up to maxBatch new entries across the configured streams,
	// blocking cooperatively up to block when none are available. An empty
	// result with nil error means the block duration elapsed quietly.
	Poll(ctx context.Context, maxBatch int64, block time.Duration) ([]Message, error)

	// Acknowledge marks one entry as fully processed. After this call the
	// entry is no longer pending and will not be redelivered.
	Acknowledge(ctx context.Context, streamName, id string) error

	// ReclaimStale claims entries that were delivered to some consumer in
	// the group and left pending for at least minIdle, re-surfacing them
	// for processing by this consumer.
	ReclaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error)

	// Close releases the underlying connection.
	Close() error
}

// Publisher appends entries to an output stream with bounded retention:
// once the stream exceeds its configured maximum length the oldest entries
// are trimmed.
type Publisher interface {
	Publish(ctx context.Context, streamName string, values map[string]any) (string, error)
}
