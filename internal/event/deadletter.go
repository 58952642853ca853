package event

import "time"

// DeadLetter records an event that failed fatally and was set aside for
// manual inspection. Dead letters are acknowledged on the stream (so one
// poisoned event never blocks the consumer group) and are never replayed
// automatically.
type DeadLetter struct {
	// EntryID is the stream log entry id of the failed delivery.
	EntryID string

	// Stream is the logical stream the entry arrived on.
	Stream string

	// EventID is the envelope event_id if it could be decoded, empty otherwise.
	EventID string

	// Raw holds the undecoded entry values for inspection.
	Raw map[string]any

	// Reason describes the fatal error that routed the event here.
	Reason string

	// Attempts is the delivery count observed when the event was dead-lettered.
	Attempts int64

	FailedAt time.Time
}
