// Package pipeline wires the subscriber, the explosion engine, the feature
// collaborator, the watermark store and the publisher into the per-event
// processing state machine, with error classification and dead-letter routing.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/bomflow-io/bomflow/internal/event"
	"github.com/bomflow-io/bomflow/internal/explosion"
	"github.com/bomflow-io/bomflow/internal/storage"
)

// Class is the error classification driving how a failed event is handled.
type Class int

const (
	// ClassTransient marks temporary failures (store timeout, stream log
	// unavailability, watermark lock contention). The event is not
	// acknowledged; redelivery or the reclaim loop retries it.
	ClassTransient Class = iota

	// ClassFatal marks failures that will never succeed on retry
	// (undecodable envelope, unknown event type, graph size bound). The
	// event is acknowledged and routed to dead letter storage so it cannot
	// poison the stream.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its handling classification.
type ClassifiedError struct {
	Class     Class
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}

	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// WrapTransient wraps err as retryable.
func WrapTransient(operation string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassTransient, Operation: operation, Err: err}
}

// WrapFatal wraps err as fatal.
func WrapFatal(operation string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassFatal, Operation: operation, Err: err}
}

// Classify determines how an error should be handled.
//
// Explicit classifications are honored first. Known-fatal conditions (decode
// failures, graph bounds) classify fatal. Everything else - including
// context deadline expiry and watermark staleness - defaults to transient:
// not acknowledging is always safe, while wrongly dead-lettering loses data.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}

	switch {
	case errors.Is(err, event.ErrMissingEventID),
		errors.Is(err, event.ErrMissingClientID),
		errors.Is(err, event.ErrInvalidClientID),
		errors.Is(err, event.ErrUnknownEventType),
		errors.Is(err, event.ErrInvalidOccurredAt),
		errors.Is(err, event.ErrInvalidPayload),
		errors.Is(err, event.ErrMissingTableName),
		errors.Is(err, event.ErrMissingPosition):
		return ClassFatal

	case errors.Is(err, explosion.ErrGraphTooLarge),
		errors.Is(err, explosion.ErrNegativeQuantity):
		return ClassFatal

	// A table name that fails validation is part of the payload; no number
	// of retries changes it.
	case errors.Is(err, storage.ErrInvalidTableName):
		return ClassFatal

	case errors.Is(err, storage.ErrStaleWatermark),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ClassTransient

	default:
		return ClassTransient
	}
}
