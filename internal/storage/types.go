// Package storage provides PostgreSQL-backed persistence for the bomflow
// pipeline: the watermark audit trail (processing_history), the client
// registry with per-client explosion settings, and dead-letter storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bomflow-io/bomflow/internal/event"
	"github.com/bomflow-io/bomflow/internal/explosion"
)

// WatermarkStatus is the outcome recorded on a processing_history row.
type WatermarkStatus string

// Watermark statuses. StatusPartial is retained for audit compatibility;
// the orchestrator itself commits all-or-nothing and only writes
// completed/failed rows.
const (
	StatusCompleted WatermarkStatus = "completed"
	StatusFailed    WatermarkStatus = "failed"
	StatusPartial   WatermarkStatus = "partial"
)

// Watermark is one immutable processing_history row: a record that source
// data for (ClientID, TableName) has been fully processed up to Position.
// Rows are inserted, never updated; the latest completed row per key is the
// authoritative watermark, older rows are the audit trail.
type Watermark struct {
	ID               int64
	ClientID         uuid.UUID
	TableName        string
	Position         time.Time
	RecordsProcessed int
	BatchID          string
	ProcessedAt      time.Time
	Duration         time.Duration
	Status           WatermarkStatus
	ErrorMessage     string
}

// CommitRequest carries the fields of a new watermark row.
type CommitRequest struct {
	ClientID         uuid.UUID
	TableName        string
	Position         time.Time
	RecordsProcessed int
	BatchID          string
	Duration         time.Duration
	Status           WatermarkStatus
	ErrorMessage     string
}

// Sentinel errors for watermark operations.
var (
	// ErrStaleWatermark is returned by Commit when the candidate position is
	// not strictly greater than the current latest completed position. This
	// is the losing side of a concurrent duplicate race and is retryable:
	// re-read the latest watermark and re-evaluate coverage.
	ErrStaleWatermark = errors.New("watermark position is not newer than the current latest")

	// ErrEmptyTableName is returned when a watermark operation is attempted
	// without a table name.
	ErrEmptyTableName = errors.New("table name cannot be empty")
)

// WatermarkStore tracks the highest fully-processed source position per
// (client, table). It is the sole arbiter of "what counts as processed":
// the orchestrator converts at-least-once delivery into effective-exactly-once
// processing by consulting it before doing any work.
type WatermarkStore interface {
	// Latest returns the most recent completed watermark for the key, or
	// (nil, nil) if the key has never been processed.
	Latest(ctx context.Context, clientID uuid.UUID, tableName string) (*Watermark, error)

	// Commit inserts a new watermark row. Completed rows are verified for
	// monotonicity at insert time: a candidate position not strictly greater
	// than the current latest completed position fails with ErrStaleWatermark.
	// Failed rows are recorded unconditionally for the audit trail.
	Commit(ctx context.Context, req CommitRequest) (*Watermark, error)

	// IsAlreadyProcessed reports whether candidate is covered by the latest
	// completed watermark (candidate <= latest position).
	IsAlreadyProcessed(ctx context.Context, clientID uuid.UUID, tableName string, candidate time.Time) (bool, error)

	// History returns recent rows for the key, most recent first.
	History(ctx context.Context, clientID uuid.UUID, tableName string, limit int) ([]*Watermark, error)
}

// DeadLetterStore persists fatally-failed events for manual inspection.
type DeadLetterStore interface {
	Add(ctx context.Context, letter *event.DeadLetter) error
	List(ctx context.Context, limit int) ([]*event.DeadLetter, error)
}

// Client is one tenant organization registered with the service.
type Client struct {
	ID        uuid.UUID
	Name      string
	Status    string
	Features  map[string]bool
	UpdatedAt time.Time
}

// ClientStore holds the client registry and per-client processing
// configuration. Explosion settings are read as a versioned snapshot at the
// start of each run, so configuration changes take effect between runs
// without restarts and never mid-run.
type ClientStore interface {
	Upsert(ctx context.Context, client *Client) error
	Get(ctx context.Context, clientID uuid.UUID) (*Client, error)
	ExplosionSettings(ctx context.Context, clientID uuid.UUID) (explosion.Settings, error)
}

// ErrClientNotFound is returned by ClientStore.Get for unknown clients.
var ErrClientNotFound = errors.New("client not found")
