package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bomflow-io/bomflow/internal/event"
)

// Compile-time interface assertion.
var _ DeadLetterStore = (*PersistentDeadLetterStore)(nil)

// PersistentDeadLetterStore implements DeadLetterStore on the dead_letters
// table. Entries are retained for manual inspection and never replayed
// automatically by the pipeline.
type PersistentDeadLetterStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentDeadLetterStore creates a PostgreSQL-backed dead letter store.
func NewPersistentDeadLetterStore(conn *Connection, logger *slog.Logger) (*PersistentDeadLetterStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PersistentDeadLetterStore{conn: conn, logger: logger}, nil
}

// Add persists a dead letter. The raw entry values are stored as JSONB so
// undecodable events remain inspectable.
func (s *PersistentDeadLetterStore) Add(ctx context.Context, letter *event.DeadLetter) error {
	raw, err := json.Marshal(letter.Raw)
	if err != nil {
		return fmt.Errorf("encode dead letter raw values: %w", err)
	}

	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	query := `
		INSERT INTO dead_letters (entry_id, stream, event_id, raw_values, reason, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.conn.ExecContext(ctx, query,
		letter.EntryID, letter.Stream, nullableString(letter.EventID),
		raw, letter.Reason, letter.Attempts, letter.FailedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	s.logger.Warn("Event routed to dead letter storage",
		slog.String("stream", letter.Stream),
		slog.String("entry_id", letter.EntryID),
		slog.String("event_id", letter.EventID),
		slog.String("reason", letter.Reason))

	return nil
}

// List returns recent dead letters, most recent first.
func (s *PersistentDeadLetterStore) List(ctx context.Context, limit int) ([]*event.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	query := `
		SELECT entry_id, stream, event_id, raw_values, reason, attempts, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT $1
	`

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var letters []*event.DeadLetter

	for rows.Next() {
		var (
			letter  event.DeadLetter
			eventID sql.NullString
			raw     []byte
		)

		err := rows.Scan(&letter.EntryID, &letter.Stream, &eventID,
			&raw, &letter.Reason, &letter.Attempts, &letter.FailedAt)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}

		letter.EventID = eventID.String

		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &letter.Raw); err != nil {
				return nil, fmt.Errorf("decode dead letter raw values: %w", err)
			}
		}

		letters = append(letters, &letter)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}

	return letters, nil
}
