package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface assertion.
var _ WatermarkStore = (*PersistentWatermarkStore)(nil)

// PersistentWatermarkStore implements WatermarkStore on the
// processing_history table. Rows are insert-only; monotonicity of completed
// rows is enforced inside a transaction holding a per-key advisory lock, so
// concurrent commits for the same (client, table) cannot interleave into an
// older position overwriting a newer one.
type PersistentWatermarkStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentWatermarkStore creates a PostgreSQL-backed watermark store.
func NewPersistentWatermarkStore(conn *Connection, logger *slog.Logger) (*PersistentWatermarkStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PersistentWatermarkStore{conn: conn, logger: logger}, nil
}

const watermarkColumns = `
	id, client_id, table_name, last_ingestion_time, records_processed,
	batch_id, processed_at, processing_duration_ms, status, error_message
`

// Latest returns the most recent completed watermark for (clientID, tableName),
// or (nil, nil) if the key has never completed processing.
func (s *PersistentWatermarkStore) Latest(
	ctx context.Context,
	clientID uuid.UUID,
	tableName string,
) (*Watermark, error) {
	if tableName == "" {
		return nil, ErrEmptyTableName
	}

	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	query := `
		SELECT ` + watermarkColumns + `
		FROM processing_history
		WHERE client_id = $1
		  AND table_name = $2
		  AND status = 'completed'
		ORDER BY last_ingestion_time DESC, processed_at DESC
		LIMIT 1
	`

	row := s.conn.QueryRowContext(ctx, query, clientID, tableName)

	watermark, err := scanWatermark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query latest watermark: %w", err)
	}

	return watermark, nil
}

// IsAlreadyProcessed reports whether candidate is covered by the latest
// completed watermark. A missing watermark means nothing is covered yet.
func (s *PersistentWatermarkStore) IsAlreadyProcessed(
	ctx context.Context,
	clientID uuid.UUID,
	tableName string,
	candidate time.Time,
) (bool, error) {
	latest, err := s.Latest(ctx, clientID, tableName)
	if err != nil {
		return false, err
	}

	if latest == nil {
		return false, nil
	}

	return !candidate.After(latest.Position), nil
}

// Commit inserts a new processing_history row.
//
// Completed rows take a per-key advisory lock for the duration of the
// transaction and are inserted only if the candidate position is strictly
// greater than the current latest completed position; otherwise the commit
// fails with ErrStaleWatermark. Failed rows skip the monotonicity check:
// they are audit records, not watermarks.
func (s *PersistentWatermarkStore) Commit(ctx context.Context, req CommitRequest) (*Watermark, error) {
	if req.TableName == "" {
		return nil, ErrEmptyTableName
	}

	if req.Status != StatusCompleted {
		return s.insertUnconditionally(ctx, req)
	}

	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin watermark commit: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	// Advisory lock serializes commits per (client, table) for the rest of
	// the transaction. hashtextextended gives a stable 64-bit key.
	_, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`,
		req.ClientID.String(), req.TableName)
	if err != nil {
		return nil, fmt.Errorf("acquire watermark lock: %w", err)
	}

	insert := `
		INSERT INTO processing_history (
			client_id, table_name, last_ingestion_time, records_processed,
			batch_id, processed_at, processing_duration_ms, status, error_message
		)
		SELECT $1, $2, $3, $4, $5, NOW(), $6, 'completed', NULL
		WHERE NOT EXISTS (
			SELECT 1
			FROM processing_history
			WHERE client_id = $1
			  AND table_name = $2
			  AND status = 'completed'
			  AND last_ingestion_time >= $3
		)
		RETURNING ` + watermarkColumns

	row := tx.QueryRowContext(ctx, insert,
		req.ClientID, req.TableName, req.Position.UTC(), req.RecordsProcessed,
		nullableString(req.BatchID), req.Duration.Milliseconds())

	watermark, err := scanWatermark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s at %s",
			ErrStaleWatermark, req.ClientID, req.TableName, req.Position.UTC().Format(time.RFC3339Nano))
	}

	if err != nil {
		return nil, fmt.Errorf("insert watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit watermark: %w", err)
	}

	s.logger.Debug("Watermark committed",
		slog.String("client_id", req.ClientID.String()),
		slog.String("table_name", req.TableName),
		slog.Time("position", watermark.Position),
		slog.Int("records_processed", watermark.RecordsProcessed))

	return watermark, nil
}

// History returns recent processing rows for the key, most recent first.
func (s *PersistentWatermarkStore) History(
	ctx context.Context,
	clientID uuid.UUID,
	tableName string,
	limit int,
) ([]*Watermark, error) {
	if tableName == "" {
		return nil, ErrEmptyTableName
	}

	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	query := `
		SELECT ` + watermarkColumns + `
		FROM processing_history
		WHERE client_id = $1 AND table_name = $2
		ORDER BY processed_at DESC
		LIMIT $3
	`

	rows, err := s.conn.QueryContext(ctx, query, clientID, tableName, limit)
	if err != nil {
		return nil, fmt.Errorf("query watermark history: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var history []*Watermark

	for rows.Next() {
		watermark, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watermark history: %w", err)
		}

		history = append(history, watermark)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermark history: %w", err)
	}

	return history, nil
}

func (s *PersistentWatermarkStore) insertUnconditionally(
	ctx context.Context,
	req CommitRequest,
) (*Watermark, error) {
	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	insert := `
		INSERT INTO processing_history (
			client_id, table_name, last_ingestion_time, records_processed,
			batch_id, processed_at, processing_duration_ms, status, error_message
		)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6, $7, $8)
		RETURNING ` + watermarkColumns

	row := s.conn.QueryRowContext(ctx, insert,
		req.ClientID, req.TableName, req.Position.UTC(), req.RecordsProcessed,
		nullableString(req.BatchID), req.Duration.Milliseconds(),
		string(req.Status), nullableString(req.ErrorMessage))

	watermark, err := scanWatermark(row)
	if err != nil {
		return nil, fmt.Errorf("insert %s watermark row: %w", req.Status, err)
	}

	return watermark, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWatermark(row scanner) (*Watermark, error) {
	var (
		watermark    Watermark
		batchID      sql.NullString
		durationMS   sql.NullInt64
		errorMessage sql.NullString
		status       string
	)

	err := row.Scan(
		&watermark.ID, &watermark.ClientID, &watermark.TableName,
		&watermark.Position, &watermark.RecordsProcessed,
		&batchID, &watermark.ProcessedAt, &durationMS, &status, &errorMessage)
	if err != nil {
		return nil, err
	}

	watermark.BatchID = batchID.String
	watermark.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	watermark.Status = WatermarkStatus(status)
	watermark.ErrorMessage = errorMessage.String

	return &watermark, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
