package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrInvalidTableName is returned when a source table name does not match the
// per-client naming convention. Table names arrive in event payloads, so they
// are validated before ever reaching a query.
var ErrInvalidTableName = errors.New("source table name is not a valid identifier")

// Source tables follow the c{org}_{name} convention (c2_sales, c17_stock).
var sourceTablePattern = regexp.MustCompile(`^c[0-9]+_[a-z][a-z0-9_]{0,58}$`)

// SourceScanner measures a processing window against a client source table:
// how many records fall into (since, until]. The numeric transforms
// themselves run downstream of the features_updated event; this service's
// contract is the window bookkeeping and the record count that lands in
// processing_history.
type SourceScanner struct {
	conn   *Connection
	logger *slog.Logger
}

// NewSourceScanner creates a PostgreSQL-backed source scanner.
func NewSourceScanner(conn *Connection, logger *slog.Logger) (*SourceScanner, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SourceScanner{conn: conn, logger: logger}, nil
}

// BuildFeatures counts the records in the (since, until] window of the
// client's source table. A nil since means the table has never been
// processed and the full history up to until is counted.
func (s *SourceScanner) BuildFeatures(
	ctx context.Context,
	clientID uuid.UUID,
	tableName string,
	since *time.Time,
	until time.Time,
) (int, error) {
	if !sourceTablePattern.MatchString(tableName) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTableName, tableName)
	}

	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	// The table name is validated against the convention above and quoted;
	// it never participates in the query as a parameter.
	table := pq.QuoteIdentifier(tableName)

	var (
		count int
		err   error
	)

	if since == nil {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE updated_at <= $1`, table)
		err = s.conn.QueryRowContext(ctx, query, until).Scan(&count)
	} else {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE updated_at > $1 AND updated_at <= $2`, table)
		err = s.conn.QueryRowContext(ctx, query, *since, until).Scan(&count)
	}

	if err != nil {
		return 0, fmt.Errorf("count source window: %w", err)
	}

	s.logger.Debug("Source window scanned",
		slog.String("client_id", clientID.String()),
		slog.String("table_name", tableName),
		slog.Int("records", count))

	return count, nil
}
