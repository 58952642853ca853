package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bomflow-io/bomflow/internal/explosion"
)

// Compile-time interface assertion.
var _ ClientStore = (*PersistentClientStore)(nil)

// PersistentClientStore implements ClientStore on the clients and
// client_processing_config tables. Client rows arrive via clients_updated
// events (event-carried state transfer), so Upsert is idempotent.
type PersistentClientStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentClientStore creates a PostgreSQL-backed client store.
func NewPersistentClientStore(conn *Connection, logger *slog.Logger) (*PersistentClientStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PersistentClientStore{conn: conn, logger: logger}, nil
}

// Upsert creates or replaces a client row. Redelivered clients_updated
// events land on the same state, so this is safe under at-least-once delivery.
func (s *PersistentClientStore) Upsert(ctx context.Context, client *Client) error {
	features, err := json.Marshal(client.Features)
	if err != nil {
		return fmt.Errorf("encode client features: %w", err)
	}

	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	query := `
		INSERT INTO clients (id, name, status, features, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			features = EXCLUDED.features,
			updated_at = NOW()
	`

	if _, err := s.conn.ExecContext(ctx, query, client.ID, client.Name, client.Status, features); err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}

	s.logger.Info("Client configuration saved",
		slog.String("client_id", client.ID.String()),
		slog.String("client_name", client.Name),
		slog.String("status", client.Status))

	return nil
}

// Get returns a client by id, or ErrClientNotFound.
func (s *PersistentClientStore) Get(ctx context.Context, clientID uuid.UUID) (*Client, error) {
	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	query := `
		SELECT id, name, status, features, updated_at
		FROM clients
		WHERE id = $1
	`

	var (
		client   Client
		features []byte
	)

	err := s.conn.QueryRowContext(ctx, query, clientID).
		Scan(&client.ID, &client.Name, &client.Status, &features, &client.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	if err != nil {
		return nil, fmt.Errorf("query client: %w", err)
	}

	if len(features) > 0 {
		if err := json.Unmarshal(features, &client.Features); err != nil {
			return nil, fmt.Errorf("decode client features: %w", err)
		}
	}

	return &client, nil
}

// ExplosionSettings returns the client's explosion configuration snapshot,
// falling back to operational defaults when the client has no row. The
// returned settings are a copy; concurrent configuration updates never
// affect an in-flight explosion run.
func (s *PersistentClientStore) ExplosionSettings(
	ctx context.Context,
	clientID uuid.UUID,
) (explosion.Settings, error) {
	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	query := `
		SELECT bom_max_levels, cycle_detection, include_produced_at, version
		FROM client_processing_config
		WHERE client_id = $1
	`

	settings := explosion.DefaultSettings()

	err := s.conn.QueryRowContext(ctx, query, clientID).
		Scan(&settings.MaxLevels, &settings.CycleDetection, &settings.IncludeProducedAt, &settings.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}

	if err != nil {
		return explosion.Settings{}, fmt.Errorf("query explosion settings: %w", err)
	}

	return settings.Normalized(), nil
}
