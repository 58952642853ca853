package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bomflow-io/bomflow/internal/explosion"
)

// FeatureEngineer is the external collaborator handling transactional
// data-update events (sales, stock, products): it loads the source window
// from the analytical store, computes feature tables and writes them back.
// Implementations must be idempotent for the same (client, table, since,
// until) window, since a crash between output write and watermark commit
// replays the window.
type FeatureEngineer interface {
	// BuildFeatures processes the (since, until] window of tableName for
	// the client and returns the number of source records processed.
	// A nil since pointer means "never processed, take everything up to until".
	BuildFeatures(ctx context.Context, clientID uuid.UUID, tableName string, since *time.Time, until time.Time) (int, error)
}

// OutputStore writes explosion results to the analytical store. Writes
// supersede any prior result for the same (client, root component) rather
// than accumulating, which is what makes replaying the processing step safe.
type OutputStore interface {
	WriteExplosion(ctx context.Context, clientID uuid.UUID, result *explosion.Result) error
}
