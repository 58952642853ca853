package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bomflow-io/bomflow/internal/explosion"
)

// Compile-time interface assertion.
var _ explosion.EdgeSource = (*PersistentRecipeStore)(nil)

// PersistentRecipeStore serves recipe edges from the recipe_edges table and
// writes explosion results to explosion_results. It implements both the edge
// source side of graph building and the output side of the explosion run.
type PersistentRecipeStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentRecipeStore creates a PostgreSQL-backed recipe store.
func NewPersistentRecipeStore(conn *Connection, logger *slog.Logger) (*PersistentRecipeStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PersistentRecipeStore{conn: conn, logger: logger}, nil
}

// RecipeEdges loads the client's recipe edges. With roots given, only the
// subgraph reachable from them is loaded via a recursive walk; UNION
// deduplication terminates the recursion even on cyclic recipes. With no
// roots the full client recipe set is returned.
func (s *PersistentRecipeStore) RecipeEdges(
	ctx context.Context,
	clientID uuid.UUID,
	rootComponentIDs []string,
) ([]explosion.RecipeEdge, error) {
	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)

	if len(rootComponentIDs) == 0 {
		query := `
			SELECT component_id, ingredient_id, quantity_per_unit, produced_at, level_hint
			FROM recipe_edges
			WHERE client_id = $1
			ORDER BY component_id, ingredient_id
		`

		rows, err = s.conn.QueryContext(ctx, query, clientID)
	} else {
		query := `
			WITH RECURSIVE reachable AS (
				SELECT component_id, ingredient_id, quantity_per_unit, produced_at, level_hint
				FROM recipe_edges
				WHERE client_id = $1 AND component_id = ANY($2)
				UNION
				SELECT e.component_id, e.ingredient_id, e.quantity_per_unit, e.produced_at, e.level_hint
				FROM recipe_edges e
				JOIN reachable r ON e.component_id = r.ingredient_id
				WHERE e.client_id = $1
			)
			SELECT component_id, ingredient_id, quantity_per_unit, produced_at, level_hint
			FROM reachable
			ORDER BY component_id, ingredient_id
		`

		rows, err = s.conn.QueryContext(ctx, query, clientID, pq.Array(rootComponentIDs))
	}

	if err != nil {
		return nil, fmt.Errorf("query recipe edges: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var edges []explosion.RecipeEdge

	for rows.Next() {
		var (
			edge       explosion.RecipeEdge
			producedAt *string
		)

		if err := rows.Scan(&edge.ComponentID, &edge.IngredientID, &edge.QuantityPerUnit, &producedAt, &edge.LevelHint); err != nil {
			return nil, fmt.Errorf("scan recipe edge: %w", err)
		}

		if producedAt != nil {
			edge.ProducedAt = *producedAt
		}

		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe edges: %w", err)
	}

	return edges, nil
}

// WriteExplosion replaces the stored result for (client, root component) in
// one transaction. Replaying the same explosion after a crash lands on
// identical rows, which is what makes the processing step safe to repeat.
func (s *PersistentRecipeStore) WriteExplosion(
	ctx context.Context,
	clientID uuid.UUID,
	result *explosion.Result,
) error {
	ctx, cancel := s.conn.OperationContext(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin explosion write: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	deleteQuery := `
		DELETE FROM explosion_results
		WHERE client_id = $1 AND root_component_id = $2
	`

	if _, err := tx.ExecContext(ctx, deleteQuery, clientID, result.RootComponentID); err != nil {
		return fmt.Errorf("clear previous explosion result: %w", err)
	}

	insertQuery := `
		INSERT INTO explosion_results
			(client_id, root_component_id, ingredient_id, stage, quantity,
			 cycle_detected, max_depth_reached, exploded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`

	insert := func(ingredientID, stage string, quantity float64) error {
		_, err := tx.ExecContext(ctx, insertQuery,
			clientID, result.RootComponentID, ingredientID, stage, quantity,
			result.CycleDetected, result.MaxDepthReached)

		return err
	}

	if result.ByStage != nil {
		// Stage rows partition the totals: summing quantity over stages
		// reproduces the flat requirement per ingredient.
		for stage, requirements := range result.ByStage {
			for ingredientID, quantity := range requirements {
				if err := insert(ingredientID, stage, quantity); err != nil {
					return fmt.Errorf("insert explosion result row: %w", err)
				}
			}
		}
	} else {
		for ingredientID, quantity := range result.Requirements {
			if err := insert(ingredientID, "", quantity); err != nil {
				return fmt.Errorf("insert explosion result row: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit explosion write: %w", err)
	}

	s.logger.Debug("Explosion result written",
		slog.String("client_id", clientID.String()),
		slog.String("root_component_id", result.RootComponentID),
		slog.Int("ingredients", len(result.Requirements)))

	return nil
}
