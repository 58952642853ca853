package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bomflow-io/bomflow/internal/explosion"
)

func seedRecipeEdges(ctx context.Context, t *testing.T, conn *Connection, clientID uuid.UUID, edges []explosion.RecipeEdge) {
	t.Helper()

	for _, edge := range edges {
		var producedAt any
		if edge.ProducedAt != "" {
			producedAt = edge.ProducedAt
		}

		_, err := conn.ExecContext(ctx, `
			INSERT INTO recipe_edges (client_id, component_id, ingredient_id, quantity_per_unit, produced_at, level_hint)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, clientID, edge.ComponentID, edge.IngredientID, edge.QuantityPerUnit, producedAt, edge.LevelHint)
		if err != nil {
			t.Fatalf("seed recipe edge: %v", err)
		}
	}
}

func TestPersistentRecipeStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)

	store, err := NewPersistentRecipeStore(conn, nil)
	if err != nil {
		t.Fatalf("NewPersistentRecipeStore() unexpected error: %v", err)
	}

	clientID := uuid.New()
	otherClient := uuid.New()
	batterLevel := 1

	seedRecipeEdges(ctx, t, conn, clientID, []explosion.RecipeEdge{
		{ComponentID: "cake", IngredientID: "batter", QuantityPerUnit: 2},
		{ComponentID: "batter", IngredientID: "flour", QuantityPerUnit: 3, ProducedAt: "prep", LevelHint: &batterLevel},
		{ComponentID: "bread", IngredientID: "flour", QuantityPerUnit: 5},
	})
	seedRecipeEdges(ctx, t, conn, otherClient, []explosion.RecipeEdge{
		{ComponentID: "cake", IngredientID: "sugar", QuantityPerUnit: 9},
	})

	t.Run("full client recipe set without roots", func(t *testing.T) {
		edges, err := store.RecipeEdges(ctx, clientID, nil)
		if err != nil {
			t.Fatalf("RecipeEdges() unexpected error: %v", err)
		}

		if len(edges) != 3 {
			t.Fatalf("RecipeEdges() = %d edges, want 3 (other clients excluded)", len(edges))
		}
	})

	t.Run("roots restrict to reachable subgraph", func(t *testing.T) {
		edges, err := store.RecipeEdges(ctx, clientID, []string{"cake"})
		if err != nil {
			t.Fatalf("RecipeEdges() unexpected error: %v", err)
		}

		if len(edges) != 2 {
			t.Fatalf("RecipeEdges(cake) = %d edges, want 2 (bread branch excluded)", len(edges))
		}

		for _, edge := range edges {
			if edge.ComponentID == "bread" {
				t.Errorf("RecipeEdges(cake) includes unreachable edge %+v", edge)
			}
		}
	})

	t.Run("produced_at and level_hint round trip", func(t *testing.T) {
		edges, err := store.RecipeEdges(ctx, clientID, []string{"batter"})
		if err != nil {
			t.Fatalf("RecipeEdges() unexpected error: %v", err)
		}

		if len(edges) != 1 || edges[0].ProducedAt != "prep" {
			t.Fatalf("RecipeEdges(batter) = %+v, want one edge with produced_at prep", edges)
		}

		if edges[0].LevelHint == nil || *edges[0].LevelHint != 1 {
			t.Errorf("LevelHint = %v, want 1", edges[0].LevelHint)
		}
	})

	t.Run("absent level_hint loads as nil", func(t *testing.T) {
		edges, err := store.RecipeEdges(ctx, clientID, []string{"bread"})
		if err != nil {
			t.Fatalf("RecipeEdges() unexpected error: %v", err)
		}

		if len(edges) != 1 || edges[0].LevelHint != nil {
			t.Fatalf("RecipeEdges(bread) = %+v, want one edge with nil level hint", edges)
		}
	})

	t.Run("cyclic recipes terminate the recursive load", func(t *testing.T) {
		cyclic := uuid.New()
		seedRecipeEdges(ctx, t, conn, cyclic, []explosion.RecipeEdge{
			{ComponentID: "a", IngredientID: "b", QuantityPerUnit: 1},
			{ComponentID: "b", IngredientID: "a", QuantityPerUnit: 1},
		})

		edges, err := store.RecipeEdges(ctx, cyclic, []string{"a"})
		if err != nil {
			t.Fatalf("RecipeEdges() unexpected error: %v", err)
		}

		if len(edges) != 2 {
			t.Fatalf("RecipeEdges() on cycle = %d edges, want 2", len(edges))
		}
	})

	t.Run("write explosion supersedes previous result", func(t *testing.T) {
		first := &explosion.Result{
			RootComponentID: "cake",
			Requirements:    map[string]float64{"flour": 6, "eggs": 4},
		}

		if err := store.WriteExplosion(ctx, clientID, first); err != nil {
			t.Fatalf("WriteExplosion() unexpected error: %v", err)
		}

		second := &explosion.Result{
			RootComponentID: "cake",
			Requirements:    map[string]float64{"flour": 8},
		}

		if err := store.WriteExplosion(ctx, clientID, second); err != nil {
			t.Fatalf("WriteExplosion() rewrite unexpected error: %v", err)
		}

		var count int

		err := conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM explosion_results
			WHERE client_id = $1 AND root_component_id = $2
		`, clientID, "cake").Scan(&count)
		if err != nil {
			t.Fatalf("count explosion rows: %v", err)
		}

		if count != 1 {
			t.Fatalf("explosion rows = %d after rewrite, want 1 (supersede, not accumulate)", count)
		}

		var quantity float64

		err = conn.QueryRowContext(ctx, `
			SELECT quantity FROM explosion_results
			WHERE client_id = $1 AND root_component_id = $2 AND ingredient_id = $3
		`, clientID, "cake", "flour").Scan(&quantity)
		if err != nil {
			t.Fatalf("query flour quantity: %v", err)
		}

		if quantity != 8 {
			t.Errorf("flour quantity = %v, want 8", quantity)
		}
	})

	t.Run("write explosion with stage breakdown", func(t *testing.T) {
		result := &explosion.Result{
			RootComponentID: "bread",
			Requirements:    map[string]float64{"flour": 5},
			ByStage: map[string]map[string]float64{
				"":     {"flour": 2},
				"prep": {"flour": 3},
			},
		}

		if err := store.WriteExplosion(ctx, clientID, result); err != nil {
			t.Fatalf("WriteExplosion() unexpected error: %v", err)
		}

		var total float64

		err := conn.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(quantity), 0) FROM explosion_results
			WHERE client_id = $1 AND root_component_id = $2 AND ingredient_id = $3
		`, clientID, "bread", "flour").Scan(&total)
		if err != nil {
			t.Fatalf("sum stage quantities: %v", err)
		}

		if total != 5 {
			t.Errorf("stage quantities sum to %v, want 5", total)
		}
	})
}

func TestSourceScannerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)

	scanner, err := NewSourceScanner(conn, nil)
	if err != nil {
		t.Fatalf("NewSourceScanner() unexpected error: %v", err)
	}

	_, err = conn.ExecContext(ctx, `
		CREATE TABLE c2_sales (
			id SERIAL PRIMARY KEY,
			amount NUMERIC NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("create source table: %v", err)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := range 5 {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO c2_sales (amount, updated_at) VALUES ($1, $2)
		`, float64(i)*10, base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("seed source row: %v", err)
		}
	}

	clientID := uuid.New()

	t.Run("full history with nil since", func(t *testing.T) {
		count, err := scanner.BuildFeatures(ctx, clientID, "c2_sales", nil, base.Add(10*time.Hour))
		if err != nil {
			t.Fatalf("BuildFeatures() unexpected error: %v", err)
		}

		if count != 5 {
			t.Errorf("BuildFeatures() = %d, want 5", count)
		}
	})

	t.Run("incremental window is exclusive-inclusive", func(t *testing.T) {
		since := base.Add(time.Hour)
		count, err := scanner.BuildFeatures(ctx, clientID, "c2_sales", &since, base.Add(3*time.Hour))
		if err != nil {
			t.Fatalf("BuildFeatures() unexpected error: %v", err)
		}

		// Rows at since are excluded, rows at until included.
		if count != 2 {
			t.Errorf("BuildFeatures() = %d, want 2", count)
		}
	})
}

func TestSourceScannerRejectsInvalidTableNames(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	scanner, err := NewSourceScanner(NewConnectionFromDB(nil, time.Second), nil)
	if err != nil {
		t.Fatalf("NewSourceScanner() unexpected error: %v", err)
	}

	tests := []string{
		"",
		"sales",
		"c2_Sales",
		"c2_sales; DROP TABLE clients",
		`c2_"sales"`,
		"2c_sales",
	}

	for _, tableName := range tests {
		_, err := scanner.BuildFeatures(context.Background(), uuid.New(), tableName, nil, time.Now())
		if !errors.Is(err, ErrInvalidTableName) {
			t.Errorf("BuildFeatures(%q) error = %v, want ErrInvalidTableName", tableName, err)
		}
	}
}
