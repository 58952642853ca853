package explosion

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
)

const epsilon = 1e-9

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestExplodeDiamondGraph(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// R -> A (x2), R -> B (x3), A -> C (x5), B -> C (x4)
	// C is reachable via two paths: 2*5 + 3*4 = 22
	graph := NewGraph(uuid.New(), []RecipeEdge{
		{ComponentID: "R", IngredientID: "A", QuantityPerUnit: 2},
		{ComponentID: "R", IngredientID: "B", QuantityPerUnit: 3},
		{ComponentID: "A", IngredientID: "C", QuantityPerUnit: 5},
		{ComponentID: "B", IngredientID: "C", QuantityPerUnit: 4},
	})

	result := NewEngine(nil).Explode(graph, "R", DefaultSettings())

	if !approxEqual(result.Requirements["C"], 22) {
		t.Errorf("Requirements[C] = %v, want 22", result.Requirements["C"])
	}

	if len(result.Requirements) != 1 {
		t.Errorf("Requirements has %d entries, want 1: %v", len(result.Requirements), result.Requirements)
	}

	if result.CycleDetected {
		t.Error("CycleDetected = true on acyclic graph")
	}

	if result.MaxDepthReached {
		t.Error("MaxDepthReached = true within depth bound")
	}
}

func TestExplodeCycle(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// A -> B -> A cycle, with an acyclic side branch A -> flour.
	// The terminal "trapped" is reachable only through the cycle and must
	// receive no contribution from the second pass over A.
	edges := []RecipeEdge{
		{ComponentID: "A", IngredientID: "B", QuantityPerUnit: 2},
		{ComponentID: "A", IngredientID: "flour", QuantityPerUnit: 1},
		{ComponentID: "B", IngredientID: "A", QuantityPerUnit: 3},
		{ComponentID: "B", IngredientID: "trapped", QuantityPerUnit: 7},
	}

	graph := NewGraph(uuid.New(), edges)
	result := NewEngine(nil).Explode(graph, "A", DefaultSettings())

	if !result.CycleDetected {
		t.Error("CycleDetected = false, want true")
	}

	// The acyclic remainder still completes: flour via A, trapped via A->B.
	if !approxEqual(result.Requirements["flour"], 1) {
		t.Errorf("Requirements[flour] = %v, want 1", result.Requirements["flour"])
	}

	if !approxEqual(result.Requirements["trapped"], 14) {
		t.Errorf("Requirements[trapped] = %v, want 14 (2x7)", result.Requirements["trapped"])
	}
}

func TestExplodeCycleDetectionDisabled(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	graph := NewGraph(uuid.New(), []RecipeEdge{
		{ComponentID: "A", IngredientID: "B", QuantityPerUnit: 1},
		{ComponentID: "B", IngredientID: "A", QuantityPerUnit: 1},
	})

	settings := DefaultSettings()
	settings.CycleDetection = false

	result := NewEngine(nil).Explode(graph, "A", settings)

	// Degraded mode: the branch is still truncated, but not flagged.
	if result.CycleDetected {
		t.Error("CycleDetected = true with detection disabled")
	}
}

func TestExplodeDepthBound(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Linear chain of 12 levels against a bound of 5: must terminate,
	// truncate, and flag.
	var edges []RecipeEdge
	for i := 0; i < 12; i++ {
		edges = append(edges, RecipeEdge{
			ComponentID:     fmt.Sprintf("n%d", i),
			IngredientID:    fmt.Sprintf("n%d", i+1),
			QuantityPerUnit: 1,
		})
	}

	graph := NewGraph(uuid.New(), edges)
	result := NewEngine(nil).Explode(graph, "n0", DefaultSettings())

	if !result.MaxDepthReached {
		t.Error("MaxDepthReached = false, want true")
	}

	if len(result.Requirements) != 0 {
		t.Errorf("Requirements = %v, want empty (terminal beyond bound)", result.Requirements)
	}
}

func TestExplodeChainAtExactDepthBound(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Chain of exactly MaxLevels edges: the terminal is reachable.
	var edges []RecipeEdge
	for i := 0; i < DefaultLevels; i++ {
		edges = append(edges, RecipeEdge{
			ComponentID:     fmt.Sprintf("n%d", i),
			IngredientID:    fmt.Sprintf("n%d", i+1),
			QuantityPerUnit: 2,
		})
	}

	graph := NewGraph(uuid.New(), edges)
	result := NewEngine(nil).Explode(graph, "n0", DefaultSettings())

	if result.MaxDepthReached {
		t.Error("MaxDepthReached = true for chain exactly at the bound")
	}

	terminal := fmt.Sprintf("n%d", DefaultLevels)
	if !approxEqual(result.Requirements[terminal], 32) {
		t.Errorf("Requirements[%s] = %v, want 32 (2^5)", terminal, result.Requirements[terminal])
	}
}

func TestExplodeZeroQuantityEdge(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Zero quantity means "listed but currently contributes nothing",
	// not "edge absent": the ingredient still appears, with quantity 0.
	graph := NewGraph(uuid.New(), []RecipeEdge{
		{ComponentID: "dish", IngredientID: "garnish", QuantityPerUnit: 0},
		{ComponentID: "dish", IngredientID: "pasta", QuantityPerUnit: 0.12},
	})

	result := NewEngine(nil).Explode(graph, "dish", DefaultSettings())

	got, present := result.Requirements["garnish"]
	if !present {
		t.Fatal("garnish missing from Requirements, want present with 0")
	}

	if !approxEqual(got, 0) {
		t.Errorf("Requirements[garnish] = %v, want 0", got)
	}

	if !approxEqual(result.Requirements["pasta"], 0.12) {
		t.Errorf("Requirements[pasta] = %v, want 0.12", result.Requirements["pasta"])
	}
}

func TestExplodeProducedAtStages(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Stage chains: sauce is produced at "prep"; its ingredients carry no
	// produced_at and so inherit the prep stage.
	graph := NewGraph(uuid.New(), []RecipeEdge{
		{ComponentID: "dish", IngredientID: "sauce", QuantityPerUnit: 0.2, ProducedAt: "prep"},
		{ComponentID: "dish", IngredientID: "bread", QuantityPerUnit: 1},
		{ComponentID: "sauce", IngredientID: "tomato", QuantityPerUnit: 3},
	})

	result := NewEngine(nil).Explode(graph, "dish", DefaultSettings())

	if !approxEqual(result.ByStage["prep"]["tomato"], 0.6) {
		t.Errorf("ByStage[prep][tomato] = %v, want 0.6", result.ByStage["prep"]["tomato"])
	}

	if !approxEqual(result.ByStage[""]["bread"], 1) {
		t.Errorf("ByStage[\"\"][bread] = %v, want 1", result.ByStage[""]["bread"])
	}

	// Stage grouping never changes the flat totals.
	if !approxEqual(result.Requirements["tomato"], 0.6) {
		t.Errorf("Requirements[tomato] = %v, want 0.6", result.Requirements["tomato"])
	}

	settings := DefaultSettings()
	settings.IncludeProducedAt = false

	flat := NewEngine(nil).Explode(graph, "dish", settings)
	if flat.ByStage != nil {
		t.Error("ByStage allocated with IncludeProducedAt disabled")
	}
}

func TestExplodeRootIsTerminal(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	graph := NewGraph(uuid.New(), nil)
	result := NewEngine(nil).Explode(graph, "lonely", DefaultSettings())

	if !approxEqual(result.Requirements["lonely"], 1) {
		t.Errorf("Requirements[lonely] = %v, want 1", result.Requirements["lonely"])
	}
}

func TestSettingsNormalized(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name string
		in   int
		want int
	}{
		{name: "zero falls back to default", in: 0, want: DefaultLevels},
		{name: "negative falls back to default", in: -3, want: DefaultLevels},
		{name: "above bound is clamped", in: 25, want: MaxLevelsBound},
		{name: "in range is kept", in: 7, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Settings{MaxLevels: tt.in}.Normalized().MaxLevels
			if got != tt.want {
				t.Errorf("Normalized().MaxLevels = %d, want %d", got, tt.want)
			}
		})
	}
}
