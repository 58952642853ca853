// Package explosion implements the recursive bill-of-materials decomposition:
// loading a client's recipe edges into an immutable in-memory graph, and
// expanding finished goods into flattened per-unit raw material requirements.
package explosion

import (
	"sort"

	"github.com/google/uuid"
)

// RecipeEdge is one row of a client's recipe configuration: producing one
// unit of ComponentID consumes QuantityPerUnit units of IngredientID.
type RecipeEdge struct {
	ComponentID  string
	IngredientID string

	// QuantityPerUnit is a non-negative real. Exactly zero is a valid value
	// meaning "listed but currently contributes nothing" and must not be
	// treated as an absent edge.
	QuantityPerUnit float64

	// ProducedAt is an optional production stage/location tag. Empty means
	// "same stage as the parent component".
	ProducedAt string

	// LevelHint is an optional advisory depth recorded by upstream tooling.
	// Traversal derives the actual depth and never reads it.
	LevelHint *int
}

// Edge is the adjacency form of a recipe edge, from the component side.
type Edge struct {
	IngredientID    string
	QuantityPerUnit float64
	ProducedAt      string
}

// Graph is an immutable snapshot of one client's recipe relationships,
// keyed by component id. Each explosion run gets its own Graph instance;
// graphs are never shared across concurrent explosions.
type Graph struct {
	clientID  uuid.UUID
	adjacency map[string][]Edge
	// ingredients tracks every id that appears on the consuming side,
	// used to compute the root set.
	ingredients map[string]struct{}
	edgeCount   int
}

// NewGraph builds the adjacency structure from recipe edges. Edge order per
// component follows input order, so traversal is deterministic.
func NewGraph(clientID uuid.UUID, edges []RecipeEdge) *Graph {
	g := &Graph{
		clientID:    clientID,
		adjacency:   make(map[string][]Edge),
		ingredients: make(map[string]struct{}),
	}

	for _, e := range edges {
		g.adjacency[e.ComponentID] = append(g.adjacency[e.ComponentID], Edge{
			IngredientID:    e.IngredientID,
			QuantityPerUnit: e.QuantityPerUnit,
			ProducedAt:      e.ProducedAt,
		})
		g.ingredients[e.IngredientID] = struct{}{}
		g.edgeCount++
	}

	return g
}

// ClientID returns the client this graph snapshot belongs to.
func (g *Graph) ClientID() uuid.UUID {
	return g.clientID
}

// Edges returns the outgoing recipe edges of a component. A nil result means
// the component is terminal (a raw material).
func (g *Graph) Edges(componentID string) []Edge {
	return g.adjacency[componentID]
}

// Size returns the total number of edges in the graph.
func (g *Graph) Size() int {
	return g.edgeCount
}

// Roots returns the components that never appear as an ingredient of another
// component, sorted for deterministic iteration. These are the finished goods
// an unscoped bom_updated event explodes.
func (g *Graph) Roots() []string {
	roots := make([]string, 0, len(g.adjacency))

	for componentID := range g.adjacency {
		if _, consumed := g.ingredients[componentID]; !consumed {
			roots = append(roots, componentID)
		}
	}

	sort.Strings(roots)

	return roots
}
