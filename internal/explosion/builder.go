package explosion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Sentinel errors for graph construction.
var (
	// ErrGraphTooLarge is returned when a client's recipe set exceeds the
	// configured edge bound. This is a fatal condition requiring a
	// configuration change, not a retry.
	ErrGraphTooLarge = errors.New("recipe graph exceeds configured edge bound")

	// ErrNegativeQuantity is returned when a recipe edge carries a negative
	// quantity. Quantities are non-negative reals; zero is valid.
	ErrNegativeQuantity = errors.New("recipe edge has negative quantity_per_unit")

	// ErrNilEdgeSource is returned when a Builder is constructed without a source.
	ErrNilEdgeSource = errors.New("edge source cannot be nil")
)

// EdgeSource loads recipe edges from the analytical store. Implementations
// may pre-filter by the requested roots where the store supports it, or
// return the full client recipe set.
type EdgeSource interface {
	RecipeEdges(ctx context.Context, clientID uuid.UUID, rootComponentIDs []string) ([]RecipeEdge, error)
}

const defaultMaxGraphEdges = 100000

// Builder loads a client's recipe edges into an immutable Graph snapshot,
// bounded by a maximum edge count.
type Builder struct {
	source   EdgeSource
	maxEdges int
	logger   *slog.Logger
}

// NewBuilder creates a graph builder. maxEdges <= 0 falls back to the default bound.
func NewBuilder(source EdgeSource, maxEdges int, logger *slog.Logger) (*Builder, error) {
	if source == nil {
		return nil, ErrNilEdgeSource
	}

	if maxEdges <= 0 {
		maxEdges = defaultMaxGraphEdges
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{source: source, maxEdges: maxEdges, logger: logger}, nil
}

// Build loads the recipe edges reachable from the requested roots (or the
// full client recipe set when roots is empty) and returns an immutable graph
// snapshot. Concurrent updates to the source recipe do not affect the
// returned graph.
func (b *Builder) Build(ctx context.Context, clientID uuid.UUID, rootComponentIDs []string) (*Graph, error) {
	edges, err := b.source.RecipeEdges(ctx, clientID, rootComponentIDs)
	if err != nil {
		return nil, fmt.Errorf("load recipe edges: %w", err)
	}

	if len(edges) > b.maxEdges {
		return nil, fmt.Errorf("%w: %d edges, bound %d", ErrGraphTooLarge, len(edges), b.maxEdges)
	}

	for _, e := range edges {
		if e.QuantityPerUnit < 0 {
			return nil, fmt.Errorf("%w: %s -> %s (%v)",
				ErrNegativeQuantity, e.ComponentID, e.IngredientID, e.QuantityPerUnit)
		}
	}

	graph := NewGraph(clientID, edges)

	b.logger.Debug("Recipe graph built",
		slog.String("client_id", clientID.String()),
		slog.Int("edges", graph.Size()),
		slog.Int("roots", len(graph.Roots())))

	return graph, nil
}
