package explosion

import (
	"log/slog"
)

// Result is the flattened outcome of exploding one root component: how much
// of each terminal raw material is required to produce one unit of the root.
// Multiple paths to the same raw material sum their contributions.
type Result struct {
	RootComponentID string

	// Requirements maps terminal ingredient id to aggregated quantity per
	// one unit of the root.
	Requirements map[string]float64

	// ByStage groups requirements by production stage chain when
	// IncludeProducedAt is enabled. The empty stage key collects edges with
	// no produced_at anywhere on their path.
	ByStage map[string]map[string]float64

	// CycleDetected is set when a branch re-entered a component already on
	// the current path. The cyclic branch contributes nothing; the acyclic
	// remainder is still complete.
	CycleDetected bool

	// MaxDepthReached is set when a branch was truncated at the depth bound.
	MaxDepthReached bool
}

// frame is one unit of traversal work. Exit frames unwind the current-path
// set instead of relying on call-stack recursion, which keeps the depth
// bound decoupled from Go stack limits.
type frame struct {
	componentID string
	multiplier  float64
	depth       int
	stage       string
	exit        bool
}

// Engine expands recipe graphs into flattened raw material requirements.
// An Engine is stateless and safe for concurrent use; all per-run state
// lives in the traversal.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an explosion engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{logger: logger}
}

// Explode performs a depth-first traversal from the root, carrying an
// accumulated multiplier, and returns the aggregated per-unit requirements.
//
// Traversal rules:
//   - a node with no outgoing edges is terminal: its accumulated multiplier
//     is added to the result (summed across paths)
//   - re-entering a node already on the current path truncates that branch;
//     with cycle detection on, the result is flagged
//   - descending past settings.MaxLevels truncates the branch and flags
//     MaxDepthReached
//
// The traversal uses an explicit work stack, so termination and memory use
// are bounded by the depth limit regardless of graph shape.
func (e *Engine) Explode(graph *Graph, rootComponentID string, settings Settings) *Result {
	settings = settings.Normalized()

	result := &Result{
		RootComponentID: rootComponentID,
		Requirements:    make(map[string]float64),
	}
	if settings.IncludeProducedAt {
		result.ByStage = make(map[string]map[string]float64)
	}

	stack := []frame{{componentID: rootComponentID, multiplier: 1.0}}
	onPath := make(map[string]struct{})

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.exit {
			delete(onPath, f.componentID)
			continue
		}

		if _, revisited := onPath[f.componentID]; revisited {
			// Malformed recipe: this branch is excluded rather than
			// approximated, so cycles never corrupt quantities.
			if settings.CycleDetection {
				result.CycleDetected = true

				e.logger.Warn("Cycle detected in recipe graph",
					slog.String("client_id", graph.ClientID().String()),
					slog.String("root_component_id", rootComponentID),
					slog.String("component_id", f.componentID))
			}

			continue
		}

		edges := graph.Edges(f.componentID)
		if len(edges) == 0 {
			result.Requirements[f.componentID] += f.multiplier

			if settings.IncludeProducedAt {
				stage := result.ByStage[f.stage]
				if stage == nil {
					stage = make(map[string]float64)
					result.ByStage[f.stage] = stage
				}

				stage[f.componentID] += f.multiplier
			}

			continue
		}

		if f.depth >= settings.MaxLevels {
			result.MaxDepthReached = true
			continue
		}

		onPath[f.componentID] = struct{}{}
		stack = append(stack, frame{componentID: f.componentID, exit: true})

		// Push in reverse so edges are visited in input order.
		for i := len(edges) - 1; i >= 0; i-- {
			edge := edges[i]

			stage := edge.ProducedAt
			if stage == "" {
				// Absent produced_at means same stage as the parent.
				stage = f.stage
			}

			stack = append(stack, frame{
				componentID: edge.IngredientID,
				multiplier:  f.multiplier * edge.QuantityPerUnit,
				depth:       f.depth + 1,
				stage:       stage,
			})
		}
	}

	return result
}
