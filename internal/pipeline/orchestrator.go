package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bomflow-io/bomflow/internal/event"
	"github.com/bomflow-io/bomflow/internal/explosion"
	"github.com/bomflow-io/bomflow/internal/metric"
	"github.com/bomflow-io/bomflow/internal/storage"
	"github.com/bomflow-io/bomflow/internal/stream"
)

// Outcome is the terminal state an event reached in the processing state
// machine: received -> dedup check -> {skipped | processing} -> written ->
// watermark committed -> acknowledged -> published, or one of the failure
// terminals.
type Outcome string

// Outcomes.
const (
	// OutcomeProcessed: the event drove new work to completion and was
	// acknowledged; a completion event was published (best effort).
	OutcomeProcessed Outcome = "processed"

	// OutcomeSkipped: the watermark already covered the event's source
	// position; acknowledged immediately without reprocessing and without
	// republishing.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeApplied: a state-transfer event (clients_updated) was upserted
	// and acknowledged; no watermark or completion event involved.
	OutcomeApplied Outcome = "applied"

	// OutcomeDeadLettered: a fatal failure; the event was persisted to dead
	// letter storage and acknowledged so it cannot poison the stream.
	OutcomeDeadLettered Outcome = "dead_lettered"

	// OutcomeRetry: a transient failure; the event was NOT acknowledged and
	// will be redelivered (directly or via the reclaim loop).
	OutcomeRetry Outcome = "retry"
)

// ErrMissingDependency is returned when the orchestrator is constructed
// without one of its required collaborators.
var ErrMissingDependency = errors.New("orchestrator dependency is required")

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Subscriber  stream.Subscriber
	Publisher   stream.Publisher
	Watermarks  storage.WatermarkStore
	DeadLetters storage.DeadLetterStore
	Clients     storage.ClientStore
	Builder     *explosion.Builder
	Engine      *explosion.Engine
	Output      OutputStore
	Features    FeatureEngineer
}

func (d *Deps) validate() error {
	named := []struct {
		name string
		ok   bool
	}{
		{"subscriber", d.Subscriber != nil},
		{"publisher", d.Publisher != nil},
		{"watermark store", d.Watermarks != nil},
		{"dead letter store", d.DeadLetters != nil},
		{"client store", d.Clients != nil},
		{"graph builder", d.Builder != nil},
		{"explosion engine", d.Engine != nil},
		{"output store", d.Output != nil},
		{"feature engineer", d.Features != nil},
	}

	for _, dep := range named {
		if !dep.ok {
			return fmt.Errorf("%w: %s", ErrMissingDependency, dep.name)
		}
	}

	return nil
}

// Orchestrator runs the per-event state machine. It holds no per-event
// state and is safe for concurrent use; the watermark store is the sole
// arbiter of what counts as processed.
type Orchestrator struct {
	deps    Deps
	routing *Routing
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewOrchestrator validates the dependency set and creates an orchestrator.
func NewOrchestrator(deps Deps, routing *Routing, metrics *metric.Metrics, logger *slog.Logger) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	if routing == nil {
		routing = DefaultRouting()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{deps: deps, routing: routing, metrics: metrics, logger: logger}, nil
}

// Handle drives one delivered entry through the state machine and returns
// its terminal outcome. The returned error is non-nil only for transient
// failures, where the entry is left unacknowledged for redelivery.
func (o *Orchestrator) Handle(ctx context.Context, msg stream.Message) (Outcome, error) {
	start := time.Now()

	envelope, err := event.Decode(msg.Values)
	if err != nil {
		// Undecodable envelopes can never succeed on retry.
		return o.deadLetter(ctx, msg, "", err)
	}

	logger := o.logger.With(
		slog.String("event_id", envelope.ID),
		slog.String("event_type", string(envelope.Type)),
		slog.String("client_id", envelope.ClientID.String()))

	logger.Info("Processing event", slog.String("stream", msg.Stream))

	var outcome Outcome

	switch {
	case envelope.Type == event.TypeClientsUpdated:
		outcome, err = o.handleClientsUpdated(ctx, msg, envelope)
	case envelope.Type.IsDataUpdate():
		outcome, err = o.handleDataUpdate(ctx, msg, envelope, start)
	case envelope.Type == event.TypeBOMUpdated:
		outcome, err = o.handleBOMUpdated(ctx, msg, envelope, start)
	default:
		// Published completion types are not valid inputs.
		err = fmt.Errorf("%w: %q is not a consumable type", event.ErrUnknownEventType, envelope.Type)
	}

	if err != nil {
		if Classify(err) == ClassFatal {
			return o.deadLetter(ctx, msg, envelope.ID, err)
		}

		o.observeOutcome(envelope.Type, OutcomeRetry, start)
		logger.Warn("Event failed, leaving pending for redelivery",
			slog.Any("error", err),
			slog.Int64("delivery_count", msg.DeliveryCount))

		return OutcomeRetry, err
	}

	o.observeOutcome(envelope.Type, outcome, start)
	logger.Info("Event handled",
		slog.String("outcome", string(outcome)),
		slog.Duration("duration", time.Since(start)))

	return outcome, nil
}

// handleClientsUpdated applies event-carried client state. No watermark is
// involved: the upsert itself is idempotent under redelivery.
func (o *Orchestrator) handleClientsUpdated(
	ctx context.Context,
	msg stream.Message,
	envelope *event.Envelope,
) (Outcome, error) {
	state, err := envelope.ClientState()
	if err != nil {
		return "", err
	}

	client := &storage.Client{
		ID:       envelope.ClientID,
		Name:     state.Name,
		Status:   state.Status,
		Features: state.Features,
	}

	if err := o.deps.Clients.Upsert(ctx, client); err != nil {
		return "", WrapTransient("upsert client", err)
	}

	if err := o.acknowledge(ctx, msg); err != nil {
		return "", err
	}

	return OutcomeApplied, nil
}

// handleDataUpdate runs the feature-engineering path for sales, stock and
// products updates.
func (o *Orchestrator) handleDataUpdate(
	ctx context.Context,
	msg stream.Message,
	envelope *event.Envelope,
	start time.Time,
) (Outcome, error) {
	update, err := envelope.DataUpdate()
	if err != nil {
		return "", err
	}

	covered, latest, err := o.dedupCheck(ctx, envelope.ClientID, update.TableName, update.Position)
	if err != nil {
		return "", err
	}

	if covered {
		return o.skip(ctx, msg)
	}

	var since *time.Time
	if latest != nil {
		since = &latest.Position
	}

	records, err := o.deps.Features.BuildFeatures(ctx, envelope.ClientID, update.TableName, since, update.Position)
	if err != nil {
		o.recordFailure(ctx, envelope.ClientID, update.TableName, update.Position, start, err)

		// A rejected table name is a payload defect; wrapping it transient
		// would pin the entry to the pending list forever.
		if Classify(err) == ClassFatal {
			return "", err
		}

		return "", WrapTransient("build features", err)
	}

	outcome, err := o.commitAndAcknowledge(ctx, msg, storage.CommitRequest{
		ClientID:         envelope.ClientID,
		TableName:        update.TableName,
		Position:         update.Position,
		RecordsProcessed: records,
		BatchID:          envelope.ID,
		Duration:         time.Since(start),
		Status:           storage.StatusCompleted,
	})
	if err != nil || outcome == OutcomeSkipped {
		return outcome, err
	}

	o.publishCompletion(ctx, event.TypeFeaturesUpdated, envelope.ClientID, map[string]any{
		"table_name":        update.TableName,
		"source_position":   update.Position.UTC().Format(time.RFC3339Nano),
		"records_processed": records,
		"duration_ms":       time.Since(start).Milliseconds(),
	})

	return OutcomeProcessed, nil
}

// handleBOMUpdated runs the explosion path: build the recipe graph snapshot,
// explode every requested root, write superseding results, then commit.
func (o *Orchestrator) handleBOMUpdated(
	ctx context.Context,
	msg stream.Message,
	envelope *event.Envelope,
	start time.Time,
) (Outcome, error) {
	update, err := envelope.BOMUpdate()
	if err != nil {
		return "", err
	}

	covered, _, err := o.dedupCheck(ctx, envelope.ClientID, update.TableName, update.Position)
	if err != nil {
		return "", err
	}

	if covered {
		return o.skip(ctx, msg)
	}

	// Settings are a versioned snapshot: configuration changes apply to the
	// next run, never mid-run.
	settings, err := o.deps.Clients.ExplosionSettings(ctx, envelope.ClientID)
	if err != nil {
		return "", WrapTransient("load explosion settings", err)
	}

	graph, err := o.deps.Builder.Build(ctx, envelope.ClientID, update.RootComponentIDs)
	if err != nil {
		if Classify(err) == ClassFatal {
			o.recordFailure(ctx, envelope.ClientID, update.TableName, update.Position, start, err)

			return "", err
		}

		return "", WrapTransient("build recipe graph", err)
	}

	roots := update.RootComponentIDs
	if len(roots) == 0 {
		roots = graph.Roots()
	}

	cycles := 0

	for _, root := range roots {
		result := o.deps.Engine.Explode(graph, root, settings)
		if result.CycleDetected {
			cycles++
		}

		// Supersede semantics make this write safe to repeat after a crash
		// between write and watermark commit.
		if err := o.deps.Output.WriteExplosion(ctx, envelope.ClientID, result); err != nil {
			o.recordFailure(ctx, envelope.ClientID, update.TableName, update.Position, start, err)

			return "", WrapTransient("write explosion result", err)
		}
	}

	outcome, err := o.commitAndAcknowledge(ctx, msg, storage.CommitRequest{
		ClientID:         envelope.ClientID,
		TableName:        update.TableName,
		Position:         update.Position,
		RecordsProcessed: len(roots),
		BatchID:          envelope.ID,
		Duration:         time.Since(start),
		Status:           storage.StatusCompleted,
	})
	if err != nil || outcome == OutcomeSkipped {
		return outcome, err
	}

	o.publishCompletion(ctx, event.TypeBOMExploded, envelope.ClientID, map[string]any{
		"table_name":      update.TableName,
		"source_position": update.Position.UTC().Format(time.RFC3339Nano),
		"roots_exploded":  len(roots),
		"cycles_detected": cycles,
		"max_levels":      settings.MaxLevels,
		"duration_ms":     time.Since(start).Milliseconds(),
	})

	return OutcomeProcessed, nil
}

// dedupCheck consults the watermark store before any work happens. Returns
// coverage plus the latest watermark for incremental windows.
func (o *Orchestrator) dedupCheck(
	ctx context.Context,
	clientID uuid.UUID,
	tableName string,
	position time.Time,
) (bool, *storage.Watermark, error) {
	latest, err := o.deps.Watermarks.Latest(ctx, clientID, tableName)
	if err != nil {
		return false, nil, WrapTransient("read watermark", err)
	}

	if latest != nil && !position.After(latest.Position) {
		return true, latest, nil
	}

	return false, latest, nil
}

// commitAndAcknowledge inserts the completed watermark and acknowledges the
// entry. Losing the commit race to a concurrent duplicate downgrades the
// event to skipped; any other failure is transient.
func (o *Orchestrator) commitAndAcknowledge(
	ctx context.Context,
	msg stream.Message,
	req storage.CommitRequest,
) (Outcome, error) {
	_, err := o.deps.Watermarks.Commit(ctx, req)
	if err != nil {
		if errors.Is(err, storage.ErrStaleWatermark) {
			// Likely a concurrent duplicate finished first. Re-evaluate:
			// if the position is now covered, this event is done.
			covered, coverageErr := o.deps.Watermarks.IsAlreadyProcessed(ctx, req.ClientID, req.TableName, req.Position)
			if coverageErr == nil && covered {
				if o.metrics != nil {
					o.metrics.WatermarkCommits.WithLabelValues("superseded").Inc()
				}

				return o.skip(ctx, msg)
			}
		}

		if o.metrics != nil {
			o.metrics.WatermarkCommits.WithLabelValues("failed").Inc()
		}

		return "", WrapTransient("commit watermark", err)
	}

	if o.metrics != nil {
		o.metrics.WatermarkCommits.WithLabelValues(string(storage.StatusCompleted)).Inc()
	}

	if err := o.acknowledge(ctx, msg); err != nil {
		return "", err
	}

	return OutcomeProcessed, nil
}

// skip acknowledges an already-covered event. It contributes nothing and is
// not republished.
func (o *Orchestrator) skip(ctx context.Context, msg stream.Message) (Outcome, error) {
	if err := o.acknowledge(ctx, msg); err != nil {
		return "", err
	}

	return OutcomeSkipped, nil
}

func (o *Orchestrator) acknowledge(ctx context.Context, msg stream.Message) error {
	if err := o.deps.Subscriber.Acknowledge(ctx, msg.Stream, msg.ID); err != nil {
		// Redelivery of an acknowledged-but-processed event is harmless:
		// the watermark check classifies it skipped.
		return WrapTransient("acknowledge entry", err)
	}

	return nil
}

// deadLetter persists a fatally-failed entry and acknowledges it. If the
// dead letter write itself fails, the entry stays pending and is retried.
func (o *Orchestrator) deadLetter(ctx context.Context, msg stream.Message, eventID string, cause error) (Outcome, error) {
	letter := &event.DeadLetter{
		EntryID:  msg.ID,
		Stream:   msg.Stream,
		EventID:  eventID,
		Raw:      msg.Values,
		Reason:   cause.Error(),
		Attempts: msg.DeliveryCount,
		FailedAt: time.Now().UTC(),
	}

	if err := o.deps.DeadLetters.Add(ctx, letter); err != nil {
		return OutcomeRetry, WrapTransient("persist dead letter", err)
	}

	if err := o.acknowledge(ctx, msg); err != nil {
		return OutcomeRetry, err
	}

	if o.metrics != nil {
		o.metrics.ErrorsTotal.WithLabelValues(ClassFatal.String()).Inc()
	}

	o.logger.Error("Event dead-lettered",
		slog.String("stream", msg.Stream),
		slog.String("entry_id", msg.ID),
		slog.String("event_id", eventID),
		slog.Any("error", cause))

	return OutcomeDeadLettered, nil
}

// recordFailure writes a failed audit row to processing_history. Best
// effort: the watermark itself never moves on failure.
func (o *Orchestrator) recordFailure(
	ctx context.Context,
	clientID uuid.UUID,
	tableName string,
	position time.Time,
	start time.Time,
	cause error,
) {
	_, err := o.deps.Watermarks.Commit(ctx, storage.CommitRequest{
		ClientID:     clientID,
		TableName:    tableName,
		Position:     position,
		Duration:     time.Since(start),
		Status:       storage.StatusFailed,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		o.logger.Warn("Failed to record failure audit row",
			slog.String("client_id", clientID.String()),
			slog.String("table_name", tableName),
			slog.Any("error", err))
	}
}

// publishCompletion emits a completion event. Publish failures are logged
// but never roll back prior steps: the outbound side is at-least-once and
// downstream consumers deduplicate by client and position.
func (o *Orchestrator) publishCompletion(
	ctx context.Context,
	eventType event.Type,
	clientID uuid.UUID,
	payload map[string]any,
) {
	envelope := &event.Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		ClientID:   clientID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	values, err := event.Encode(envelope)
	if err != nil {
		o.logger.Warn("Failed to encode completion event", slog.Any("error", err))

		return
	}

	streamName := o.routing.OutputStream(eventType)

	if _, err := o.deps.Publisher.Publish(ctx, streamName, values); err != nil {
		o.logger.Warn("Failed to publish completion event",
			slog.String("stream", streamName),
			slog.String("event_type", string(eventType)),
			slog.Any("error", err))

		return
	}

	if o.metrics != nil {
		o.metrics.EventsPublished.WithLabelValues(streamName).Inc()
	}
}

func (o *Orchestrator) observeOutcome(eventType event.Type, outcome Outcome, start time.Time) {
	if o.metrics == nil {
		return
	}

	o.metrics.EventsProcessed.WithLabelValues(string(eventType), string(outcome)).Inc()
	o.metrics.ProcessingDuration.WithLabelValues(string(eventType)).Observe(time.Since(start).Seconds())

	if outcome == OutcomeRetry {
		o.metrics.ErrorsTotal.WithLabelValues(ClassTransient.String()).Inc()
	}
}
