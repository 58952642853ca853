package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bomflow-io/bomflow/internal/metric"
	"github.com/bomflow-io/bomflow/internal/stream"
)

// Runner owns the worker loops: the main poll loop feeding the orchestrator
// and an independent reclaim timer that rescues entries abandoned by dead
// consumers in the group. One Runner per process; horizontal scale comes
// from running more processes under the same consumer group.
type Runner struct {
	subscriber   stream.Subscriber
	orchestrator *Orchestrator
	cfg          *Config
	metrics      *metric.Metrics
	logger       *slog.Logger

	// pollLimiter damps the poll loop after errors so an unavailable log
	// does not turn into a hot spin.
	pollLimiter *rate.Limiter
}

// NewRunner creates a runner around an orchestrator.
func NewRunner(subscriber stream.Subscriber, orchestrator *Orchestrator, cfg *Config, metrics *metric.Metrics, logger *slog.Logger) *Runner {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		subscriber:   subscriber,
		orchestrator: orchestrator,
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger,
		pollLimiter:  rate.NewLimiter(rate.Every(cfg.PollErrorDelay), 1),
	}
}

// Run blocks until ctx is cancelled, then drains in-flight work within the
// configured grace period. Entries still pending after the grace period are
// recovered later through redelivery.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Worker started",
		slog.Int64("max_batch", r.cfg.MaxBatch),
		slog.Duration("block_duration", r.cfg.BlockDuration),
		slog.Duration("reclaim_interval", r.cfg.ReclaimInterval))

	var wg sync.WaitGroup

	if r.cfg.ReclaimEnabled {
		wg.Add(1)

		go func() {
			defer wg.Done()
			r.reclaimLoop(ctx)
		}()
	}

	err := r.pollLoop(ctx)

	wg.Wait()

	r.logger.Info("Worker stopped")

	return err
}

// pollLoop fetches batches and processes entries one at a time. Per-entry
// ordering within a batch is preserved; the watermark store handles any
// cross-consumer interleaving.
func (r *Runner) pollLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := r.subscriber.Poll(ctx, r.cfg.MaxBatch, r.cfg.BlockDuration)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			r.logger.Warn("Poll failed", slog.Any("error", err))

			if waitErr := r.pollLimiter.Wait(ctx); waitErr != nil {
				return nil
			}

			continue
		}

		if len(messages) == 0 {
			continue
		}

		r.processBatch(ctx, messages)
	}
}

// processBatch runs each entry through the orchestrator. Once a batch has
// been fetched it is processed to completion even across shutdown: in-flight
// entries get a grace context so their acknowledgements are not lost.
func (r *Runner) processBatch(ctx context.Context, messages []stream.Message) {
	for _, msg := range messages {
		if r.metrics != nil {
			r.metrics.EventsReceived.WithLabelValues(msg.Stream).Inc()
		}

		handleCtx := ctx
		if ctx.Err() != nil {
			graceCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownGrace)
			handleCtx = graceCtx

			defer cancel()
		}

		// Transient failures are logged inside Handle; the entry stays
		// pending and the group redelivers it.
		_, _ = r.orchestrator.Handle(handleCtx, msg)

		if handleCtx.Err() != nil && ctx.Err() != nil {
			r.logger.Warn("Shutdown grace expired with entries still pending",
				slog.String("stream", msg.Stream),
				slog.String("entry_id", msg.ID))

			return
		}
	}
}

// reclaimLoop periodically claims entries another consumer fetched and then
// abandoned. Reclaimed entries re-enter the same state machine; watermark
// bookkeeping makes double processing converge to skipped.
func (r *Runner) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		messages, err := r.subscriber.ReclaimStale(ctx, r.cfg.ReclaimMinIdle, r.cfg.ReclaimBatch)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}

			r.logger.Warn("Reclaim pass failed", slog.Any("error", err))

			continue
		}

		if len(messages) == 0 {
			continue
		}

		r.logger.Info("Reclaimed stale entries", slog.Int("count", len(messages)))

		if r.metrics != nil {
			r.metrics.ReclaimedEntries.Add(float64(len(messages)))
		}

		r.processBatch(ctx, messages)
	}
}
