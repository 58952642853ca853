package pipeline

import (
	"log/slog"
	"time"

	"github.com/bomflow-io/bomflow/internal/config"
)

const (
	defaultMaxBatch        = 32
	defaultBlockDuration   = 5 * time.Second
	defaultReclaimInterval = 30 * time.Second
	defaultReclaimMinIdle  = 60 * time.Second
	defaultReclaimBatch    = 16
	defaultShutdownGrace   = 30 * time.Second
	defaultMaxGraphEdges   = 100000
	defaultPollErrorDelay  = 2 * time.Second
)

// Config holds the orchestrator and worker loop configuration.
type Config struct {
	// MaxBatch is the maximum number of entries fetched per poll.
	MaxBatch int64

	// BlockDuration bounds cooperative blocking when no entries are
	// available. This is the only intended suspension point in the read path.
	BlockDuration time.Duration

	// ReclaimInterval is the period of the stale-entry reclaim timer,
	// independent of the main poll loop.
	ReclaimInterval time.Duration

	// ReclaimMinIdle is how long an unacknowledged entry must sit pending
	// before it is considered abandoned by a dead consumer.
	ReclaimMinIdle time.Duration

	// ReclaimBatch bounds entries claimed per reclaim pass.
	ReclaimBatch int64

	// ReclaimEnabled turns the reclaim loop off entirely. Only one worker
	// needs to run it; disabling it elsewhere avoids redundant XAUTOCLAIM
	// scans on large groups.
	ReclaimEnabled bool

	// ShutdownGrace bounds how long in-flight events may run to
	// acknowledgement after a shutdown signal. Work abandoned beyond the
	// grace period is recovered via redelivery-after-reclaim.
	ShutdownGrace time.Duration

	// MaxGraphEdges bounds recipe graph size; exceeding it is fatal.
	MaxGraphEdges int

	// PollErrorDelay damps the poll loop when the stream log is
	// unavailable, to avoid a hot error loop.
	PollErrorDelay time.Duration

	// LogLevel for the worker's structured logging.
	LogLevel slog.Level
}

// LoadConfig loads pipeline configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		MaxBatch:        config.GetEnvInt64("PIPELINE_MAX_BATCH", defaultMaxBatch),
		BlockDuration:   config.GetEnvDuration("PIPELINE_BLOCK_DURATION", defaultBlockDuration),
		ReclaimInterval: config.GetEnvDuration("PIPELINE_RECLAIM_INTERVAL", defaultReclaimInterval),
		ReclaimMinIdle:  config.GetEnvDuration("PIPELINE_RECLAIM_MIN_IDLE", defaultReclaimMinIdle),
		ReclaimBatch:    config.GetEnvInt64("PIPELINE_RECLAIM_BATCH", defaultReclaimBatch),
		ReclaimEnabled:  config.GetEnvBool("PIPELINE_RECLAIM_ENABLED", true),
		ShutdownGrace:   config.GetEnvDuration("PIPELINE_SHUTDOWN_GRACE", defaultShutdownGrace),
		MaxGraphEdges:   config.GetEnvInt("PIPELINE_MAX_GRAPH_EDGES", defaultMaxGraphEdges),
		PollErrorDelay:  config.GetEnvDuration("PIPELINE_POLL_ERROR_DELAY", defaultPollErrorDelay),
		LogLevel:        config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}
}
