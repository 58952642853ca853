package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface assertions.
var (
	_ Subscriber = (*RedisLog)(nil)
	_ Publisher  = (*RedisLog)(nil)
)

// RedisLog implements Subscriber and Publisher on Redis Streams.
//
// Mapping onto the capability contract:
//   - Poll        -> XREADGROUP with the ">" cursor
//   - Acknowledge -> XACK
//   - ReclaimStale-> XAUTOCLAIM (plus XPENDING for delivery counts)
//   - Publish     -> XADD with approximate MAXLEN trimming
type RedisLog struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	maxLen   int64
	logger   *slog.Logger
}

// NewRedisLog connects to Redis, verifies the connection and ensures the
// consumer group exists on every configured input stream (creating the
// stream itself if needed, so subscription does not race stream creation).
func NewRedisLog(ctx context.Context, cfg *Config, logger *slog.Logger) (*RedisLog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log := &RedisLog{
		client:   client,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		streams:  cfg.Streams,
		maxLen:   cfg.MaxLen,
		logger:   logger,
	}

	for _, streamName := range cfg.Streams {
		if err := log.ensureGroup(ctx, streamName); err != nil {
			_ = client.Close()

			return nil, err
		}
	}

	logger.Info("Stream log connected",
		slog.String("addr", cfg.Addr),
		slog.String("group", cfg.Group),
		slog.String("consumer", cfg.Consumer),
		slog.Any("streams", cfg.Streams))

	return log, nil
}

// ensureGroup creates the consumer group at the start of the stream,
// creating the stream if it does not exist. An already-existing group is
// not an error.
func (l *RedisLog) ensureGroup(ctx context.Context, streamName string) error {
	err := l.client.XGroupCreateMkStream(ctx, streamName, l.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group on %s: %w", streamName, err)
	}

	return nil
}

// Poll reads up to maxBatch new entries across all input streams, blocking
// up to block when none are available. This is the only intended suspension
// point in the read path.
func (l *RedisLog) Poll(ctx context.Context, maxBatch int64, block time.Duration) ([]Message, error) {
	// XREADGROUP takes stream names followed by one ">" cursor per stream.
	args := make([]string, 0, len(l.streams)*2)
	args = append(args, l.streams...)

	for range l.streams {
		args = append(args, ">")
	}

	result, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: l.consumer,
		Streams:  args,
		Count:    maxBatch,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		// Block duration elapsed with no traffic.
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read from streams: %w", err)
	}

	var messages []Message

	for _, streamResult := range result {
		for _, msg := range streamResult.Messages {
			messages = append(messages, Message{
				ID:            msg.ID,
				Stream:        streamResult.Stream,
				Values:        msg.Values,
				DeliveryCount: 1,
			})
		}
	}

	return messages, nil
}

// Acknowledge removes one entry from the group's pending list.
func (l *RedisLog) Acknowledge(ctx context.Context, streamName, id string) error {
	if err := l.client.XAck(ctx, streamName, l.group, id).Err(); err != nil {
		return fmt.Errorf("acknowledge %s on %s: %w", id, streamName, err)
	}

	return nil
}

// ReclaimStale claims entries pending for at least minIdle from any consumer
// in the group (typically a crashed worker) and returns them for processing
// by this consumer. Delivery counts are filled from the pending list so
// callers can observe retry attempts.
func (l *RedisLog) ReclaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	var messages []Message

	for _, streamName := range l.streams {
		claimed, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   streamName,
			Group:    l.group,
			Consumer: l.consumer,
			MinIdle:  minIdle,
			Start:    "0-0",
			Count:    count,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("autoclaim on %s: %w", streamName, err)
		}

		if len(claimed) == 0 {
			continue
		}

		retries := l.retryCounts(ctx, streamName, claimed)

		for _, msg := range claimed {
			messages = append(messages, Message{
				ID:            msg.ID,
				Stream:        streamName,
				Values:        msg.Values,
				DeliveryCount: retries[msg.ID],
			})
		}

		l.logger.Info("Reclaimed stale pending entries",
			slog.String("stream", streamName),
			slog.Int("count", len(claimed)),
			slog.Duration("min_idle", minIdle))
	}

	return messages, nil
}

// retryCounts looks up delivery counts for claimed entries. Best effort: a
// failed lookup leaves counts at zero rather than failing the reclaim.
func (l *RedisLog) retryCounts(ctx context.Context, streamName string, claimed []redis.XMessage) map[string]int64 {
	counts := make(map[string]int64, len(claimed))

	pending, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName,
		Group:  l.group,
		Start:  claimed[0].ID,
		End:    claimed[len(claimed)-1].ID,
		Count:  int64(len(claimed)),
	}).Result()
	if err != nil {
		l.logger.Warn("Pending entry lookup failed",
			slog.String("stream", streamName),
			slog.Any("error", err))

		return counts
	}

	for _, entry := range pending {
		counts[entry.ID] = entry.RetryCount
	}

	return counts
}

// Publish appends an entry to an output stream, trimming it approximately
// to the configured maximum length.
func (l *RedisLog) Publish(ctx context.Context, streamName string, values map[string]any) (string, error) {
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		MaxLen: l.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", streamName, err)
	}

	return id, nil
}

// Close closes the Redis connection pool.
func (l *RedisLog) Close() error {
	return l.client.Close()
}
