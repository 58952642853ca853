package stream

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/bomflow-io/bomflow/internal/config"
)

const (
	defaultRedisAddr    = "localhost:6379"
	defaultPoolSize     = 10
	defaultMinIdleConns = 2
	defaultMaxRetries   = 3
	defaultMaxLen       = 10000
	defaultGroup        = "bomflow"
)

// Config holds the Redis stream log configuration.
type Config struct {
	Addr     string
	Password string
	DB       int

	MaxRetries   int
	PoolSize     int
	MinIdleConns int

	// Group is the consumer group name shared by all instances of this
	// service. A different service consuming the same streams uses its own
	// group and receives the full traffic independently.
	Group string

	// Consumer is this instance's name within the group. Defaults to
	// hostname plus a random suffix so restarted instances never collide.
	Consumer string

	// Streams are the input stream names to subscribe to.
	Streams []string

	// MaxLen bounds published output streams; older entries are trimmed
	// (approximately) beyond it.
	MaxLen int64
}

// LoadConfig loads stream log configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Addr:         config.GetEnvStr("REDIS_ADDR", defaultRedisAddr),
		Password:     config.GetEnvStr("REDIS_PASSWORD", ""),
		DB:           config.GetEnvInt("REDIS_DB", 0),
		MaxRetries:   config.GetEnvInt("REDIS_MAX_RETRIES", defaultMaxRetries),
		PoolSize:     config.GetEnvInt("REDIS_POOL_SIZE", defaultPoolSize),
		MinIdleConns: config.GetEnvInt("REDIS_MIN_IDLE_CONNS", defaultMinIdleConns),
		Group:        config.GetEnvStr("STREAM_GROUP", defaultGroup),
		Consumer:     config.GetEnvStr("STREAM_CONSUMER", defaultConsumerName()),
		Streams:      config.ParseCommaSeparatedList(config.GetEnvStr("STREAM_INPUTS", "")),
		MaxLen:       config.GetEnvInt64("STREAM_MAX_LEN", defaultMaxLen),
	}
}

// Validate checks if the stream configuration is valid.
func (c *Config) Validate() error {
	if c.Group == "" {
		return ErrEmptyGroup
	}

	if len(c.Streams) == 0 {
		return ErrNoStreams
	}

	return nil
}

func defaultConsumerName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "bomflow"
	}

	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}
