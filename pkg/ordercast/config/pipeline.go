package config

import "time"

// Well-known keys for the pipeline's tunables.
const (
	KeyRetention         = "retention_seconds"
	KeyMaxReceiveCount   = "max_receive_count"
	KeyVisibilityTimeout = "visibility_timeout"
	KeyConsumerTimeout   = "consumer_timeout"
	KeyBufferSize        = "buffer_size"
	KeyStorePath         = "store_path"
	KeyQueueBackend      = "queue_backend"
	KeyRedisAddr         = "redis_addr"
)

// Settings are the pipeline tunables resolved against their shipped
// defaults.
type Settings struct {
	Retention         time.Duration
	MaxReceiveCount   int
	VisibilityTimeout time.Duration
	ConsumerTimeout   time.Duration
	BufferSize        int
	StorePath         string
	QueueBackend      string
	RedisAddr         string
}

// Pipeline extracts the pipeline settings from c, filling defaults
// for anything unset.
func Pipeline(c Config) Settings {
	return Settings{
		Retention:         time.Duration(c.Int(KeyRetention, 300)) * time.Second,
		MaxReceiveCount:   c.Int(KeyMaxReceiveCount, 3),
		VisibilityTimeout: c.Duration(KeyVisibilityTimeout, 30*time.Second),
		ConsumerTimeout:   c.Duration(KeyConsumerTimeout, 10*time.Second),
		BufferSize:        c.Int(KeyBufferSize, 256),
		StorePath:         c.String(KeyStorePath, ":memory:"),
		QueueBackend:      c.String(KeyQueueBackend, "memory"),
		RedisAddr:         c.String(KeyRedisAddr, "localhost:6379"),
	}
}
