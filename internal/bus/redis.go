package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

// RedisConfig configures the Redis Streams bus.
type RedisConfig struct {
	// URL is either redis://host:port/db or a bare host:port.
	URL string
	// MaxLen caps each stream approximately; zero means unbounded.
	MaxLen int64
}

// RedisBus appends each payload to a Redis stream named after the subject.
// XADD returns only after the server has stored the entry.
type RedisBus struct {
	rdb    *goredis.Client
	maxLen int64
	logger *logging.Logger
}

var _ Bus = (*RedisBus)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *logging.Logger) (*RedisBus, error) {
	opts := &goredis.Options{Addr: cfg.URL, DialTimeout: 5 * time.Second}
	if strings.Contains(cfg.URL, "://") {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, maxLen: cfg.MaxLen, logger: logger}, nil
}

// Publish appends payload to the stream named subject.
func (b *RedisBus) Publish(ctx context.Context, subject string, payload []byte) error {
	args := &goredis.XAddArgs{
		Stream: subject,
		Values: map[string]interface{}{"payload": payload},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	id, err := b.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", subject, err)
	}
	b.logger.Trace(ctx, "message stored", zap.String("stream", subject), zap.String("id", id))
	return nil
}

// Close closes the client.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
