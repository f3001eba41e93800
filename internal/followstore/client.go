// Package followstore is the authoritative backing store the spec
// refers to: the external source of truth the cache's loader consults
// on demand. It is adapted from the teacher's internal/redis client
// wrapper and channel repository, retargeted at follow-list storage
// instead of channel configuration.
package followstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// client wraps the redis client with the same dial/pool tuning and
// startup ping the teacher's redis.Client used.
type client struct {
	*redis.Client
	log *zap.Logger
}

func newClient(addr string, db int, log *zap.Logger) *client {
	opts := &redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	}

	c := &client{
		Client: redis.NewClient(opts),
		log:    log.Named("redis"),
	}

	c.log.Info("redis client initialized", zap.String("addr", addr), zap.Int("db", db))
	c.ping(context.Background())

	return c
}

func (c *client) ping(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		c.log.Warn("redis ping failed", zap.Error(err))
		return
	}
	c.log.Info("redis ping ok")
}

// Close closes the underlying connection pool.
func (c *client) Close() error { return c.Client.Close() }
