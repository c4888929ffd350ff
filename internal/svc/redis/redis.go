package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/thumbforge/preview-processor/internal/instance"
)

type Options struct {
	Addr     string
	Database int
}

type redisInstance struct {
	client *redis.Client
}

// New connects to redis and verifies the connection before returning.
func New(ctx context.Context, o Options) (instance.Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		DB:           o.Database,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &redisInstance{client: client}, nil
}

func (r *redisInstance) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisInstance) Push(ctx context.Context, queue string, data []byte) error {
	return r.client.LPush(ctx, queue, data).Err()
}

// Fetch blocks up to timeout for the next queue entry, returning ErrNoJob
// when the queue stays empty.
func (r *redisInstance) Fetch(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	results, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
			return nil, instance.ErrNoJob
		}

		return nil, err
	}

	if len(results) < 2 {
		return nil, instance.ErrNoJob
	}

	return []byte(results[1]), nil
}
