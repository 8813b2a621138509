package output

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/autoflow/internal/xjson"
)

// RedisSink appends the JSON payload to a Redis list.
type RedisSink struct {
	Addr string
	Key  string
}

func (s *RedisSink) Type() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, p Payload) (Delivery, error) {
	if s.Addr == "" || s.Key == "" {
		return Delivery{}, fmt.Errorf("redis sink: addr and key are required")
	}
	key := expandPath(s.Key, p)

	data, err := xjson.Marshal(p)
	if err != nil {
		return Delivery{}, fmt.Errorf("redis sink: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        s.Addr,
		MaxRetries:  -1,
		DialTimeout: 5 * time.Second,
	})
	defer client.Close()

	if err := client.RPush(ctx, key, data).Err(); err != nil {
		return Delivery{}, fmt.Errorf("redis sink: rpush %s: %w", key, err)
	}
	return Delivery{Sink: s.Type(), Location: fmt.Sprintf("redis://%s/%s", s.Addr, key), At: time.Now()}, nil
}
