package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Namespace prefixes every key and names the change channel, so several
	// devices can share one Redis without seeing each other's carts.
	Namespace string
}

// Redis is a Store kept in Redis. Writes are announced on a pub/sub channel
// so every process sharing the namespace sees them.
type Redis struct {
	client    *redis.Client
	namespace string
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis store. The connection is established lazily; use
// Ping to fail fast.
func NewRedis(opts RedisOptions) *Redis {
	ns := opts.Namespace
	if ns == "" {
		ns = "storefront"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		namespace: ns,
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) key(key string) string {
	return fmt.Sprintf("%s:state:%s", r.namespace, key)
}

func (r *Redis) channel() string {
	return r.namespace + ":changes"
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %q: %w", key, err)
	}
	r.announce(ctx, Change{Key: key, Value: value})
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: remove %q: %w", key, err)
	}
	r.announce(ctx, Change{Key: key, Removed: true})
	return nil
}

// announce publishes best-effort: the write already succeeded and watchers
// reconcile on their next read.
func (r *Redis) announce(ctx context.Context, c Change) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = r.client.Publish(ctx, r.channel(), payload).Err()
}

func (r *Redis) Watch(ctx context.Context) <-chan Change {
	out := make(chan Change, watchBuffer)
	sub := r.client.Subscribe(ctx, r.channel())

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil || c.Key == "" {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (r *Redis) Close() error {
	return r.client.Close()
}
