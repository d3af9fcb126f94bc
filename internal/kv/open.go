package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Options selects and configures a Store implementation.
type Options struct {
	Kind  string // "memory", "sqlite" or "redis"
	Path  string // sqlite file
	Redis RedisOptions
}

// Open creates the Store named by opts.Kind. Redis is pinged so a bad
// address fails at startup instead of on the first cart write.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		if opts.Path == "" {
			return nil, fmt.Errorf("kv: sqlite store requires a path")
		}
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("kv: creating %s: %w", dir, err)
			}
		}
		return OpenSQLite(opts.Path, DefaultPollInterval)
	case "redis":
		if opts.Redis.Addr == "" {
			return nil, fmt.Errorf("kv: redis store requires an address")
		}
		r := NewRedis(opts.Redis)
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("kv: connecting to redis at %s: %w", opts.Redis.Addr, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("kv: unknown store %q (want memory, sqlite or redis)", opts.Kind)
	}
}
