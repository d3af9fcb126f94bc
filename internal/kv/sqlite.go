package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Pure-Go driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS device_state (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
`

// DefaultPollInterval is how often SQLite watchers look for writes made by
// other processes sharing the file.
const DefaultPollInterval = 2 * time.Second

// SQLite is a Store persisted in a single SQLite file. Several processes may
// open the same file; watchers see each other's writes on the next poll.
type SQLite struct {
	db           *sql.DB
	pollInterval time.Duration
	done         chan struct{}
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path. WAL keeps readers and
// the single writer from blocking each other; busy_timeout waits for locks
// held by another process instead of failing.
func OpenSQLite(path string, pollInterval time.Duration) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &SQLite{db: db, pollInterval: pollInterval, done: make(chan struct{})}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM device_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO device_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("sqlite: set %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: remove %q: %w", key, err)
	}
	return nil
}

// Watch polls the table and reports differences from the previous snapshot.
// Changes written and reverted between two polls are not seen.
func (s *SQLite) Watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, watchBuffer)

	go func() {
		defer close(ch)

		prev, err := s.snapshot(ctx)
		if err != nil {
			return
		}

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
			}

			next, err := s.snapshot(ctx)
			if err != nil {
				// A locked or closing database is retried on the next tick.
				continue
			}
			for _, c := range diff(prev, next) {
				select {
				case ch <- c:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
			prev = next
		}
	}()

	return ch
}

func (s *SQLite) snapshot(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM device_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// diff lists the changes that turn prev into next.
func diff(prev, next map[string]string) []Change {
	var changes []Change
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			changes = append(changes, Change{Key: k, Value: v})
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			changes = append(changes, Change{Key: k, Removed: true})
		}
	}
	return changes
}

// Close stops watchers and releases the database.
func (s *SQLite) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.db.Close()
}
