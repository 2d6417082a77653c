// Package results caches optimization responses so they can be fetched
// again by id.
package results

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultTTL is how long a cached result stays retrievable.
const DefaultTTL = 24 * time.Hour

// Observer is notified of cache lookups.
type Observer interface {
	ObserveCacheLookup(hit bool)
}

// Cache stores msgpack-encoded results in the working store.
type Cache struct {
	db       *sql.DB
	ttl      time.Duration
	now      func() time.Time
	observer Observer
	log      zerolog.Logger
}

// NewCache creates a result cache. A non-positive ttl uses DefaultTTL.
func NewCache(db *sql.DB, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		db:  db,
		ttl: ttl,
		now: time.Now,
		log: log.With().Str("component", "result_cache").Logger(),
	}
}

// SetObserver registers an observer for hits and misses.
func (c *Cache) SetObserver(o Observer) {
	c.observer = o
}

// TTL returns the configured time to live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// Save stores a result and returns its id.
func (c *Cache) Save(ctx context.Context, objective string, result interface{}) (string, error) {
	payload, err := encode(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	id := uuid.New().String()
	now := c.now()
	_, err = c.db.ExecContext(ctx,
		"INSERT INTO results (id, objective, payload, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		id, objective, payload, now.Unix(), now.Add(c.ttl).Unix())
	if err != nil {
		return "", fmt.Errorf("failed to store result: %w", err)
	}

	c.log.Debug().Str("id", id).Str("objective", objective).Int("bytes", len(payload)).Msg("Result cached")
	return id, nil
}

// Get decodes a cached result into out. It reports false when the id is
// unknown or expired.
func (c *Cache) Get(ctx context.Context, id string, out interface{}) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		c.observe(false)
		return false, nil
	}

	var payload []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT payload FROM results WHERE id = ? AND expires_at > ?", id, c.now().Unix()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		c.observe(false)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read result: %w", err)
	}

	if err := decode(payload, out); err != nil {
		return false, fmt.Errorf("failed to decode result %s: %w", id, err)
	}
	c.observe(true)
	return true, nil
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(hit)
	}
}

// Purge deletes expired results and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM results WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purged rows: %w", err)
	}
	if n > 0 {
		c.log.Info().Int64("purged", n).Msg("Expired results purged")
	}
	return n, nil
}
