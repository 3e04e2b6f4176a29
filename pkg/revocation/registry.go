// Package revocation implements the durable token revocation registry.
// Revocation is keyed by token hash, is idempotent, and only ever grows;
// entries have no TTL because the tokens they cover never expire.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "revoked:"

// ErrNotFound is returned when an operation targets a token that has no
// revocation entry
var ErrNotFound = errors.New("revocation entry not found")

// Entry records a single revocation
type Entry struct {
	TokenHash string    `json:"token_hash"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Registry is the Redis-backed revocation set. Reads are a single
// EXISTS call so the hot authorization path stays O(1).
type Registry struct {
	client *redis.Client
}

// NewRegistry creates a revocation registry on an existing Redis client
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// NewClient creates a Redis client from a URL with pool settings applied
func NewClient(url, password string, db, poolSize, maxRetries int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DB = db
	opts.PoolSize = poolSize
	opts.MaxRetries = maxRetries

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// IsRevoked reports whether the token hash has a revocation entry. An
// error means the registry could not be consulted, not that the token
// is valid; callers must not treat it as a negative answer.
func (r *Registry) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup failed: %w", err)
	}
	return n > 0, nil
}

// Revoke adds a revocation entry for the token hash. Revoking an
// already-revoked token is a no-op and preserves the original
// revocation time.
func (r *Registry) Revoke(ctx context.Context, tokenHash string) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.client.SetNX(ctx, keyPrefix+tokenHash, ts, 0).Err(); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}
	return nil
}

// Unrevoke removes a revocation entry, restoring the token. Returns
// ErrNotFound if the token was not revoked.
func (r *Registry) Unrevoke(ctx context.Context, tokenHash string) error {
	n, err := r.client.Del(ctx, keyPrefix+tokenHash).Result()
	if err != nil {
		return fmt.Errorf("failed to remove revocation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the revocation entry for a token hash
func (r *Registry) Get(ctx context.Context, tokenHash string) (*Entry, error) {
	val, err := r.client.Get(ctx, keyPrefix+tokenHash).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("revocation lookup failed: %w", err)
	}
	revokedAt, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("corrupt revocation entry for %s: %w", tokenHash, err)
	}
	return &Entry{TokenHash: tokenHash, RevokedAt: revokedAt}, nil
}

// List returns all revocation entries. Iterates with SCAN so it never
// blocks the server; intended for the admin surface, not the hot path.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read revocation entry: %w", err)
		}
		revokedAt, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			TokenHash: key[len(keyPrefix):],
			RevokedAt: revokedAt,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("revocation scan failed: %w", err)
	}
	return entries, nil
}

// Count returns the number of revocation entries
func (r *Registry) Count(ctx context.Context) (int64, error) {
	var count int64
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("revocation scan failed: %w", err)
	}
	return count, nil
}
