// Package searchcache keeps normalized search results in Redis so repeated
// queries skip the mirror chain.
package searchcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/lvcoi/deckproxy/internal/mirror"
)

const (
	keyPrefix   = "deckproxy:search:"
	DefaultTTL  = 10 * time.Minute
	pingTimeout = 3 * time.Second
)

// Redis is a search cache backed by a Redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to rawURL (redis://[user:pass@]host:port/db) and pings
// the server once.
func NewRedis(ctx context.Context, rawURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// Get returns cached results for query. A miss is (nil, false, nil).
func (r *Redis) Get(ctx context.Context, query string) ([]mirror.VideoSummary, bool, error) {
	val, err := r.client.Get(ctx, Key(query)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading search cache: %w", err)
	}
	var videos []mirror.VideoSummary
	if err := json.Unmarshal(val, &videos); err != nil {
		return nil, false, fmt.Errorf("decoding search cache entry: %w", err)
	}
	return videos, true, nil
}

// Set stores videos for query. Empty result lists are not cached so a
// transient mirror outage is not remembered.
func (r *Redis) Set(ctx context.Context, query string, videos []mirror.VideoSummary) error {
	if len(videos) == 0 {
		return nil
	}
	data, err := json.Marshal(videos)
	if err != nil {
		return fmt.Errorf("encoding search cache entry: %w", err)
	}
	if err := r.client.Set(ctx, Key(query), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing search cache: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Key normalizes query case and whitespace and hashes it into a bounded key.
func Key(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha1.Sum([]byte(normalized))
	return keyPrefix + hex.EncodeToString(sum[:])
}
