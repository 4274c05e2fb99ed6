package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/envutil"
	"github.com/substratehq/memograph/internal/platform/logger"
)

const (
	cacheKeyPrefix     = "memograph:patterns"
	cacheGenerationKey = "memograph:patterns:gen"
)

// PatternCache caches GetPatterns result sets in Redis. Invalidation bumps
// a generation counter baked into every key, so stale entries simply stop
// being addressable and age out via TTL.
type PatternCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewPatternCache returns nil (without error) when REDIS_ADDR is unset;
// the store treats a nil cache as disabled.
func NewPatternCache(log *logger.Logger) (*PatternCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &PatternCache{
		log: log.With("service", "RedisPatternCache"),
		rdb: rdb,
		ttl: envutil.Duration("PATTERN_CACHE_TTL", 5*time.Minute),
	}, nil
}

// cachedPattern is the wire form for Redis. The metadata union cannot be
// unmarshaled into its interface type directly, so it rides along in its
// envelope encoding and is restored on read.
type cachedPattern struct {
	domain.StoredPattern
	Metadata string `json:"metadata"`
}

func (c *PatternCache) Get(ctx context.Context, key string) ([]domain.StoredPattern, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	versioned, ok := c.versionedKey(ctx, key)
	if !ok {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, versioned).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("cache get failed", "error", err)
		}
		return nil, false
	}
	var entries []cachedPattern
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.log.Warn("cache entry corrupt, dropping", "error", err)
		return nil, false
	}
	patterns := make([]domain.StoredPattern, 0, len(entries))
	for _, entry := range entries {
		sp := entry.StoredPattern
		if meta, err := domain.DecodeMetadata(entry.Metadata); err == nil {
			sp.Pattern.Metadata = meta
		}
		patterns = append(patterns, sp)
	}
	return patterns, true
}

func (c *PatternCache) Set(ctx context.Context, key string, patterns []domain.StoredPattern) {
	if c == nil || c.rdb == nil {
		return
	}
	entries := make([]cachedPattern, 0, len(patterns))
	for _, sp := range patterns {
		meta, err := domain.EncodeMetadata(sp.Metadata)
		if err != nil {
			c.log.Warn("cache metadata encode failed", "pattern_id", sp.ID, "error", err)
			meta = ""
		}
		entry := cachedPattern{StoredPattern: sp, Metadata: meta}
		entry.Pattern.Metadata = nil
		entries = append(entries, entry)
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		c.log.Warn("cache marshal failed", "error", err)
		return
	}
	versioned, ok := c.versionedKey(ctx, key)
	if !ok {
		return
	}
	if err := c.rdb.Set(ctx, versioned, raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", "error", err)
	}
}

// Invalidate bumps the generation counter; every existing entry becomes
// unreachable at once.
func (c *PatternCache) Invalidate(ctx context.Context) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Incr(ctx, cacheGenerationKey).Err(); err != nil {
		c.log.Warn("cache invalidation failed", "error", err)
	}
}

func (c *PatternCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// versionedKey resolves the current generation. A missing generation key
// means generation 0; any other read error makes the cache unusable for
// this call, since a stale generation could resurrect invalidated entries.
func (c *PatternCache) versionedKey(ctx context.Context, key string) (string, bool) {
	gen, err := c.rdb.Get(ctx, cacheGenerationKey).Int64()
	if err != nil && err != goredis.Nil {
		c.log.Warn("cache generation read failed", "error", err)
		return "", false
	}
	return fmt.Sprintf("%s:%d:%s", cacheKeyPrefix, gen, key), true
}
