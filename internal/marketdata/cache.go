package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache is a byte cache with per-entry TTL
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

type memory struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

type entry struct {
	b   []byte
	exp time.Time
}

// NewMemoryCache returns an in-process cache
func NewMemoryCache() Cache {
	return &memory{m: make(map[string]entry), now: time.Now}
}

func (c *memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && c.now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = c.now().Add(ttl)
	}
	c.m[key] = e
}

type redisCache struct {
	r       *redis.Client
	timeout time.Duration
}

// NewRedisCache stores candles in Redis at addr
func NewRedisCache(addr string, db int) Cache {
	return &redisCache{
		r:       redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		timeout: 500 * time.Millisecond,
	}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("candle cache read failed")
		}
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.r.Set(ctx, key, val, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("candle cache write failed")
	}
}

// CacheObserver is told about every cache lookup
type CacheObserver interface {
	CacheHit(cache string)
	CacheMiss(cache string)
}

// CachedSource serves candles from a cache before hitting the wrapped source
type CachedSource struct {
	src      Source
	cache    Cache
	ttl      time.Duration
	observer CacheObserver
}

// NewCachedSource wraps src with cache entries living for ttl
func NewCachedSource(src Source, cache Cache, ttl time.Duration) *CachedSource {
	return &CachedSource{src: src, cache: cache, ttl: ttl}
}

// WithObserver reports hits and misses to o
func (s *CachedSource) WithObserver(o CacheObserver) *CachedSource {
	s.observer = o
	return s
}

// Candles implements Source
func (s *CachedSource) Candles(ctx context.Context, ticker string, limit int) ([]Candle, error) {
	key := fmt.Sprintf("pairsrun:candles:%s:%d", ticker, limit)
	if b, ok := s.cache.Get(ctx, key); ok {
		var c []Candle
		if err := json.Unmarshal(b, &c); err == nil {
			if s.observer != nil {
				s.observer.CacheHit("candles")
			}
			return c, nil
		}
	}
	if s.observer != nil {
		s.observer.CacheMiss("candles")
	}

	c, err := s.src.Candles(ctx, ticker, limit)
	if err != nil {
		return nil, err
	}
	SortByTime(c)
	if b, err := json.Marshal(c); err == nil {
		s.cache.Set(ctx, key, b, s.ttl)
	}
	return c, nil
}
