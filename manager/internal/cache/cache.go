// Package cache provides a read-through cache for key link lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/store"
)

// ErrMiss is returned by a Backend when the key is absent.
var ErrMiss = errors.New("cache miss")

// Backend is a byte-oriented key/value cache with expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a Backend on a go-redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis connection established")
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// Close closes the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory is an in-process Backend, used when no redis is configured in tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// KeyLinks caches positive key link lookups in front of a KeyLinkStore.
// Misses are never cached. Deletes write a tombstone for each index entry
// and evict it before returning; a lookup that filled the cache while a
// delete was in flight removes its own entry when it finds the tombstone.
// Cache failures on the read path degrade to the underlying store.
type KeyLinks struct {
	next    store.KeyLinkStore
	backend Backend
	ttl     time.Duration
}

var _ store.KeyLinkStore = (*KeyLinks)(nil)

func NewKeyLinks(next store.KeyLinkStore, backend Backend, ttl time.Duration) *KeyLinks {
	return &KeyLinks{next: next, backend: backend, ttl: ttl}
}

func keyIDKey(keyID string) string     { return "vpnfleet:keylink:key:" + keyID }
func shortIDKey(shortID string) string { return "vpnfleet:keylink:short:" + shortID }
func tombstoneKey(key string) string   { return key + ":revoked" }

var tombstone = []byte("1")

func (c *KeyLinks) Create(ctx context.Context, link *domain.KeyLink) error {
	return c.next.Create(ctx, link)
}

func (c *KeyLinks) GetByKeyID(ctx context.Context, keyID string) (*domain.KeyLink, error) {
	return c.lookup(ctx, keyIDKey(keyID), func() (*domain.KeyLink, error) {
		return c.next.GetByKeyID(ctx, keyID)
	})
}

func (c *KeyLinks) GetByShortID(ctx context.Context, shortID string) (*domain.KeyLink, error) {
	return c.lookup(ctx, shortIDKey(shortID), func() (*domain.KeyLink, error) {
		return c.next.GetByShortID(ctx, shortID)
	})
}

func (c *KeyLinks) DeleteByShortID(ctx context.Context, shortID string) error {
	link, err := c.next.GetByShortID(ctx, shortID)
	if errors.Is(err, domain.ErrNotFound) {
		return c.evict(ctx, shortIDKey(shortID))
	}
	if err != nil {
		return err
	}
	if err := c.next.DeleteByShortID(ctx, shortID); err != nil {
		return err
	}
	return c.evict(ctx, shortIDKey(shortID), keyIDKey(link.KeyID))
}

func (c *KeyLinks) DeleteByUser(ctx context.Context, orgID, userID string) ([]*domain.KeyLink, error) {
	links, err := c.next.DeleteByUser(ctx, orgID, userID)
	if err != nil {
		return links, err
	}
	keys := make([]string, 0, 2*len(links))
	for _, link := range links {
		keys = append(keys, keyIDKey(link.KeyID), shortIDKey(link.ShortID))
	}
	if len(keys) == 0 {
		return links, nil
	}
	return links, c.evict(ctx, keys...)
}

func (c *KeyLinks) lookup(ctx context.Context, key string, load func() (*domain.KeyLink, error)) (*domain.KeyLink, error) {
	if data, err := c.backend.Get(ctx, key); err == nil {
		var link domain.KeyLink
		if err := json.Unmarshal(data, &link); err == nil {
			return c.checkRevoked(ctx, key, &link)
		}
	} else if !errors.Is(err, ErrMiss) {
		log.Warn().Err(err).Str("key", key).Msg("Key link cache read failed")
	}

	link, err := load()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(link)
	if err != nil {
		return link, nil
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Key link cache write failed")
		return link, nil
	}
	// The row may have been deleted after load read it. Deletes write the
	// tombstone before evicting, so checking it after Set is enough.
	return c.checkRevoked(ctx, key, link)
}

// checkRevoked drops the cached entry for key when a delete left a
// tombstone for it.
func (c *KeyLinks) checkRevoked(ctx context.Context, key string, link *domain.KeyLink) (*domain.KeyLink, error) {
	_, err := c.backend.Get(ctx, tombstoneKey(key))
	if errors.Is(err, ErrMiss) {
		return link, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key link tombstone: %w: %w", domain.ErrStorage, err)
	}
	if err := c.backend.Del(ctx, key); err != nil {
		return nil, fmt.Errorf("evict key link: %w: %w", domain.ErrStorage, err)
	}
	return nil, domain.ErrNotFound
}

// A revoke is reported done only once the tombstones are written and the
// entries evicted.
func (c *KeyLinks) evict(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.backend.Set(ctx, tombstoneKey(key), tombstone, c.ttl); err != nil {
			return fmt.Errorf("evict key link: %w: %w", domain.ErrStorage, err)
		}
	}
	if err := c.backend.Del(ctx, keys...); err != nil {
		return fmt.Errorf("evict key link: %w: %w", domain.ErrStorage, err)
	}
	return nil
}
