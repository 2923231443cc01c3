// Ticker snapshot caching so the market handlers do not hammer the exchange
// on every request. When Redis is unavailable the cache falls back to an
// in-memory map so reads keep working without interruption.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"upbit-trading-bot/internal/logging"
)

const (
	// tickerKeyPrefix is the prefix for ticker snapshot keys.
	// Format: ticker:{market}
	tickerKeyPrefix = "ticker"

	// tickerTTL bounds staleness of a cached snapshot.
	tickerTTL = 5 * time.Second
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// TickerCache stores serialized ticker snapshots in Redis with an in-memory
// fallback.
type TickerCache struct {
	client *redis.Client // nil when redis is disabled

	mu       sync.RWMutex
	fallback map[string]memoryEntry

	redisDown atomic.Bool
	log       *logging.Logger
}

// NewTickerCache creates a ticker cache. client may be nil to run
// memory-only.
func NewTickerCache(client *redis.Client) *TickerCache {
	return &TickerCache{
		client:   client,
		fallback: make(map[string]memoryEntry),
		log:      logging.WithComponent("database"),
	}
}

func tickerKey(market string) string {
	return fmt.Sprintf("%s:%s", tickerKeyPrefix, market)
}

// Put caches a snapshot under the market key.
func (c *TickerCache) Put(ctx context.Context, market string, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal ticker snapshot: %w", err)
	}

	if c.client != nil {
		if err := c.client.Set(ctx, tickerKey(market), data, tickerTTL).Err(); err != nil {
			if !c.redisDown.Swap(true) {
				c.log.Warn("redis unavailable, ticker cache falling back to memory", "error", err)
			}
		} else {
			c.redisDown.Store(false)
		}
	}

	c.mu.Lock()
	c.fallback[market] = memoryEntry{data: data, expiresAt: time.Now().Add(tickerTTL)}
	c.mu.Unlock()

	return nil
}

// Get loads a cached snapshot into dest. Returns false when no fresh
// snapshot exists.
func (c *TickerCache) Get(ctx context.Context, market string, dest interface{}) bool {
	if c.client != nil && !c.redisDown.Load() {
		data, err := c.client.Get(ctx, tickerKey(market)).Bytes()
		if err == nil {
			return json.Unmarshal(data, dest) == nil
		}
		if err != redis.Nil {
			if !c.redisDown.Swap(true) {
				c.log.Warn("redis unavailable, ticker cache falling back to memory", "error", err)
			}
		}
	}

	c.mu.RLock()
	entry, ok := c.fallback[market]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return false
	}
	return json.Unmarshal(entry.data, dest) == nil
}
