package application

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cardCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fablab_card_cache_hits_total",
		Help: "Card UUID lookups answered from the cache.",
	})
	cardCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fablab_card_cache_misses_total",
		Help: "Card UUID lookups that went to the store.",
	})
)

// CardCache remembers which user a card UUID belongs to so that card taps on
// machines skip the store lookup. Entries expire after ttl and are dropped
// whenever a card is reassigned or a user removed. A nil cache never hits.
// Services that resolve or change cards should share one instance.
type CardCache struct {
	entries *expirable.LRU[string, int64]
}

// NewCardCache builds a cache holding at most size entries for ttl each.
func NewCardCache(size int, ttl time.Duration) *CardCache {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CardCache{entries: expirable.NewLRU[string, int64](size, nil, ttl)}
}

func (c *CardCache) Get(cardUUID string) (int64, bool) {
	if c == nil {
		return 0, false
	}
	id, ok := c.entries.Get(cardUUID)
	if ok {
		cardCacheHitsTotal.Inc()
		return id, true
	}
	cardCacheMissesTotal.Inc()
	return 0, false
}

func (c *CardCache) Add(cardUUID string, userID int64) {
	if c == nil || cardUUID == "" {
		return
	}
	c.entries.Add(cardUUID, userID)
}

func (c *CardCache) Remove(cardUUID string) {
	if c == nil {
		return
	}
	c.entries.Remove(cardUUID)
}

// RemoveUser drops every card mapped to userID.
func (c *CardCache) RemoveUser(userID int64) {
	if c == nil {
		return
	}
	for _, card := range c.entries.Keys() {
		if id, ok := c.entries.Peek(card); ok && id == userID {
			c.entries.Remove(card)
		}
	}
}

func (c *CardCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
