package cache

import (
	"container/list"
	"context"
	"flag"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/querent-io/querent/pkg/util/constants"
)

// EmbeddedCacheConfig holds config for the in-process cache.
type EmbeddedCacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxEntries    int           `yaml:"max_entries"`
	TTL           time.Duration `yaml:"ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *EmbeddedCacheConfig) RegisterFlagsWithPrefix(prefix, description string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+"cache.embedded.enabled", false, description+"Enable the in-process cache.")
	f.IntVar(&cfg.MaxEntries, prefix+"cache.embedded.max-entries", 1024, description+"Maximum number of entries held by the in-process cache before the least recently used entry is evicted.")
	f.DurationVar(&cfg.TTL, prefix+"cache.embedded.ttl", 0, description+"Validity of entries. Defaults to the cache default validity if zero.")
	f.DurationVar(&cfg.PurgeInterval, prefix+"cache.embedded.purge-interval", time.Minute, description+"Period with which expired entries are purged.")
}

type embeddedEntry struct {
	key      string
	buf      []byte
	expireAt time.Time
}

// EmbeddedCache is an in-process LRU cache with per-entry TTL. Expired
// entries remain retrievable as stale until the purge loop removes them.
type EmbeddedCache struct {
	cfg    EmbeddedCacheConfig
	logger log.Logger

	mtx     sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	done chan struct{}

	entriesCurrent prometheus.Gauge
	hits           prometheus.Counter
	misses         prometheus.Counter
	evictions      prometheus.Counter
}

// NewEmbeddedCache returns a started EmbeddedCache. Stop must be called
// to terminate the purge loop.
func NewEmbeddedCache(name string, cfg EmbeddedCacheConfig, reg prometheus.Registerer, logger log.Logger) *EmbeddedCache {
	c := &EmbeddedCache{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		done:    make(chan struct{}),

		entriesCurrent: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   constants.Querent,
			Name:        "embedded_cache_entries",
			Help:        "Current number of entries in the cache.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		hits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   constants.Querent,
			Name:        "embedded_cache_hits_total",
			Help:        "Total number of fetches that found the key.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		misses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   constants.Querent,
			Name:        "embedded_cache_misses_total",
			Help:        "Total number of fetches that did not find the key.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   constants.Querent,
			Name:        "embedded_cache_evictions_total",
			Help:        "Total number of entries evicted or purged.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
	}

	if cfg.PurgeInterval > 0 {
		go c.purgeLoop()
	}
	return c
}

func (c *EmbeddedCache) purgeLoop() {
	ticker := time.NewTicker(c.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if purged := c.purgeExpired(); purged > 0 {
				level.Debug(c.logger).Log("msg", "purged expired cache entries", "count", purged)
			}
		case <-c.done:
			return
		}
	}
}

func (c *EmbeddedCache) purgeExpired() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	now := time.Now()
	purged := 0
	for key, elem := range c.entries {
		if now.After(elem.Value.(*embeddedEntry).expireAt) {
			c.removeLocked(key)
			purged++
		}
	}
	return purged
}

func (c *EmbeddedCache) removeLocked(key string) {
	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
		c.evictions.Inc()
		c.entriesCurrent.Set(float64(len(c.entries)))
	}
}

// Store implements Cache.
func (c *EmbeddedCache) Store(_ context.Context, key string, buf []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.cfg.TTL
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*embeddedEntry)
		entry.buf = buf
		entry.expireAt = time.Now().Add(ttl)
		c.lru.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.lru.PushFront(&embeddedEntry{
		key:      key,
		buf:      buf,
		expireAt: time.Now().Add(ttl),
	})
	if c.cfg.MaxEntries > 0 && c.lru.Len() > c.cfg.MaxEntries {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeLocked(oldest.Value.(*embeddedEntry).key)
		}
	}
	c.entriesCurrent.Set(float64(len(c.entries)))
	return nil
}

// Fetch implements Cache. Expired entries are returned with
// FetchStatusStale when allowStale is set, otherwise they count as a
// miss and are dropped.
func (c *EmbeddedCache) Fetch(_ context.Context, key string, allowStale bool) ([]byte, FetchStatus, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Inc()
		return nil, FetchStatusMiss, ErrKeyNotFound
	}

	entry := elem.Value.(*embeddedEntry)
	if time.Now().After(entry.expireAt) {
		if !allowStale {
			c.removeLocked(key)
			c.misses.Inc()
			return nil, FetchStatusMiss, ErrKeyNotFound
		}
		c.hits.Inc()
		return entry.buf, FetchStatusStale, nil
	}

	c.lru.MoveToFront(elem)
	c.hits.Inc()
	return entry.buf, FetchStatusHit, nil
}

// Stop terminates the purge loop.
func (c *EmbeddedCache) Stop() {
	close(c.done)
}
