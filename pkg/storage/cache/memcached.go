package cache

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/gomemcache/memcache"
	"github.com/pkg/errors"
)

// MemcachedConfig defines how the memcached backend is constructed.
type MemcachedConfig struct {
	Addresses    string        `yaml:"addresses"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	Expiration   time.Duration `yaml:"expiration"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *MemcachedConfig) RegisterFlagsWithPrefix(prefix, description string, f *flag.FlagSet) {
	f.StringVar(&cfg.Addresses, prefix+"memcached.addresses", "", description+"Comma separated list of memcached addresses. Empty disables memcached.")
	f.DurationVar(&cfg.Timeout, prefix+"memcached.timeout", 200*time.Millisecond, description+"Maximum time to wait before giving up on memcached requests.")
	f.IntVar(&cfg.MaxIdleConns, prefix+"memcached.max-idle-conns", 16, description+"Maximum number of idle connections in the pool.")
	f.DurationVar(&cfg.Expiration, prefix+"memcached.expiration", 0, description+"How long entries remain in memcached when no TTL is given on store. Defaults to the cache default validity if zero.")
}

// Memcached is a Cache backed by a memcached cluster.
type Memcached struct {
	cfg    MemcachedConfig
	client *memcache.Client
	logger log.Logger
}

// NewMemcached makes a new Memcached cache.
func NewMemcached(cfg MemcachedConfig, logger log.Logger) *Memcached {
	client := memcache.New(strings.Split(cfg.Addresses, ",")...)
	client.Timeout = cfg.Timeout
	client.MaxIdleConns = cfg.MaxIdleConns
	return &Memcached{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// Store implements Cache.
func (m *Memcached) Store(_ context.Context, key string, buf []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.cfg.Expiration
	}
	err := m.client.Set(&memcache.Item{
		Key:        key,
		Value:      buf,
		Expiration: int32(ttl.Seconds()),
	})
	return errors.Wrap(err, "memcache set")
}

// Fetch implements Cache. Memcached expires entries server side, so
// allowStale has no effect here.
func (m *Memcached) Fetch(_ context.Context, key string, _ bool) ([]byte, FetchStatus, error) {
	item, err := m.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, FetchStatusMiss, ErrKeyNotFound
		}
		level.Warn(m.logger).Log("msg", "error fetching from memcached", "err", err)
		return nil, FetchStatusError, errors.Wrap(err, "memcache get")
	}
	return item.Value, FetchStatusHit, nil
}

// Stop implements Cache.
func (m *Memcached) Stop() {
	m.client.Close()
}
