// Package cache provides byte caches for query results, addressed by a
// single derived key. Backends are composed from config: an in-process
// embedded cache or memcached, optionally wrapped with snappy
// compression and instrumentation.
package cache

import (
	"context"
	"flag"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// FetchStatus describes the outcome of a cache fetch.
type FetchStatus int

const (
	FetchStatusHit FetchStatus = iota
	FetchStatusStale
	FetchStatusMiss
	FetchStatusError
)

func (s FetchStatus) String() string {
	switch s {
	case FetchStatusHit:
		return "hit"
	case FetchStatusStale:
		return "stale"
	case FetchStatusMiss:
		return "miss"
	case FetchStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrKeyNotFound is returned by Fetch when the key is absent.
var ErrKeyNotFound = errors.New("key not found")

// Cache stores and fetches byte arrays by key. Implementations must be
// safe for concurrent use; fetch misses are reported via status and
// ErrKeyNotFound, never by a nil-error empty buffer.
type Cache interface {
	Store(ctx context.Context, key string, buf []byte, ttl time.Duration) error
	Fetch(ctx context.Context, key string, allowStale bool) ([]byte, FetchStatus, error)
	Stop()
}

const (
	// CompressionNone disables value compression.
	CompressionNone = ""
	// CompressionSnappy wraps the cache with snappy encoding.
	CompressionSnappy = "snappy"
)

// Config for building Caches.
type Config struct {
	DefaultValidity time.Duration       `yaml:"default_validity"`
	Compression     string              `yaml:"compression"`
	Embedded        EmbeddedCacheConfig `yaml:"embedded_cache"`
	Memcached       MemcachedConfig     `yaml:"memcached"`

	// For tests to inject specific implementations.
	Cache Cache `yaml:"-"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlagsWithPrefix(prefix, description string, f *flag.FlagSet) {
	cfg.Embedded.RegisterFlagsWithPrefix(prefix, description, f)
	cfg.Memcached.RegisterFlagsWithPrefix(prefix, description, f)
	f.DurationVar(&cfg.DefaultValidity, prefix+"cache.default-validity", time.Hour, description+"The default validity of entries for caches unless overridden.")
	f.StringVar(&cfg.Compression, prefix+"cache.compression", CompressionNone, description+"Compression applied to cached values. Supported: snappy. Empty disables compression.")
}

func (cfg *Config) Validate() error {
	if cfg.Compression != CompressionNone && cfg.Compression != CompressionSnappy {
		return errors.Errorf("unsupported cache compression: %q", cfg.Compression)
	}
	return nil
}

// IsMemcachedSet returns whether a memcached backend is configured.
func IsMemcachedSet(cfg Config) bool {
	return cfg.Memcached.Addresses != ""
}

// IsCacheConfigured reports whether any backend is configured at all.
// With no cache the querier fetches every request in full.
func IsCacheConfigured(cfg Config) bool {
	return cfg.Cache != nil || cfg.Embedded.Enabled || IsMemcachedSet(cfg)
}

// New creates a new Cache using Config.
func New(cfg Config, reg prometheus.Registerer, logger log.Logger) (Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var cache Cache
	switch {
	case cfg.Cache != nil:
		cache = cfg.Cache
	case IsMemcachedSet(cfg):
		if cfg.Memcached.Expiration == 0 && cfg.DefaultValidity != 0 {
			cfg.Memcached.Expiration = cfg.DefaultValidity
		}
		cache = Instrument("memcached", NewMemcached(cfg.Memcached, logger), reg)
	case cfg.Embedded.Enabled:
		if cfg.Embedded.TTL == 0 && cfg.DefaultValidity != 0 {
			cfg.Embedded.TTL = cfg.DefaultValidity
		}
		cache = Instrument("embedded-cache", NewEmbeddedCache("embedded-cache", cfg.Embedded, reg, logger), reg)
	default:
		return nil, errors.New("no cache backend configured")
	}

	if cfg.Compression == CompressionSnappy {
		cache = NewSnappy(cache, logger)
	}
	return cache, nil
}
