package cache

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
)

type snappyCache struct {
	next   Cache
	logger log.Logger
}

// NewSnappy makes a new snappy encoding cache wrapper.
func NewSnappy(next Cache, logger log.Logger) Cache {
	return &snappyCache{
		next:   next,
		logger: logger,
	}
}

func (s *snappyCache) Store(ctx context.Context, key string, buf []byte, ttl time.Duration) error {
	return s.next.Store(ctx, key, snappy.Encode(nil, buf), ttl)
}

func (s *snappyCache) Fetch(ctx context.Context, key string, allowStale bool) ([]byte, FetchStatus, error) {
	buf, status, err := s.next.Fetch(ctx, key, allowStale)
	if err != nil {
		return nil, status, err
	}
	decoded, err := snappy.Decode(nil, buf)
	if err != nil {
		// A corrupt entry is as good as a miss.
		level.Error(s.logger).Log("msg", "failed to decode cache entry", "key", key, "err", err)
		return nil, FetchStatusError, err
	}
	return decoded, status, nil
}

func (s *snappyCache) Stop() {
	s.next.Stop()
}
