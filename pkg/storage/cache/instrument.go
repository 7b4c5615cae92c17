package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/querent-io/querent/pkg/util/constants"
)

type instrumentedCache struct {
	Cache

	requestDuration  *prometheus.HistogramVec
	storedValueSize  prometheus.Observer
	fetchedValueSize prometheus.Observer
}

// Instrument returns an instrumented cache.
func Instrument(name string, cache Cache, reg prometheus.Registerer) Cache {
	valueSize := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   constants.Querent,
		Name:        "cache_value_size_bytes",
		Help:        "Size of values in the cache.",
		Buckets:     prometheus.ExponentialBuckets(1024, 4, 7),
		ConstLabels: prometheus.Labels{"cache": name},
	}, []string{"method"})

	return &instrumentedCache{
		Cache: cache,

		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   constants.Querent,
			Name:        "cache_request_duration_seconds",
			Help:        "Total time spent in seconds doing cache requests.",
			Buckets:     prometheus.ExponentialBuckets(0.000016, 4, 8),
			ConstLabels: prometheus.Labels{"cache": name},
		}, []string{"method", "status"}),
		storedValueSize:  valueSize.WithLabelValues("store"),
		fetchedValueSize: valueSize.WithLabelValues("fetch"),
	}
}

func (i *instrumentedCache) Store(ctx context.Context, key string, buf []byte, ttl time.Duration) error {
	start := time.Now()
	err := i.Cache.Store(ctx, key, buf, ttl)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.requestDuration.WithLabelValues("store", status).Observe(time.Since(start).Seconds())
	i.storedValueSize.Observe(float64(len(buf)))
	return err
}

func (i *instrumentedCache) Fetch(ctx context.Context, key string, allowStale bool) ([]byte, FetchStatus, error) {
	start := time.Now()
	buf, status, err := i.Cache.Fetch(ctx, key, allowStale)

	i.requestDuration.WithLabelValues("fetch", status.String()).Observe(time.Since(start).Seconds())
	if err == nil {
		i.fetchedValueSize.Observe(float64(len(buf)))
	}
	return buf, status, err
}
