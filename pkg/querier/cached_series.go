package querier

import (
	"context"
	"encoding/json"

	"github.com/go-kit/log/level"

	"github.com/querent-io/querent/pkg/model"
	"github.com/querent-io/querent/pkg/storage/cache"
)

// fetchFn fetches fresh series for one sub-window; start and end are
// milliseconds.
type fetchFn func(ctx context.Context, start, end int64) ([]*model.Series, error)

// runWithCache is the cache-aware fetch shared by the series-oriented
// paths. It looks up previously cached series for the sub-query,
// computes which sub-windows are missing, fetches exactly those through
// fetch, merges cached and fresh data and writes the merged set back.
//
// Cache retrieval and store failures are never fatal: the worst case is
// fetching the full window from the store. A failing sub-window fetch,
// however, fails the whole sub-query.
func (q *Querier) runWithCache(ctx context.Context, queryName string, req *model.QueryRangeRequest, cacheKeys map[string]string, fetch fetchFn) ([]*model.Series, error) {
	cacheKey, hasKey := cacheKeys[queryName]
	useCache := !req.NoCache && q.cache != nil && hasKey

	var cachedData []byte
	if useCache {
		data, status, err := q.cache.Fetch(ctx, cache.HashKey(cacheKey), true)
		level.Debug(q.logger).Log("msg", "cache fetch", "query", queryName, "status", status)
		if err == nil {
			q.metrics.cacheHit.Inc()
			cachedData = data
		} else {
			q.metrics.cacheMiss.Inc()
		}
	}

	misses, replaceCachedData := q.findMissingTimeRanges(req.Start, req.End, req.Step, cachedData)

	missedSeries := make([]*model.Series, 0)
	for _, miss := range misses {
		series, err := fetch(ctx, miss.start, miss.end)
		if err != nil {
			return nil, err
		}
		missedSeries = append(missedSeries, series...)
	}

	cachedSeries := make([]*model.Series, 0)
	if err := json.Unmarshal(cachedData, &cachedSeries); err != nil && cachedData != nil {
		// The reconciler already degraded a corrupt payload to a full
		// miss, so landing here means the payload changed under us.
		level.Error(q.logger).Log("msg", "error unmarshalling cached data", "query", queryName, "err", err)
	}

	mergedSeries := mergeSeries(cachedSeries, missedSeries)
	if replaceCachedData {
		mergedSeries = missedSeries
	}

	if len(missedSeries) > 0 && useCache {
		mergedData, err := json.Marshal(mergedSeries)
		if err != nil {
			level.Error(q.logger).Log("msg", "error marshalling merged series", "query", queryName, "err", err)
			return mergedSeries, nil
		}
		if err := q.cache.Store(ctx, cache.HashKey(cacheKey), mergedData, q.cacheTTL); err != nil {
			level.Error(q.logger).Log("msg", "error storing merged series", "query", queryName, "err", err)
		}
	}

	return mergedSeries, nil
}
