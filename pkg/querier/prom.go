package querier

import (
	"context"
	"sync"

	"github.com/querent-io/querent/pkg/model"
)

// runPromQueries fans out one unit per enabled PromQL sub-query. Each
// unit goes through the cache-aware fetch with the query restricted to
// the missing sub-windows.
func (q *Querier) runPromQueries(ctx context.Context, req *model.QueryRangeRequest) ([]*model.Result, map[string]error, error) {
	cacheKeys := q.generateCacheKeys(req)

	ch := make(chan channelResult, len(req.CompositeQuery.PromQueries))
	var wg sync.WaitGroup

	for queryName, promQuery := range req.CompositeQuery.PromQueries {
		if promQuery.Disabled {
			continue
		}
		wg.Add(1)
		go func(queryName string, promQuery *model.PromQuery) {
			defer wg.Done()
			q.metrics.queriesRun.WithLabelValues(string(model.QueryTypePromQL)).Inc()

			series, err := q.runWithCache(ctx, queryName, req, cacheKeys, func(ctx context.Context, start, end int64) ([]*model.Series, error) {
				return q.reader.ExecuteRangeQuery(ctx, &RangeParams{
					Query: promQuery.Query,
					Start: start,
					End:   end,
					Step:  req.Step,
				})
			})

			ch <- channelResult{Err: err, Name: queryName, Query: promQuery.Query, Series: series}
		}(queryName, promQuery)
	}

	wg.Wait()
	close(ch)

	return drainResults(ch, "prom")
}
