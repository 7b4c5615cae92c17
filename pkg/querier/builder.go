package querier

import (
	"context"
	"sync"

	"github.com/querent-io/querent/pkg/model"
)

// runBuilderQueries fans out one unit per enabled final builder
// sub-query on the series-oriented cached path.
func (q *Querier) runBuilderQueries(ctx context.Context, req *model.QueryRangeRequest, keys map[string]model.AttributeKey) ([]*model.Result, map[string]error, error) {
	cacheKeys := q.generateCacheKeys(req)

	ch := make(chan channelResult, len(req.CompositeQuery.BuilderQueries))
	var wg sync.WaitGroup

	for queryName, builderQuery := range req.CompositeQuery.BuilderQueries {
		if builderQuery.Disabled || queryName != builderQuery.Expression {
			continue
		}
		wg.Add(1)
		go q.runBuilderQuery(ctx, req, queryName, keys, cacheKeys, ch, &wg)
	}

	wg.Wait()
	close(ch)

	return drainResults(ch, "builder")
}

func (q *Querier) runBuilderQuery(ctx context.Context, req *model.QueryRangeRequest, queryName string, keys map[string]model.AttributeKey, cacheKeys map[string]string, ch chan<- channelResult, wg *sync.WaitGroup) {
	defer wg.Done()
	q.metrics.queriesRun.WithLabelValues(string(model.QueryTypeBuilder)).Inc()

	series, err := q.runWithCache(ctx, queryName, req, cacheKeys, func(ctx context.Context, start, end int64) ([]*model.Series, error) {
		query, err := q.builder.BuildQuery(req, queryName, start, end, keys)
		if err != nil {
			return nil, err
		}
		return q.execSeriesQuery(ctx, query)
	})

	ch <- channelResult{Err: err, Name: queryName, Series: series}
}

func (q *Querier) generateCacheKeys(req *model.QueryRangeRequest) map[string]string {
	if q.keyGenerator == nil {
		return nil
	}
	return q.keyGenerator.GenerateKeys(req)
}
