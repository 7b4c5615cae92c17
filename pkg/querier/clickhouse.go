package querier

import (
	"context"
	"sync"

	"github.com/go-kit/log/level"

	"github.com/querent-io/querent/pkg/model"
)

// execSeriesQuery executes analytical SQL and drops points with
// negative timestamps, a known data-quality defect of the source. The
// drop is logged, never fatal.
func (q *Querier) execSeriesQuery(ctx context.Context, query string) ([]*model.Series, error) {
	result, err := q.reader.ExecuteSeriesQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var droppedPoints int
	for idx := range result {
		series := result[idx]
		points := make([]model.Point, 0, len(series.Points))
		for pointIdx := range series.Points {
			point := series.Points[pointIdx]
			if point.Timestamp >= 0 {
				points = append(points, point)
			} else {
				droppedPoints++
			}
		}
		series.Points = points
	}
	if droppedPoints > 0 {
		level.Error(q.logger).Log("msg", "dropped points with negative timestamps", "query", query, "count", droppedPoints)
	}
	return result, nil
}

// runClickHouseQueries fans out one unit per enabled raw SQL sub-query.
// Raw SQL results are not cached: arbitrary SQL is opaque to the
// time-range reconciliation, so every sub-query executes once in full.
func (q *Querier) runClickHouseQueries(ctx context.Context, req *model.QueryRangeRequest) ([]*model.Result, map[string]error, error) {
	ch := make(chan channelResult, len(req.CompositeQuery.ClickHouseQueries))
	var wg sync.WaitGroup

	for queryName, chQuery := range req.CompositeQuery.ClickHouseQueries {
		if chQuery.Disabled {
			continue
		}
		wg.Add(1)
		go func(queryName string, chQuery *model.ClickHouseQuery) {
			defer wg.Done()
			q.metrics.queriesRun.WithLabelValues(string(model.QueryTypeClickHouseSQL)).Inc()

			series, err := q.execSeriesQuery(ctx, chQuery.Query)
			ch <- channelResult{Err: err, Name: queryName, Query: chQuery.Query, Series: series}
		}(queryName, chQuery)
	}

	wg.Wait()
	close(ch)

	return drainResults(ch, "clickhouse")
}
