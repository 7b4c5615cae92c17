package querier

import (
	"context"
	"sync"

	"github.com/grafana/dskit/multierror"
	"github.com/pkg/errors"

	"github.com/querent-io/querent/pkg/model"
)

// runBuilderListQueries is the row-oriented path for list and trace
// panels. Rows are not mergeable time series, so there is no caching;
// all sub-queries are first resolved to query text and a single
// translation failure aborts the call before any fan-out. Unlike the
// series paths, this one does not tolerate partial failure: any failing
// unit makes the call return no results at all.
func (q *Querier) runBuilderListQueries(ctx context.Context, req *model.QueryRangeRequest, keys map[string]model.AttributeKey) ([]*model.Result, map[string]error, error) {
	queries, err := q.builder.PrepareQueries(req, keys)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan channelResult, len(queries))
	var wg sync.WaitGroup

	for name, query := range queries {
		wg.Add(1)
		go func(name, query string) {
			defer wg.Done()
			q.metrics.queriesRun.WithLabelValues(string(model.QueryTypeBuilder)).Inc()

			rowList, err := q.reader.ExecuteListQuery(ctx, query)
			if err != nil {
				ch <- channelResult{Err: errors.Wrapf(err, "error in query %q", name), Name: name, Query: query}
				return
			}
			ch <- channelResult{List: rowList, Name: name, Query: query}
		}(name, query)
	}

	wg.Wait()
	close(ch)

	results := make([]*model.Result, 0, len(queries))
	errQueriesByName := make(map[string]error)
	var errs multierror.MultiError

	for result := range ch {
		if result.Err != nil {
			errs.Add(result.Err)
			errQueriesByName[result.Name] = result.Err
			continue
		}
		results = append(results, &model.Result{
			QueryName: result.Name,
			List:      result.List,
		})
	}

	if len(errs) > 0 {
		return nil, errQueriesByName, errors.Wrap(errs.Err(), "encountered multiple errors")
	}
	return results, nil, nil
}
