package querier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/querent-io/querent/pkg/model"
	"github.com/querent-io/querent/pkg/queryerror"
	"github.com/querent-io/querent/pkg/storage/cache"
)

type mockReader struct {
	mtx sync.Mutex

	seriesQueries []string
	rangeParams   []*RangeParams
	listQueries   []string

	seriesFn func(query string) ([]*model.Series, error)
	rangeFn  func(params *RangeParams) ([]*model.Series, error)
	listFn   func(query string) ([]*model.Row, error)
}

func (m *mockReader) ExecuteSeriesQuery(_ context.Context, query string) ([]*model.Series, error) {
	m.mtx.Lock()
	m.seriesQueries = append(m.seriesQueries, query)
	m.mtx.Unlock()
	return m.seriesFn(query)
}

func (m *mockReader) ExecuteRangeQuery(_ context.Context, params *RangeParams) ([]*model.Series, error) {
	m.mtx.Lock()
	m.rangeParams = append(m.rangeParams, params)
	m.mtx.Unlock()
	return m.rangeFn(params)
}

func (m *mockReader) ExecuteListQuery(_ context.Context, query string) ([]*model.Row, error) {
	m.mtx.Lock()
	m.listQueries = append(m.listQueries, query)
	m.mtx.Unlock()
	return m.listFn(query)
}

func (m *mockReader) rangeCalls() []*RangeParams {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]*RangeParams(nil), m.rangeParams...)
}

type mockBuilder struct {
	prepareErr error
}

func (m *mockBuilder) PrepareQueries(req *model.QueryRangeRequest, _ map[string]model.AttributeKey) (map[string]string, error) {
	if m.prepareErr != nil {
		return nil, queryerror.NewTranslationError("A", m.prepareErr)
	}
	queries := make(map[string]string)
	for name, q := range req.CompositeQuery.BuilderQueries {
		if q.Disabled || name != q.Expression {
			continue
		}
		queries[name] = "SELECT " + name
	}
	return queries, nil
}

func (m *mockBuilder) BuildQuery(_ *model.QueryRangeRequest, queryName string, _, _ int64, _ map[string]model.AttributeKey) (string, error) {
	return "SELECT " + queryName, nil
}

func singlePointSeries(value float64) []*model.Series {
	return []*model.Series{{
		Labels: map[string]string{"service": "api"},
		Points: []model.Point{{Timestamp: 10, Value: value}},
	}}
}

func chRequest(queries map[string]*model.ClickHouseQuery, panelType model.PanelType) *model.QueryRangeRequest {
	return &model.QueryRangeRequest{
		Start: 100,
		End:   200,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType:         model.QueryTypeClickHouseSQL,
			PanelType:         panelType,
			ClickHouseQueries: queries,
		},
	}
}

func TestQueryRangeFanOutIsolation(t *testing.T) {
	reader := &mockReader{
		seriesFn: func(query string) ([]*model.Series, error) {
			if strings.Contains(query, "B") {
				return nil, errors.New("connection reset")
			}
			return singlePointSeries(1), nil
		},
	}
	q := New(Options{Reader: reader})

	req := chRequest(map[string]*model.ClickHouseQuery{
		"A": {Query: "SELECT A"},
		"B": {Query: "SELECT B"},
		"C": {Query: "SELECT C"},
	}, model.PanelTypeGraph)

	results, errQueriesByName, err := q.QueryRange(context.Background(), req, nil)
	require.Error(t, err)
	require.Len(t, results, 2)
	require.Len(t, errQueriesByName, 1)
	require.Contains(t, errQueriesByName, "B")
}

func TestQueryRangeDisabledQueriesAreSkipped(t *testing.T) {
	reader := &mockReader{
		seriesFn: func(string) ([]*model.Series, error) { return singlePointSeries(1), nil },
	}
	q := New(Options{Reader: reader})

	req := chRequest(map[string]*model.ClickHouseQuery{
		"A": {Query: "SELECT A"},
		"B": {Query: "SELECT B", Disabled: true},
	}, model.PanelTypeGraph)

	results, errQueriesByName, err := q.QueryRange(context.Background(), req, nil)
	require.NoError(t, err)
	require.Empty(t, errQueriesByName)
	require.Len(t, results, 1)
	require.Equal(t, "A", results[0].QueryName)
}

func TestQueryRangeNegativeTimestampsAreDropped(t *testing.T) {
	reader := &mockReader{
		seriesFn: func(string) ([]*model.Series, error) {
			return []*model.Series{{
				Labels: map[string]string{"service": "api"},
				Points: []model.Point{{Timestamp: -5, Value: 1}, {Timestamp: 10, Value: 2}},
			}}, nil
		},
	}
	q := New(Options{Reader: reader})

	req := chRequest(map[string]*model.ClickHouseQuery{"A": {Query: "SELECT A"}}, model.PanelTypeGraph)

	results, _, err := q.QueryRange(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []model.Point{{Timestamp: 10, Value: 2}}, results[0].Series[0].Points)
}

func TestQueryRangeValuePanelCardinality(t *testing.T) {
	t.Run("two enabled queries", func(t *testing.T) {
		reader := &mockReader{
			seriesFn: func(string) ([]*model.Series, error) { return singlePointSeries(1), nil },
		}
		q := New(Options{Reader: reader})

		req := chRequest(map[string]*model.ClickHouseQuery{
			"A": {Query: "SELECT A"},
			"B": {Query: "SELECT B"},
		}, model.PanelTypeValue)

		_, _, err := q.QueryRange(context.Background(), req, nil)
		require.Error(t, err)
		require.True(t, queryerror.IsValidationError(err))
	})

	t.Run("single query with two series", func(t *testing.T) {
		reader := &mockReader{
			seriesFn: func(string) ([]*model.Series, error) {
				return []*model.Series{
					{Labels: map[string]string{"service": "api"}, Points: []model.Point{{Timestamp: 10, Value: 1}}},
					{Labels: map[string]string{"service": "db"}, Points: []model.Point{{Timestamp: 10, Value: 2}}},
				}, nil
			},
		}
		q := New(Options{Reader: reader})

		req := chRequest(map[string]*model.ClickHouseQuery{"A": {Query: "SELECT A"}}, model.PanelTypeValue)

		_, _, err := q.QueryRange(context.Background(), req, nil)
		require.Error(t, err)
		require.True(t, queryerror.IsValidationError(err))
	})

	t.Run("single query with one series", func(t *testing.T) {
		reader := &mockReader{
			seriesFn: func(string) ([]*model.Series, error) { return singlePointSeries(1), nil },
		}
		q := New(Options{Reader: reader})

		req := chRequest(map[string]*model.ClickHouseQuery{"A": {Query: "SELECT A"}}, model.PanelTypeValue)

		_, _, err := q.QueryRange(context.Background(), req, nil)
		require.NoError(t, err)
	})
}

// Internal errors on the builder series path are suppressed from the
// per-query map; resource-limit errors survive. The overall error stays
// non-nil either way.
func TestQueryRangeBuilderErrorPolicy(t *testing.T) {
	reader := &mockReader{
		seriesFn: func(query string) ([]*model.Series, error) {
			switch {
			case strings.Contains(query, "A"):
				return nil, errors.New("some internal failure")
			case strings.Contains(query, "B"):
				return nil, queryerror.NewResourceLimitError(errors.New("query scanned too many rows"))
			}
			return singlePointSeries(1), nil
		},
	}
	q := New(Options{Reader: reader, Builder: &mockBuilder{}})

	req := &model.QueryRangeRequest{
		Start:   100,
		End:     200,
		Step:    60,
		NoCache: true,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypeBuilder,
			PanelType: model.PanelTypeGraph,
			BuilderQueries: map[string]*model.BuilderQuery{
				"A": {QueryName: "A", Expression: "A", DataSource: model.DataSourceMetrics},
				"B": {QueryName: "B", Expression: "B", DataSource: model.DataSourceMetrics},
				"C": {QueryName: "C", Expression: "C", DataSource: model.DataSourceMetrics},
			},
		},
	}

	results, errQueriesByName, err := q.QueryRange(context.Background(), req, nil)
	require.Error(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "C", results[0].QueryName)
	require.Len(t, errQueriesByName, 1)
	require.True(t, queryerror.IsResourceLimitError(errQueriesByName["B"]))
}

// Intermediate builder queries (expression != name) never execute on
// their own.
func TestQueryRangeBuilderSkipsIntermediateQueries(t *testing.T) {
	reader := &mockReader{
		seriesFn: func(string) ([]*model.Series, error) { return singlePointSeries(1), nil },
	}
	q := New(Options{Reader: reader, Builder: &mockBuilder{}})

	req := &model.QueryRangeRequest{
		Start:   100,
		End:     200,
		Step:    60,
		NoCache: true,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypeBuilder,
			PanelType: model.PanelTypeGraph,
			BuilderQueries: map[string]*model.BuilderQuery{
				"A":  {QueryName: "A", Expression: "A", DataSource: model.DataSourceMetrics},
				"F1": {QueryName: "F1", Expression: "A/2", DataSource: model.DataSourceMetrics},
			},
		},
	}

	results, _, err := q.QueryRange(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "A", results[0].QueryName)
}

func TestQueryRangeListPathAllOrNothing(t *testing.T) {
	reader := &mockReader{
		listFn: func(query string) ([]*model.Row, error) {
			if strings.Contains(query, "B") {
				return nil, errors.New("boom")
			}
			return []*model.Row{{Timestamp: time.UnixMilli(100), Data: map[string]interface{}{"body": "hello"}}}, nil
		},
	}
	q := New(Options{Reader: reader, Builder: &mockBuilder{}})

	req := &model.QueryRangeRequest{
		Start: 100,
		End:   200,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypeBuilder,
			PanelType: model.PanelTypeList,
			BuilderQueries: map[string]*model.BuilderQuery{
				"A": {QueryName: "A", Expression: "A", DataSource: model.DataSourceLogs},
				"B": {QueryName: "B", Expression: "B", DataSource: model.DataSourceLogs},
			},
		},
	}

	results, errQueriesByName, err := q.QueryRange(context.Background(), req, nil)
	require.Error(t, err)
	require.Nil(t, results)
	require.Len(t, errQueriesByName, 1)
	require.Contains(t, errQueriesByName, "B")
}

func TestQueryRangeListPathTranslationFailureAborts(t *testing.T) {
	reader := &mockReader{
		listFn: func(string) ([]*model.Row, error) {
			t.Fatal("reader must not be called when translation fails")
			return nil, nil
		},
	}
	q := New(Options{Reader: reader, Builder: &mockBuilder{prepareErr: errors.New("bad expression")}})

	req := &model.QueryRangeRequest{
		Start: 100,
		End:   200,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypeBuilder,
			PanelType: model.PanelTypeTrace,
			BuilderQueries: map[string]*model.BuilderQuery{
				"A": {QueryName: "A", Expression: "A", DataSource: model.DataSourceTraces},
			},
		},
	}

	results, errQueriesByName, err := q.QueryRange(context.Background(), req, nil)
	require.Error(t, err)
	require.True(t, queryerror.IsTranslationError(err))
	require.Nil(t, results)
	require.Nil(t, errQueriesByName)
}

func TestQueryRangeInvalidQueryType(t *testing.T) {
	q := New(Options{})
	req := &model.QueryRangeRequest{
		Start: 100,
		End:   200,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType: "bogus",
			PanelType: model.PanelTypeGraph,
		},
	}
	_, _, err := q.QueryRange(context.Background(), req, nil)
	require.Error(t, err)
}

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c := cache.NewEmbeddedCache("test", cache.EmbeddedCacheConfig{
		MaxEntries: 16,
		TTL:        time.Hour,
	}, nil, log.NewNopLogger())
	t.Cleanup(c.Stop)
	return c
}

func promRequest(start, end int64) *model.QueryRangeRequest {
	return &model.QueryRangeRequest{
		Start: start,
		End:   end,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypePromQL,
			PanelType: model.PanelTypeGraph,
			PromQueries: map[string]*model.PromQuery{
				"A": {Query: `sum(rate(http_requests_total[1m]))`},
			},
		},
	}
}

// pointsInWindow returns one point per minute within [start, end].
func pointsInWindow(start, end int64) []*model.Series {
	series := &model.Series{Labels: map[string]string{"job": "api"}}
	for ts := start; ts <= end; ts += 60_000 {
		series.Points = append(series.Points, model.Point{Timestamp: ts, Value: float64(ts)})
	}
	return []*model.Series{series}
}

// A second identical request must be answered entirely from cache.
func TestQueryRangePromUsesCache(t *testing.T) {
	reader := &mockReader{
		rangeFn: func(params *RangeParams) ([]*model.Series, error) {
			return pointsInWindow(params.Start, params.End), nil
		},
	}
	q := New(Options{
		Reader:       reader,
		Cache:        newTestCache(t),
		KeyGenerator: cache.NewDefaultKeyGenerator(),
		FluxInterval: 0,
	})

	// Windows far in the past so the flux boundary does not interfere.
	const start, end = int64(60_000), int64(180_000)

	results, errQueriesByName, err := q.QueryRange(context.Background(), promRequest(start, end), nil)
	require.NoError(t, err)
	require.Empty(t, errQueriesByName)
	require.Len(t, results, 1)
	require.Len(t, reader.rangeCalls(), 1)
	firstPoints := results[0].Series[0].Points

	results, _, err = q.QueryRange(context.Background(), promRequest(start, end), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, firstPoints, results[0].Series[0].Points)
	// No further backend call: the cached window is a superset.
	require.Len(t, reader.rangeCalls(), 1)
}

// Extending the window fetches only the missing tail and merges it with
// the cached points.
func TestQueryRangePromFetchesOnlyMissingWindow(t *testing.T) {
	reader := &mockReader{
		rangeFn: func(params *RangeParams) ([]*model.Series, error) {
			return pointsInWindow(params.Start, params.End), nil
		},
	}
	q := New(Options{
		Reader:       reader,
		Cache:        newTestCache(t),
		KeyGenerator: cache.NewDefaultKeyGenerator(),
		FluxInterval: 0,
	})

	_, _, err := q.QueryRange(context.Background(), promRequest(60_000, 180_000), nil)
	require.NoError(t, err)

	results, _, err := q.QueryRange(context.Background(), promRequest(60_000, 300_000), nil)
	require.NoError(t, err)

	calls := reader.rangeCalls()
	require.Len(t, calls, 2)
	// The second fetch starts right after the cached coverage.
	require.Equal(t, int64(180_001), calls[1].Start)
	require.Equal(t, int64(300_000), calls[1].End)

	// The merged series covers the whole requested window without
	// duplicate timestamps.
	points := results[0].Series[0].Points
	seen := make(map[int64]bool)
	for _, p := range points {
		require.False(t, seen[p.Timestamp])
		seen[p.Timestamp] = true
	}
	require.True(t, seen[60_000])
	require.True(t, seen[180_000])
	require.True(t, seen[300_000])
}

// A request disjoint from the cached window replaces the cached data
// instead of merging with it.
func TestQueryRangePromDisjointWindowReplacesCache(t *testing.T) {
	reader := &mockReader{
		rangeFn: func(params *RangeParams) ([]*model.Series, error) {
			return pointsInWindow(params.Start, params.End), nil
		},
	}
	q := New(Options{
		Reader:       reader,
		Cache:        newTestCache(t),
		KeyGenerator: cache.NewDefaultKeyGenerator(),
		FluxInterval: 0,
	})

	_, _, err := q.QueryRange(context.Background(), promRequest(60_000, 180_000), nil)
	require.NoError(t, err)

	results, _, err := q.QueryRange(context.Background(), promRequest(600_000, 720_000), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	for _, p := range results[0].Series[0].Points {
		require.GreaterOrEqual(t, p.Timestamp, int64(600_000))
	}
}

// NoCache bypasses both fetch and store.
func TestQueryRangeNoCacheBypassesCache(t *testing.T) {
	reader := &mockReader{
		rangeFn: func(params *RangeParams) ([]*model.Series, error) {
			return pointsInWindow(params.Start, params.End), nil
		},
	}
	q := New(Options{
		Reader:       reader,
		Cache:        newTestCache(t),
		KeyGenerator: cache.NewDefaultKeyGenerator(),
		FluxInterval: 0,
	})

	req := promRequest(60_000, 180_000)
	req.NoCache = true

	_, _, err := q.QueryRange(context.Background(), req, nil)
	require.NoError(t, err)
	_, _, err = q.QueryRange(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, reader.rangeCalls(), 2)
}

// A failing sub-window fetch fails the whole sub-query, not the whole
// request.
func TestQueryRangePromPartialFailure(t *testing.T) {
	reader := &mockReader{
		rangeFn: func(params *RangeParams) ([]*model.Series, error) {
			if strings.Contains(params.Query, "errors_total") {
				return nil, errors.New("promql engine unavailable")
			}
			return pointsInWindow(params.Start, params.End), nil
		},
	}
	q := New(Options{Reader: reader})

	req := &model.QueryRangeRequest{
		Start: 60_000,
		End:   180_000,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypePromQL,
			PanelType: model.PanelTypeGraph,
			PromQueries: map[string]*model.PromQuery{
				"A": {Query: `sum(rate(http_requests_total[1m]))`},
				"B": {Query: `sum(rate(errors_total[1m]))`},
			},
		},
	}

	results, errQueriesByName, err := q.QueryRange(context.Background(), req, nil)
	require.Error(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "A", results[0].QueryName)
	require.Len(t, errQueriesByName, 1)
	require.Contains(t, errQueriesByName, "B")
}
