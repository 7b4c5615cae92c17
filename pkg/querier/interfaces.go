package querier

import (
	"context"

	"github.com/querent-io/querent/pkg/model"
)

// RangeParams restricts a PromQL query to a sub-window. Start and End
// are milliseconds, Step is seconds.
type RangeParams struct {
	Query string
	Start int64
	End   int64
	Step  int64
}

// Reader executes prepared queries against the underlying stores. All
// implementations must be safe for concurrent use; one QueryRange call
// issues many reads in parallel.
type Reader interface {
	// ExecuteSeriesQuery runs analytical SQL returning time series.
	ExecuteSeriesQuery(ctx context.Context, query string) ([]*model.Series, error)
	// ExecuteRangeQuery evaluates a PromQL range query.
	ExecuteRangeQuery(ctx context.Context, params *RangeParams) ([]*model.Series, error)
	// ExecuteListQuery runs analytical SQL returning rows.
	ExecuteListQuery(ctx context.Context, query string) ([]*model.Row, error)
}

// QueryBuilder translates builder sub-queries into backend query text.
type QueryBuilder interface {
	// PrepareQueries resolves every enabled final sub-query of the
	// request to query text over the full requested window.
	PrepareQueries(req *model.QueryRangeRequest, keys map[string]model.AttributeKey) (map[string]string, error)
	// BuildQuery resolves a single sub-query restricted to the
	// [start, end] sub-window, both in milliseconds.
	BuildQuery(req *model.QueryRangeRequest, queryName string, start, end int64, keys map[string]model.AttributeKey) (string, error)
}
