// Package querybuilder composes per-datasource translation functions
// into the QueryBuilder used by the querier. The translation functions
// themselves (structured query -> backend SQL) are injected, keeping
// query-text generation out of the orchestration core.
package querybuilder

import (
	"github.com/pkg/errors"

	"github.com/querent-io/querent/pkg/model"
	"github.com/querent-io/querent/pkg/queryerror"
)

// BuildQueryFn translates one builder sub-query restricted to the
// [start, end] window (milliseconds) into backend query text.
type BuildQueryFn func(start, end, step int64, q *model.BuilderQuery, keys map[string]model.AttributeKey) (string, error)

// Options carries one translation function per data source.
type Options struct {
	BuildMetricQuery BuildQueryFn
	BuildLogQuery    BuildQueryFn
	BuildTraceQuery  BuildQueryFn
}

// QueryBuilder resolves builder sub-queries to query text.
type QueryBuilder struct {
	opts Options
}

// New creates a QueryBuilder from options.
func New(opts Options) *QueryBuilder {
	return &QueryBuilder{opts: opts}
}

func (qb *QueryBuilder) buildFn(ds model.DataSource) BuildQueryFn {
	switch ds {
	case model.DataSourceMetrics:
		return qb.opts.BuildMetricQuery
	case model.DataSourceLogs:
		return qb.opts.BuildLogQuery
	case model.DataSourceTraces:
		return qb.opts.BuildTraceQuery
	default:
		return nil
	}
}

// BuildQuery resolves a single sub-query restricted to [start, end].
// Failures are translation errors: they identify the sub-query and
// abort before anything is executed.
func (qb *QueryBuilder) BuildQuery(req *model.QueryRangeRequest, queryName string, start, end int64, keys map[string]model.AttributeKey) (string, error) {
	builderQuery, ok := req.CompositeQuery.BuilderQueries[queryName]
	if !ok {
		return "", queryerror.NewTranslationError(queryName, errors.New("no such builder query"))
	}
	fn := qb.buildFn(builderQuery.DataSource)
	if fn == nil {
		return "", queryerror.NewTranslationError(queryName, errors.Errorf("no query builder for data source %q", builderQuery.DataSource))
	}
	query, err := fn(start, end, req.Step, builderQuery, keys)
	if err != nil {
		return "", queryerror.NewTranslationError(queryName, err)
	}
	return query, nil
}

// PrepareQueries resolves every enabled final sub-query over the full
// requested window. The first translation failure aborts the whole
// preparation; the row-oriented path has no use for a partial set.
func (qb *QueryBuilder) PrepareQueries(req *model.QueryRangeRequest, keys map[string]model.AttributeKey) (map[string]string, error) {
	queries := make(map[string]string)
	for queryName, builderQuery := range req.CompositeQuery.BuilderQueries {
		if builderQuery.Disabled || queryName != builderQuery.Expression {
			continue
		}
		query, err := qb.BuildQuery(req, queryName, req.Start, req.End, keys)
		if err != nil {
			return nil, err
		}
		queries[queryName] = query
	}
	return queries, nil
}
