// Package querier orchestrates composite time-range queries: it
// dispatches sub-queries to the matching backend, fans them out
// concurrently, reconciles each cacheable sub-query against previously
// cached data so only missing sub-windows are fetched, and merges cached
// and fresh series into one consistent result set.
package querier

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/querent-io/querent/pkg/model"
	"github.com/querent-io/querent/pkg/queryerror"
	"github.com/querent-io/querent/pkg/storage/cache"
	"github.com/querent-io/querent/pkg/util/constants"
)

// channelResult is the tagged outcome one fan-out unit writes to the
// shared result channel. Err must be checked before Series or List.
type channelResult struct {
	Err    error
	Name   string
	Query  string
	Series []*model.Series
	List   []*model.Row
}

// ErrorPolicy filters the per-query error map before it is returned to
// the caller. It runs after fan-in, on the builder series path only.
type ErrorPolicy func(errQueriesByName map[string]error)

// RetainResourceLimitErrors drops every per-query error that is not a
// resource-limit error: internal failures are not actionable by the
// caller and are surfaced only through the overall error.
func RetainResourceLimitErrors(errQueriesByName map[string]error) {
	for name, err := range errQueriesByName {
		if !queryerror.IsResourceLimitError(err) {
			delete(errQueriesByName, name)
		}
	}
}

// Metrics holds the instrumentation of a Querier.
type Metrics struct {
	cacheHit   prometheus.Counter
	cacheMiss  prometheus.Counter
	queriesRun *prometheus.CounterVec
}

// NewMetrics creates metrics to be used in the querier.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		cacheHit: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: constants.Querent,
			Name:      "querier_cache_hit_total",
			Help:      "Total number of sub-queries that found cached data.",
		}),
		cacheMiss: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: constants.Querent,
			Name:      "querier_cache_miss_total",
			Help:      "Total number of sub-queries that found no cached data.",
		}),
		queriesRun: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: constants.Querent,
			Name:      "querier_queries_total",
			Help:      "Total number of sub-queries run, by query type.",
		}, []string{"type"}),
	}
}

// Options configures a Querier. Cache and KeyGenerator may be nil, in
// which case every request is fetched from the store in full.
type Options struct {
	Reader       Reader
	Builder      QueryBuilder
	Cache        cache.Cache
	KeyGenerator cache.KeyGenerator

	// FluxInterval is the trailing window before now that is never
	// served from cache because ingestion may still be catching up.
	FluxInterval time.Duration
	// CacheTTL bounds how long merged results stay cached.
	CacheTTL time.Duration

	// BuilderErrorPolicy filters per-query errors on the builder series
	// path. Defaults to RetainResourceLimitErrors.
	BuilderErrorPolicy ErrorPolicy

	Logger     log.Logger
	Metrics    *Metrics
	Registerer prometheus.Registerer
}

// Querier is the query orchestration entry point.
type Querier struct {
	reader       Reader
	builder      QueryBuilder
	cache        cache.Cache
	keyGenerator cache.KeyGenerator

	fluxInterval time.Duration
	cacheTTL     time.Duration

	builderErrorPolicy ErrorPolicy

	logger  log.Logger
	metrics *Metrics
}

// New creates a Querier from options.
func New(opts Options) *Querier {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(opts.Registerer)
	}
	if opts.BuilderErrorPolicy == nil {
		opts.BuilderErrorPolicy = RetainResourceLimitErrors
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = time.Hour
	}
	return &Querier{
		reader:             opts.Reader,
		builder:            opts.Builder,
		cache:              opts.Cache,
		keyGenerator:       opts.KeyGenerator,
		fluxInterval:       opts.FluxInterval,
		cacheTTL:           opts.CacheTTL,
		builderErrorPolicy: opts.BuilderErrorPolicy,
		logger:             opts.Logger,
		metrics:            opts.Metrics,
	}
}

// QueryRange runs every enabled sub-query of the request concurrently
// and returns one result per succeeding sub-query, a map of per-query
// errors and an overall error. Partial results are returned alongside a
// non-nil error on the series-oriented paths; the list path returns
// nothing on any failure.
func (q *Querier) QueryRange(ctx context.Context, req *model.QueryRangeRequest, keys map[string]model.AttributeKey) ([]*model.Result, map[string]error, error) {
	if req.CompositeQuery == nil {
		return nil, nil, errors.New("composite query is required")
	}

	var (
		results          []*model.Result
		errQueriesByName map[string]error
		err              error
	)

	switch req.CompositeQuery.QueryType {
	case model.QueryTypeBuilder:
		if req.CompositeQuery.PanelType == model.PanelTypeList || req.CompositeQuery.PanelType == model.PanelTypeTrace {
			results, errQueriesByName, err = q.runBuilderListQueries(ctx, req, keys)
		} else {
			results, errQueriesByName, err = q.runBuilderQueries(ctx, req, keys)
		}
		q.builderErrorPolicy(errQueriesByName)
	case model.QueryTypePromQL:
		results, errQueriesByName, err = q.runPromQueries(ctx, req)
	case model.QueryTypeClickHouseSQL:
		results, errQueriesByName, err = q.runClickHouseQueries(ctx, req)
	default:
		err = errors.Errorf("invalid query type: %s", req.CompositeQuery.QueryType)
	}

	if validationErr := q.validateValuePanel(req, results); validationErr != nil {
		err = validationErr
	}

	return results, errQueriesByName, err
}

// validateValuePanel enforces the cardinality of value panels: one
// enabled query, at most one series. The resulting error is fatal and
// distinct from backend errors, even when every sub-query succeeded.
func (q *Querier) validateValuePanel(req *model.QueryRangeRequest, results []*model.Result) error {
	if req.CompositeQuery.PanelType != model.PanelTypeValue {
		return nil
	}
	if len(results) > 1 && req.CompositeQuery.EnabledQueries() > 1 {
		return queryerror.NewValidationError("there can be only one active query for value type panel")
	}
	if len(results) == 1 && len(results[0].Series) > 1 {
		return queryerror.NewValidationError("there can be only one result series for value type panel but got %d", len(results[0].Series))
	}
	return nil
}

// drainResults performs the fan-in: it reads every tagged result from
// the closed channel, separating successes from per-query failures. A
// failing sub-query never aborts its siblings, so partial results come
// back alongside the per-name error map.
func drainResults(ch chan channelResult, queryKind string) ([]*model.Result, map[string]error, error) {
	results := make([]*model.Result, 0, cap(ch))
	errQueriesByName := make(map[string]error)

	for result := range ch {
		if result.Err != nil {
			errQueriesByName[result.Name] = result.Err
			continue
		}
		results = append(results, &model.Result{
			QueryName: result.Name,
			Series:    result.Series,
			List:      result.List,
		})
	}

	var err error
	if len(errQueriesByName) > 0 {
		err = errors.Errorf("error in %s queries", queryKind)
	}
	return results, errQueriesByName, err
}
