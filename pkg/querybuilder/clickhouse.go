package querybuilder

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/querent-io/querent/pkg/model"
)

// Default translation functions over the standard ingestion schema.
// They cover the common aggregations; deployments with custom schemas
// inject their own BuildQueryFn instead.

var aggregateFuncs = map[string]string{
	"avg":   "avg",
	"sum":   "sum",
	"min":   "min",
	"max":   "max",
	"count": "count",
	"p50":   "quantile(0.50)",
	"p90":   "quantile(0.90)",
	"p99":   "quantile(0.99)",
}

func sqlAggregate(operator string) (string, error) {
	if operator == "" {
		return "avg", nil
	}
	fn, ok := aggregateFuncs[operator]
	if !ok {
		return "", errors.Errorf("unsupported aggregate operator %q", operator)
	}
	return fn, nil
}

func groupByColumns(q *model.BuilderQuery) (selectCols, groupCols string) {
	if len(q.GroupBy) == 0 {
		return "", ""
	}
	cols := make([]string, 0, len(q.GroupBy))
	for _, attr := range q.GroupBy {
		cols = append(cols, attr.Key)
	}
	joined := strings.Join(cols, ", ")
	return joined + ", ", ", " + joined
}

// BuildMetricQuery translates a metrics sub-query into aggregation SQL
// over the samples table, bucketed by step.
func BuildMetricQuery(start, end, step int64, q *model.BuilderQuery, _ map[string]model.AttributeKey) (string, error) {
	aggregate, err := sqlAggregate(q.AggregateOperator)
	if err != nil {
		return "", err
	}
	selectCols, groupCols := groupByColumns(q)
	return fmt.Sprintf(
		"SELECT %stoStartOfInterval(toDateTime(intDiv(ts, 1000)), INTERVAL %d SECOND) AS timestamp, %s(value) AS value"+
			" FROM metrics.samples WHERE metric_name = '%s' AND ts >= %d AND ts <= %d"+
			" GROUP BY timestamp%s ORDER BY timestamp",
		selectCols, step, aggregate, q.AggregateAttribute.Key, start, end, groupCols,
	), nil
}

// BuildLogQuery translates a logs sub-query into aggregation SQL over
// the logs table.
func BuildLogQuery(start, end, step int64, q *model.BuilderQuery, _ map[string]model.AttributeKey) (string, error) {
	aggregate, err := sqlAggregate(q.AggregateOperator)
	if err != nil {
		return "", err
	}
	selectCols, groupCols := groupByColumns(q)
	agg := fmt.Sprintf("%s(value)", aggregate)
	if aggregate == "count" {
		agg = "toFloat64(count(*))"
	}
	return fmt.Sprintf(
		"SELECT %stoStartOfInterval(toDateTime(intDiv(ts, 1000)), INTERVAL %d SECOND) AS timestamp, %s AS value"+
			" FROM logs.logs WHERE ts >= %d AND ts <= %d"+
			" GROUP BY timestamp%s ORDER BY timestamp",
		selectCols, step, agg, start, end, groupCols,
	), nil
}

// BuildTraceQuery translates a traces sub-query. List and trace panels
// select raw spans; aggregating panels bucket span durations by step.
func BuildTraceQuery(start, end, step int64, q *model.BuilderQuery, _ map[string]model.AttributeKey) (string, error) {
	if q.AggregateOperator == "" {
		return fmt.Sprintf(
			"SELECT timestamp, trace_id, span_id, name, duration_ns, service_name"+
				" FROM traces.spans WHERE ts >= %d AND ts <= %d ORDER BY timestamp DESC",
			start, end,
		), nil
	}
	aggregate, err := sqlAggregate(q.AggregateOperator)
	if err != nil {
		return "", err
	}
	selectCols, groupCols := groupByColumns(q)
	return fmt.Sprintf(
		"SELECT %stoStartOfInterval(toDateTime(intDiv(ts, 1000)), INTERVAL %d SECOND) AS timestamp, %s(duration_ns) AS value"+
			" FROM traces.spans WHERE ts >= %d AND ts <= %d"+
			" GROUP BY timestamp%s ORDER BY timestamp",
		selectCols, step, aggregate, start, end, groupCols,
	), nil
}
