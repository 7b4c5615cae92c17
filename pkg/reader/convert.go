package reader

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	pmodel "github.com/prometheus/common/model"

	"github.com/querent-io/querent/pkg/model"
)

// Column names carrying the sample of a series row; every other column
// is treated as a label dimension.
const (
	timestampColumn = "timestamp"
	valueColumn     = "value"
)

func seriesSignature(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte(',')
	}
	return sb.String()
}

// parseSeriesRow splits one scanned row into its label set and sample.
// The scanned values are pointers produced from the driver's scan types.
func parseSeriesRow(names []string, vars []interface{}) (map[string]string, model.Point, error) {
	labels := make(map[string]string)
	var point model.Point
	var haveTimestamp, haveValue bool

	for i, name := range names {
		switch v := vars[i].(type) {
		case *time.Time:
			point.Timestamp = v.UnixMilli()
			haveTimestamp = true
		case *float64:
			if name == valueColumn {
				point.Value = *v
				haveValue = true
			} else {
				labels[name] = fmt.Sprintf("%v", *v)
			}
		case *int64:
			if name == timestampColumn {
				point.Timestamp = *v
				haveTimestamp = true
			} else {
				labels[name] = fmt.Sprintf("%d", *v)
			}
		case *uint64:
			if name == timestampColumn {
				point.Timestamp = int64(*v)
				haveTimestamp = true
			} else {
				labels[name] = fmt.Sprintf("%d", *v)
			}
		case *string:
			labels[name] = *v
		default:
			labels[name] = fmt.Sprintf("%v", reflectValue(vars[i]))
		}
	}

	if !haveTimestamp || !haveValue {
		return nil, point, errors.Errorf("series query must return %q and %q columns", timestampColumn, valueColumn)
	}
	return labels, point, nil
}

// parseListRow converts one scanned row into a generic row, keeping the
// timestamp column separate from the data map.
func parseListRow(names []string, vars []interface{}) *model.Row {
	row := &model.Row{Data: make(map[string]interface{})}
	for i, name := range names {
		if v, ok := vars[i].(*time.Time); ok && name == timestampColumn {
			row.Timestamp = *v
			continue
		}
		row.Data[name] = reflectValue(vars[i])
	}
	return row
}

// reflectValue dereferences the pointer the driver scanned into.
func reflectValue(v interface{}) interface{} {
	switch p := v.(type) {
	case *string:
		return *p
	case *int64:
		return *p
	case *uint64:
		return *p
	case *float64:
		return *p
	case *bool:
		return *p
	case *time.Time:
		return *p
	default:
		return v
	}
}

// matrixToSeries converts a PromQL matrix into the internal series
// representation.
func matrixToSeries(matrix pmodel.Matrix) []*model.Series {
	seriesList := make([]*model.Series, 0, len(matrix))
	for _, stream := range matrix {
		series := &model.Series{
			Labels: make(map[string]string, len(stream.Metric)),
			Points: make([]model.Point, 0, len(stream.Values)),
		}
		for name, value := range stream.Metric {
			series.Labels[string(name)] = string(value)
		}
		for _, sample := range stream.Values {
			series.Points = append(series.Points, model.Point{
				Timestamp: int64(sample.Timestamp),
				Value:     float64(sample.Value),
			})
		}
		seriesList = append(seriesList, series)
	}
	return seriesList
}
