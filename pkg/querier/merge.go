package querier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/querent-io/querent/pkg/model"
)

// labelsToString returns the canonical signature of a label set, with
// keys sorted so the signature is independent of map iteration order.
func labelsToString(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]string, len(keys))
	for i, k := range keys {
		kvs[i] = k + "=" + labels[k]
	}
	return fmt.Sprintf("{%s}", strings.Join(kvs, ","))
}

// mergeSeries combines cached and freshly fetched series into one
// deduplicated, time-ordered set keyed by label signature. Cached series
// seed the map and missed points are appended after, so on a timestamp
// collision the cached value wins (dedup keeps the first point after a
// stable sort). The order of the returned series is not deterministic.
func mergeSeries(cachedSeries, missedSeries []*model.Series) []*model.Series {
	seriesByLabels := make(map[string]*model.Series)
	for idx := range cachedSeries {
		series := cachedSeries[idx]
		seriesByLabels[labelsToString(series.Labels)] = series
	}

	for idx := range missedSeries {
		series := missedSeries[idx]
		signature := labelsToString(series.Labels)
		existing, ok := seriesByLabels[signature]
		if !ok {
			seriesByLabels[signature] = series
			continue
		}
		existing.Points = append(existing.Points, series.Points...)
	}

	merged := make([]*model.Series, 0, len(seriesByLabels))
	for _, series := range seriesByLabels {
		series.SortPoints()
		series.RemoveDuplicatePoints()
		merged = append(merged, series)
	}
	return merged
}
