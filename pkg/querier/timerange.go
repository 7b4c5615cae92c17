package querier

import (
	"encoding/json"
	"math"
	"time"

	"github.com/querent-io/querent/pkg/model"
)

// missInterval is a sub-window of the requested range, in milliseconds,
// not covered by valid cached data.
type missInterval struct {
	start, end int64
}

// findMissingTimeRanges classifies the cached coverage against the
// requested [start, end] window and returns the sub-windows that must be
// fetched from the store. The trailing fluxInterval before now is never
// trusted from cache: data there may not be fully ingested yet, so the
// cached end is capped below it and the tail is re-fetched.
//
// replaceCachedData signals that the cached contents are disjoint from
// the request and should be discarded instead of merged.
func findMissingTimeRanges(start, end, step int64, seriesList []*model.Series, fluxInterval time.Duration) (misses []missInterval, replaceCachedData bool) {
	var cachedStart, cachedEnd int64
	for idx := range seriesList {
		series := seriesList[idx]
		for pointIdx := range series.Points {
			point := series.Points[pointIdx]
			if cachedStart == 0 || point.Timestamp < cachedStart {
				cachedStart = point.Timestamp
			}
			if cachedEnd == 0 || point.Timestamp > cachedEnd {
				cachedEnd = point.Timestamp
			}
		}
	}

	// Round now down to the step (capped at a minute) so the flux
	// boundary is stable within a scrape interval.
	nowMillis := time.Now().UnixMilli()
	adjustStep := int64(math.Min(float64(step), 60))
	roundedMillis := nowMillis - (nowMillis % (adjustStep * 1000))

	cachedEnd = int64(
		math.Min(
			float64(cachedEnd),
			float64(roundedMillis-fluxInterval.Milliseconds()),
		),
	)

	// The cached window relates to the requested one in exactly one of
	// five ways, checked in priority order.
	switch {
	case cachedStart >= start && cachedEnd <= end:
		// Subset: fetch both sides around the cached window.
		misses = append(misses, missInterval{start: start, end: cachedStart - 1})
		misses = append(misses, missInterval{start: cachedEnd + 1, end: end})
	case cachedStart <= start && cachedEnd >= end:
		// Superset: everything is covered.
	case cachedStart <= start && cachedEnd >= start:
		// Left overlap: fetch the right side.
		misses = append(misses, missInterval{start: cachedEnd + 1, end: end})
	case cachedStart <= end && cachedEnd >= end:
		// Right overlap: fetch the left side.
		misses = append(misses, missInterval{start: start, end: cachedStart - 1})
	default:
		// Disjoint: fetch everything and drop the cached data.
		misses = append(misses, missInterval{start: start, end: end})
		replaceCachedData = true
	}

	// Degenerate intervals fall out of the subset case when there is no
	// cached data at all; drop them. A miss with start == end (a
	// single-millisecond window) counts as degenerate too.
	valid := misses[:0]
	for _, miss := range misses {
		if miss.start < miss.end {
			valid = append(valid, miss)
		}
	}
	return valid, replaceCachedData
}

// findMissingTimeRanges decodes the cached payload and delegates to the
// range computation. A payload that does not decode is treated as fully
// absent: the whole request is one miss and the cache entry gets
// replaced by whatever is fetched.
func (q *Querier) findMissingTimeRanges(start, end, step int64, cachedData []byte) (misses []missInterval, replaceCachedData bool) {
	var cachedSeriesList []*model.Series
	if err := json.Unmarshal(cachedData, &cachedSeriesList); err != nil {
		return []missInterval{{start: start, end: end}}, true
	}
	return findMissingTimeRanges(start, end, step, cachedSeriesList, q.fluxInterval)
}
