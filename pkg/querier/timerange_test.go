package querier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/querent-io/querent/pkg/model"
)

func cachedSeries(timestamps ...int64) []*model.Series {
	series := &model.Series{Labels: map[string]string{"service": "api"}}
	for _, ts := range timestamps {
		series.Points = append(series.Points, model.Point{Timestamp: ts, Value: 1})
	}
	return []*model.Series{series}
}

func TestFindMissingTimeRanges(t *testing.T) {
	for _, tc := range []struct {
		name          string
		start, end    int64
		cached        []*model.Series
		expectMisses  []missInterval
		expectReplace bool
	}{
		{
			name:         "subset",
			start:        100,
			end:          200,
			cached:       cachedSeries(120, 150, 180),
			expectMisses: []missInterval{{start: 100, end: 119}, {start: 181, end: 200}},
		},
		{
			name:   "superset",
			start:  100,
			end:    200,
			cached: cachedSeries(50, 100, 200, 250),
		},
		{
			name:         "left overlap",
			start:        100,
			end:          200,
			cached:       cachedSeries(50, 100, 150),
			expectMisses: []missInterval{{start: 151, end: 200}},
		},
		{
			name:         "right overlap",
			start:        100,
			end:          200,
			cached:       cachedSeries(150, 200, 250),
			expectMisses: []missInterval{{start: 100, end: 149}},
		},
		{
			name:          "disjoint",
			start:         100,
			end:           200,
			cached:        cachedSeries(300, 400),
			expectMisses:  []missInterval{{start: 100, end: 200}},
			expectReplace: true,
		},
		{
			name:          "no cached data",
			start:         100,
			end:           200,
			cached:        nil,
			expectMisses:  []missInterval{{start: 100, end: 200}},
			expectReplace: true,
		},
		{
			name:   "single millisecond miss is dropped",
			start:  100,
			end:    200,
			cached: cachedSeries(101, 199),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			misses, replace := findMissingTimeRanges(tc.start, tc.end, 60, tc.cached, 0)
			require.Equal(t, tc.expectReplace, replace)
			require.Len(t, misses, len(tc.expectMisses))
			for i, expected := range tc.expectMisses {
				require.Equal(t, expected, misses[i])
			}
		})
	}
}

// The union of the returned misses together with the cached coverage
// must cover [start, end] exactly, with no overlap among misses.
func TestFindMissingTimeRangesCoversRequestedWindow(t *testing.T) {
	for _, tc := range []struct {
		name             string
		cachedTimestamps []int64
	}{
		{name: "subset", cachedTimestamps: []int64{120, 180}},
		{name: "left overlap", cachedTimestamps: []int64{80, 150}},
		{name: "right overlap", cachedTimestamps: []int64{150, 260}},
		{name: "disjoint", cachedTimestamps: []int64{700, 900}},
		{name: "empty", cachedTimestamps: nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const start, end = 100, 200
			misses, replace := findMissingTimeRanges(start, end, 60, cachedSeries(tc.cachedTimestamps...), 0)

			covered := make(map[int64]bool)
			for _, miss := range misses {
				require.Less(t, miss.start, miss.end)
				for ts := miss.start; ts <= miss.end; ts++ {
					require.False(t, covered[ts], "misses overlap at %d", ts)
					covered[ts] = true
				}
			}
			if !replace && len(tc.cachedTimestamps) > 0 {
				cachedStart, cachedEnd := tc.cachedTimestamps[0], tc.cachedTimestamps[0]
				for _, ts := range tc.cachedTimestamps {
					if ts < cachedStart {
						cachedStart = ts
					}
					if ts > cachedEnd {
						cachedEnd = ts
					}
				}
				for ts := max(cachedStart, start); ts <= min(cachedEnd, end); ts++ {
					covered[ts] = true
				}
			}
			for ts := int64(start); ts <= end; ts++ {
				require.True(t, covered[ts], "window not covered at %d", ts)
			}
		})
	}
}

// Cached data inside the flux interval is not trusted: the tail of the
// window must come back as a miss even when fully cached.
func TestFindMissingTimeRangesFluxInterval(t *testing.T) {
	const fluxInterval = 5 * time.Minute
	now := time.Now().UnixMilli()
	start := now - 30*time.Minute.Milliseconds()
	end := now

	series := &model.Series{Labels: map[string]string{}}
	for ts := start; ts <= end; ts += 60_000 {
		series.Points = append(series.Points, model.Point{Timestamp: ts, Value: 1})
	}

	misses, replace := findMissingTimeRanges(start, end, 60, []*model.Series{series}, fluxInterval)
	require.False(t, replace)
	require.Len(t, misses, 1)
	require.Equal(t, end, misses[0].end)
	// The miss must start around the flux boundary; allow a little slack
	// for the clock advancing between here and the call.
	require.LessOrEqual(t, misses[0].start, now-fluxInterval.Milliseconds()+time.Second.Milliseconds())
	require.GreaterOrEqual(t, misses[0].start, now-fluxInterval.Milliseconds()-time.Minute.Milliseconds())
}

// A cached payload that does not decode counts as fully absent and
// forces a replace.
func TestFindMissingTimeRangesCorruptPayload(t *testing.T) {
	q := New(Options{FluxInterval: 0})

	misses, replace := q.findMissingTimeRanges(100, 200, 60, []byte("not json"))
	require.True(t, replace)
	require.Equal(t, []missInterval{{start: 100, end: 200}}, misses)
}
