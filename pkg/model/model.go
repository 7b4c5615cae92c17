package model

import (
	"sort"
	"time"
)

// Point is a single sample of a time series. Timestamp is in
// milliseconds since the epoch.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Series is one time series identified by its label set.
type Series struct {
	Labels map[string]string `json:"metric"`
	Points []Point           `json:"values"`
}

// SortPoints sorts the points of the series by timestamp ascending.
// The sort is stable so that points sharing a timestamp keep their
// insertion order.
func (s *Series) SortPoints() {
	sort.SliceStable(s.Points, func(i, j int) bool {
		return s.Points[i].Timestamp < s.Points[j].Timestamp
	})
}

// RemoveDuplicatePoints collapses adjacent points with equal timestamps
// into one, keeping the first occurrence. Callers are expected to sort
// first; together with the stable sort this makes the earlier-inserted
// value win on a timestamp collision.
func (s *Series) RemoveDuplicatePoints() {
	if len(s.Points) < 2 {
		return
	}
	out := s.Points[:1]
	for i := 1; i < len(s.Points); i++ {
		if s.Points[i].Timestamp != out[len(out)-1].Timestamp {
			out = append(out, s.Points[i])
		}
	}
	s.Points = out
}

// Row is a single row of a list or trace result.
type Row struct {
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Result holds the outcome of one named sub-query. Exactly one of
// Series or List is populated, depending on the panel type.
type Result struct {
	QueryName string    `json:"queryName"`
	Series    []*Series `json:"series,omitempty"`
	List      []*Row    `json:"list,omitempty"`
}

// AttributeKey describes a queryable attribute of the underlying store,
// used when resolving builder queries to query text.
type AttributeKey struct {
	Key      string `json:"key"`
	DataType string `json:"dataType"`
	Type     string `json:"type"`
	IsColumn bool   `json:"isColumn"`
}
