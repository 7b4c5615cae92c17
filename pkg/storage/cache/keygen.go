package cache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/querent-io/querent/pkg/model"
)

// KeyGenerator derives one cache key per cacheable sub-query of a
// request. A sub-query absent from the returned map is not cached.
type KeyGenerator interface {
	GenerateKeys(req *model.QueryRangeRequest) map[string]string
}

// HashKey returns a memcached-safe fixed-length form of key.
func HashKey(key string) string {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(key))
	return strconv.FormatUint(hasher.Sum64(), 36)
}

// DefaultKeyGenerator derives keys from the sub-query shape and step,
// deliberately excluding the requested time range so that a key stays
// stable as the window slides and cached points can be reused.
type DefaultKeyGenerator struct{}

func NewDefaultKeyGenerator() KeyGenerator {
	return DefaultKeyGenerator{}
}

// GenerateKeys implements KeyGenerator. Builder queries are keyed only
// when final and enabled; formulas and intermediate expressions are
// recomputed from their inputs. ClickHouse SQL results are never cached
// since arbitrary SQL is not mergeable by time window.
func (DefaultKeyGenerator) GenerateKeys(req *model.QueryRangeRequest) map[string]string {
	keys := make(map[string]string)
	if req.CompositeQuery == nil {
		return keys
	}

	switch req.CompositeQuery.QueryType {
	case model.QueryTypeBuilder:
		for name, q := range req.CompositeQuery.BuilderQueries {
			if q.Disabled || name != q.Expression {
				continue
			}
			parts := []string{
				"builder",
				string(q.DataSource),
				q.AggregateOperator,
				q.AggregateAttribute.Key,
				fmt.Sprintf("%d", req.Step),
			}
			groupBy := make([]string, 0, len(q.GroupBy))
			for _, attr := range q.GroupBy {
				groupBy = append(groupBy, attr.Key)
			}
			sort.Strings(groupBy)
			parts = append(parts, groupBy...)
			keys[name] = strings.Join(parts, "-")
		}
	case model.QueryTypePromQL:
		for name, q := range req.CompositeQuery.PromQueries {
			if q.Disabled {
				continue
			}
			keys[name] = fmt.Sprintf("promql-%s-%d", q.Query, req.Step)
		}
	}
	return keys
}
