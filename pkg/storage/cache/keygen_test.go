package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querent-io/querent/pkg/model"
)

func TestDefaultKeyGeneratorBuilderQueries(t *testing.T) {
	gen := NewDefaultKeyGenerator()

	req := &model.QueryRangeRequest{
		Start: 100,
		End:   200,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypeBuilder,
			PanelType: model.PanelTypeGraph,
			BuilderQueries: map[string]*model.BuilderQuery{
				"A": {
					QueryName:          "A",
					Expression:         "A",
					DataSource:         model.DataSourceMetrics,
					AggregateOperator:  "sum",
					AggregateAttribute: model.AttributeKey{Key: "http_requests_total"},
					GroupBy:            []model.AttributeKey{{Key: "service"}, {Key: "host"}},
				},
				"B":  {QueryName: "B", Expression: "B", Disabled: true},
				"F1": {QueryName: "F1", Expression: "A/2"},
			},
		},
	}

	keys := gen.GenerateKeys(req)
	require.Len(t, keys, 1)
	require.Contains(t, keys, "A")

	// Keys are independent of the requested window so cached points can
	// be reused as the window slides.
	shifted := *req
	shifted.Start, shifted.End = 500, 900
	require.Equal(t, keys, gen.GenerateKeys(&shifted))

	// Group-by order does not change the key.
	reordered := *req
	reordered.CompositeQuery = &model.CompositeQuery{
		QueryType: model.QueryTypeBuilder,
		PanelType: model.PanelTypeGraph,
		BuilderQueries: map[string]*model.BuilderQuery{
			"A": {
				QueryName:          "A",
				Expression:         "A",
				DataSource:         model.DataSourceMetrics,
				AggregateOperator:  "sum",
				AggregateAttribute: model.AttributeKey{Key: "http_requests_total"},
				GroupBy:            []model.AttributeKey{{Key: "host"}, {Key: "service"}},
			},
		},
	}
	require.Equal(t, keys["A"], gen.GenerateKeys(&reordered)["A"])

	// A different step is a different key.
	stepped := *req
	stepped.Step = 300
	require.NotEqual(t, keys["A"], gen.GenerateKeys(&stepped)["A"])
}

func TestDefaultKeyGeneratorPromQueries(t *testing.T) {
	gen := NewDefaultKeyGenerator()

	req := &model.QueryRangeRequest{
		Start: 100,
		End:   200,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypePromQL,
			PanelType: model.PanelTypeGraph,
			PromQueries: map[string]*model.PromQuery{
				"A": {Query: `sum(rate(http_requests_total[1m]))`},
				"B": {Query: `up`, Disabled: true},
			},
		},
	}

	keys := gen.GenerateKeys(req)
	require.Len(t, keys, 1)
	require.Contains(t, keys, "A")
}

func TestDefaultKeyGeneratorClickHouseQueriesNotCached(t *testing.T) {
	gen := NewDefaultKeyGenerator()

	req := &model.QueryRangeRequest{
		Start: 100,
		End:   200,
		Step:  60,
		CompositeQuery: &model.CompositeQuery{
			QueryType: model.QueryTypeClickHouseSQL,
			PanelType: model.PanelTypeGraph,
			ClickHouseQueries: map[string]*model.ClickHouseQuery{
				"A": {Query: "SELECT 1"},
			},
		},
	}

	require.Empty(t, gen.GenerateKeys(req))
}
