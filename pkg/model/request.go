package model

import (
	"encoding/json"
	"fmt"
)

// QueryType selects which backend executes a composite query.
type QueryType string

const (
	QueryTypeBuilder       QueryType = "builder"
	QueryTypePromQL        QueryType = "promql"
	QueryTypeClickHouseSQL QueryType = "clickhouse_sql"
)

func (q QueryType) Validate() error {
	switch q {
	case QueryTypeBuilder, QueryTypePromQL, QueryTypeClickHouseSQL:
		return nil
	default:
		return fmt.Errorf("invalid query type: %s", q)
	}
}

// PanelType is the presentation mode of a query result. It constrains
// both the execution path (list and trace panels are row oriented) and
// result-shape validation (value panels allow a single series).
type PanelType string

const (
	PanelTypeGraph PanelType = "graph"
	PanelTypeValue PanelType = "value"
	PanelTypeList  PanelType = "list"
	PanelTypeTrace PanelType = "trace"
	PanelTypeTable PanelType = "table"
)

func (p PanelType) Validate() error {
	switch p {
	case PanelTypeGraph, PanelTypeValue, PanelTypeList, PanelTypeTrace, PanelTypeTable:
		return nil
	default:
		return fmt.Errorf("invalid panel type: %s", p)
	}
}

// DataSource names the signal a builder query runs against.
type DataSource string

const (
	DataSourceMetrics DataSource = "metrics"
	DataSourceLogs    DataSource = "logs"
	DataSourceTraces  DataSource = "traces"
)

// QueryRangeRequest is a composite time-range query. Start and End are
// milliseconds, Step is seconds.
type QueryRangeRequest struct {
	Start          int64                  `json:"start"`
	End            int64                  `json:"end"`
	Step           int64                  `json:"step"`
	CompositeQuery *CompositeQuery        `json:"compositeQuery"`
	Variables      map[string]interface{} `json:"variables,omitempty"`
	NoCache        bool                   `json:"noCache"`
}

func (r *QueryRangeRequest) Validate() error {
	if r.Start < 0 || r.End < 0 || r.Start > r.End {
		return fmt.Errorf("invalid time range [%d, %d]", r.Start, r.End)
	}
	if r.Step <= 0 {
		return fmt.Errorf("step must be positive, got %d", r.Step)
	}
	if r.CompositeQuery == nil {
		return fmt.Errorf("composite query is required")
	}
	return r.CompositeQuery.Validate()
}

// CompositeQuery bundles the named sub-queries of one request. Only the
// map matching QueryType is consulted.
type CompositeQuery struct {
	QueryType         QueryType                   `json:"queryType"`
	PanelType         PanelType                   `json:"panelType"`
	BuilderQueries    map[string]*BuilderQuery    `json:"builderQueries,omitempty"`
	PromQueries       map[string]*PromQuery       `json:"promQueries,omitempty"`
	ClickHouseQueries map[string]*ClickHouseQuery `json:"chQueries,omitempty"`
}

func (c *CompositeQuery) Validate() error {
	if err := c.QueryType.Validate(); err != nil {
		return err
	}
	if err := c.PanelType.Validate(); err != nil {
		return err
	}
	switch c.QueryType {
	case QueryTypeBuilder:
		if len(c.BuilderQueries) == 0 {
			return fmt.Errorf("builder queries are required for query type %s", c.QueryType)
		}
	case QueryTypePromQL:
		if len(c.PromQueries) == 0 {
			return fmt.Errorf("prom queries are required for query type %s", c.QueryType)
		}
	case QueryTypeClickHouseSQL:
		if len(c.ClickHouseQueries) == 0 {
			return fmt.Errorf("clickhouse queries are required for query type %s", c.QueryType)
		}
	}
	return nil
}

// EnabledQueries returns the number of sub-queries that take part in
// execution: non-disabled and, for builder queries, final (a query whose
// name equals its expression is a plotted result rather than an
// intermediate referenced by a formula).
func (c *CompositeQuery) EnabledQueries() int {
	count := 0
	switch c.QueryType {
	case QueryTypeBuilder:
		for name, q := range c.BuilderQueries {
			if !q.Disabled && name == q.Expression {
				count++
			}
		}
	case QueryTypePromQL:
		for _, q := range c.PromQueries {
			if !q.Disabled {
				count++
			}
		}
	case QueryTypeClickHouseSQL:
		for _, q := range c.ClickHouseQueries {
			if !q.Disabled {
				count++
			}
		}
	}
	return count
}

// BuilderQuery is one structured sub-query. Expression equals QueryName
// for final queries; formulas reference other queries by name.
type BuilderQuery struct {
	QueryName          string         `json:"queryName"`
	DataSource         DataSource     `json:"dataSource"`
	AggregateOperator  string         `json:"aggregateOperator,omitempty"`
	AggregateAttribute AttributeKey   `json:"aggregateAttribute"`
	GroupBy            []AttributeKey `json:"groupBy,omitempty"`
	Expression         string         `json:"expression"`
	Disabled           bool           `json:"disabled"`
	Legend             string         `json:"legend,omitempty"`
}

// PromQuery is a raw PromQL sub-query.
type PromQuery struct {
	Query    string `json:"query"`
	Disabled bool   `json:"disabled"`
}

// ClickHouseQuery is a raw analytical SQL sub-query.
type ClickHouseQuery struct {
	Query    string `json:"query"`
	Disabled bool   `json:"disabled"`
}

// UnmarshalJSON validates enum fields eagerly so malformed requests fail
// at the decode boundary rather than deep in the querier.
func (c *CompositeQuery) UnmarshalJSON(data []byte) error {
	type plain CompositeQuery
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = CompositeQuery(p)
	if c.QueryType == "" {
		return fmt.Errorf("queryType is required")
	}
	return c.QueryType.Validate()
}
