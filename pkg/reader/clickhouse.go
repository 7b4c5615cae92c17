package reader

import (
	"context"
	"flag"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"

	"github.com/querent-io/querent/pkg/model"
	"github.com/querent-io/querent/pkg/queryerror"
)

// ClickHouseConfig defines how the analytical store connection is
// constructed.
type ClickHouseConfig struct {
	Addresses    string         `yaml:"addresses"`
	Database     string         `yaml:"database"`
	Username     string         `yaml:"username"`
	Password     flagext.Secret `yaml:"password"`
	DialTimeout  time.Duration  `yaml:"dial_timeout"`
	MaxOpenConns int            `yaml:"max_open_conns"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *ClickHouseConfig) RegisterFlagsWithPrefix(prefix, description string, f *flag.FlagSet) {
	f.StringVar(&cfg.Addresses, prefix+"clickhouse.addresses", "127.0.0.1:9000", description+"Comma separated list of clickhouse addresses.")
	f.StringVar(&cfg.Database, prefix+"clickhouse.database", "default", description+"Database to connect to.")
	f.StringVar(&cfg.Username, prefix+"clickhouse.username", "default", description+"Username for clickhouse authentication.")
	f.Var(&cfg.Password, prefix+"clickhouse.password", description+"Password for clickhouse authentication.")
	f.DurationVar(&cfg.DialTimeout, prefix+"clickhouse.dial-timeout", 5*time.Second, description+"Timeout for establishing connections.")
	f.IntVar(&cfg.MaxOpenConns, prefix+"clickhouse.max-open-conns", 10, description+"Maximum number of open connections.")
}

type clickhouseClient struct {
	conn   clickhouse.Conn
	logger log.Logger
}

func newClickHouseClient(cfg ClickHouseConfig, logger log.Logger) (*clickhouseClient, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: strings.Split(cfg.Addresses, ","),
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password.String(),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		Compression:  &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening clickhouse connection")
	}
	return &clickhouseClient{conn: conn, logger: logger}, nil
}

// Resource-limit exception codes: TOO_MANY_ROWS, TIMEOUT_EXCEEDED,
// TOO_SLOW, MEMORY_LIMIT_EXCEEDED, TOO_MANY_ROWS_OR_BYTES.
var resourceLimitCodes = map[int32]struct{}{
	158: {},
	159: {},
	160: {},
	241: {},
	396: {},
}

// wrapQueryError classifies clickhouse exceptions so limit rejections
// surface to callers as actionable resource-limit errors.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}
	var exc *clickhouse.Exception
	if errors.As(err, &exc) {
		if _, ok := resourceLimitCodes[exc.Code]; ok {
			return queryerror.NewResourceLimitError(err)
		}
	}
	return err
}

// executeSeriesQuery runs SQL expected to yield a timestamp column, a
// float value column and any number of string label columns, and groups
// the rows into one series per label set.
func (c *clickhouseClient) executeSeriesQuery(ctx context.Context, query string) ([]*model.Series, error) {
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	defer rows.Close()

	columnTypes := rows.ColumnTypes()
	columnNames := rows.Columns()
	vars := make([]interface{}, len(columnTypes))
	for i := range columnTypes {
		vars[i] = reflect.New(columnTypes[i].ScanType()).Interface()
	}

	seriesByLabels := make(map[string]*model.Series)
	order := make([]string, 0)
	for rows.Next() {
		if err := rows.Scan(vars...); err != nil {
			return nil, errors.Wrap(err, "scanning series row")
		}
		labels, point, err := parseSeriesRow(columnNames, vars)
		if err != nil {
			return nil, err
		}
		signature := seriesSignature(labels)
		series, ok := seriesByLabels[signature]
		if !ok {
			series = &model.Series{Labels: labels}
			seriesByLabels[signature] = series
			order = append(order, signature)
		}
		series.Points = append(series.Points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(err)
	}

	result := make([]*model.Series, 0, len(order))
	for _, signature := range order {
		result = append(result, seriesByLabels[signature])
	}
	return result, nil
}

// executeListQuery runs SQL returning arbitrary rows.
func (c *clickhouseClient) executeListQuery(ctx context.Context, query string) ([]*model.Row, error) {
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	defer rows.Close()

	columnTypes := rows.ColumnTypes()
	columnNames := rows.Columns()
	vars := make([]interface{}, len(columnTypes))
	for i := range columnTypes {
		vars[i] = reflect.New(columnTypes[i].ScanType()).Interface()
	}

	var result []*model.Row
	for rows.Next() {
		if err := rows.Scan(vars...); err != nil {
			return nil, errors.Wrap(err, "scanning list row")
		}
		result = append(result, parseListRow(columnNames, vars))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(err)
	}
	return result, nil
}

func (c *clickhouseClient) close() {
	if err := c.conn.Close(); err != nil {
		level.Warn(c.logger).Log("msg", "error closing clickhouse connection", "err", err)
	}
}
