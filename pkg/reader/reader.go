// Package reader executes prepared queries against the backing stores:
// analytical SQL against ClickHouse, PromQL against a Prometheus
// compatible engine.
package reader

import (
	"context"
	"flag"

	"github.com/go-kit/log"

	"github.com/querent-io/querent/pkg/model"
	"github.com/querent-io/querent/pkg/querier"
)

// Config for building a Reader.
type Config struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Prom       PromConfig       `yaml:"prom"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.ClickHouse.RegisterFlagsWithPrefix("reader.", "", f)
	cfg.Prom.RegisterFlagsWithPrefix("reader.", "", f)
}

// Reader implements querier.Reader on top of ClickHouse and a PromQL
// engine.
type Reader struct {
	ch   *clickhouseClient
	prom *promClient
}

var _ querier.Reader = (*Reader)(nil)

// New builds a Reader from config.
func New(cfg Config, logger log.Logger) (*Reader, error) {
	ch, err := newClickHouseClient(cfg.ClickHouse, logger)
	if err != nil {
		return nil, err
	}
	prom, err := newPromClient(cfg.Prom, logger)
	if err != nil {
		return nil, err
	}
	return &Reader{ch: ch, prom: prom}, nil
}

// ExecuteSeriesQuery implements querier.Reader.
func (r *Reader) ExecuteSeriesQuery(ctx context.Context, query string) ([]*model.Series, error) {
	return r.ch.executeSeriesQuery(ctx, query)
}

// ExecuteRangeQuery implements querier.Reader.
func (r *Reader) ExecuteRangeQuery(ctx context.Context, params *querier.RangeParams) ([]*model.Series, error) {
	return r.prom.executeRangeQuery(ctx, params)
}

// ExecuteListQuery implements querier.Reader.
func (r *Reader) ExecuteListQuery(ctx context.Context, query string) ([]*model.Row, error) {
	return r.ch.executeListQuery(ctx, query)
}

// Close releases the underlying connections.
func (r *Reader) Close() {
	r.ch.close()
}
