package reader

import (
	"context"
	"flag"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	pmodel "github.com/prometheus/common/model"

	"github.com/querent-io/querent/pkg/model"
	"github.com/querent-io/querent/pkg/querier"
)

// PromConfig defines the PromQL engine endpoint.
type PromConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *PromConfig) RegisterFlagsWithPrefix(prefix, description string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, prefix+"prom.url", "http://127.0.0.1:9090", description+"Base URL of the PromQL engine.")
	f.DurationVar(&cfg.Timeout, prefix+"prom.timeout", 30*time.Second, description+"Timeout applied to range queries.")
}

type promClient struct {
	api     v1.API
	timeout time.Duration
	logger  log.Logger
}

func newPromClient(cfg PromConfig, logger log.Logger) (*promClient, error) {
	client, err := api.NewClient(api.Config{Address: cfg.URL})
	if err != nil {
		return nil, errors.Wrap(err, "creating prometheus client")
	}
	return &promClient{
		api:     v1.NewAPI(client),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// executeRangeQuery evaluates the query over the sub-window and converts
// the matrix into the internal series representation.
func (p *promClient) executeRangeQuery(ctx context.Context, params *querier.RangeParams) ([]*model.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	value, warnings, err := p.api.QueryRange(ctx, params.Query, v1.Range{
		Start: time.UnixMilli(params.Start),
		End:   time.UnixMilli(params.End),
		Step:  time.Duration(params.Step) * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "prom range query")
	}
	if len(warnings) > 0 {
		level.Warn(p.logger).Log("msg", "prom range query returned warnings", "query", params.Query, "warnings", len(warnings))
	}

	matrix, ok := value.(pmodel.Matrix)
	if !ok {
		return nil, errors.Errorf("unexpected prom result type %q, want matrix", value.Type())
	}
	return matrixToSeries(matrix), nil
}
