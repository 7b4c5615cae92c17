package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/querent-io/querent/pkg/api"
	"github.com/querent-io/querent/pkg/querier"
	"github.com/querent-io/querent/pkg/querybuilder"
	"github.com/querent-io/querent/pkg/reader"
	"github.com/querent-io/querent/pkg/storage/cache"
)

type config struct {
	listenAddr   string
	logLevel     string
	fluxInterval time.Duration
	cacheTTL     time.Duration

	cache  cache.Config
	reader reader.Config
}

func (c *config) registerFlags(f *flag.FlagSet) {
	f.StringVar(&c.listenAddr, "server.http-listen-address", ":8080", "HTTP listen address.")
	f.StringVar(&c.logLevel, "log.level", "info", "Log level: debug, info, warn, error.")
	f.DurationVar(&c.fluxInterval, "querier.flux-interval", 5*time.Minute, "Trailing window before now that is never served from cache.")
	f.DurationVar(&c.cacheTTL, "querier.cache-ttl", time.Hour, "How long merged query results stay cached.")
	c.cache.RegisterFlagsWithPrefix("querier.", "", f)
	c.reader.RegisterFlags(f)
}

func newLogger(logLevel string) log.Logger {
	var opt level.Option
	switch logLevel {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func main() {
	var cfg config
	cfg.registerFlags(flag.CommandLine)
	flag.Parse()

	logger := newLogger(cfg.logLevel)

	var (
		queryCache cache.Cache
		keyGen     cache.KeyGenerator
	)
	if cache.IsCacheConfigured(cfg.cache) {
		var err error
		queryCache, err = cache.New(cfg.cache, prometheus.DefaultRegisterer, logger)
		if err != nil {
			level.Error(logger).Log("msg", "failed to create cache", "err", err)
			os.Exit(1)
		}
		defer queryCache.Stop()
		keyGen = cache.NewDefaultKeyGenerator()
	} else {
		level.Warn(logger).Log("msg", "no cache configured, every query will hit the store in full")
	}

	storeReader, err := reader.New(cfg.reader, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create reader", "err", err)
		os.Exit(1)
	}
	defer storeReader.Close()

	q := querier.New(querier.Options{
		Reader: storeReader,
		Builder: querybuilder.New(querybuilder.Options{
			BuildMetricQuery: querybuilder.BuildMetricQuery,
			BuildLogQuery:    querybuilder.BuildLogQuery,
			BuildTraceQuery:  querybuilder.BuildTraceQuery,
		}),
		Cache:        queryCache,
		KeyGenerator: keyGen,
		FluxInterval: cfg.fluxInterval,
		CacheTTL:     cfg.cacheTTL,
		Logger:       logger,
		Registerer:   prometheus.DefaultRegisterer,
	})

	router := mux.NewRouter()
	api.New(q, logger).RegisterRoutes(router)

	server := &http.Server{
		Addr:    cfg.listenAddr,
		Handler: router,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		level.Info(logger).Log("msg", "server listening", "addr", cfg.listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "server exited with error: %v\n", err)
		os.Exit(1)
	}
}
