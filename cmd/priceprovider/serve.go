package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flarenet/ftso-feed-provider/internal/adapter"
	"github.com/flarenet/ftso-feed-provider/internal/cache"
	"github.com/flarenet/ftso-feed-provider/internal/config"
	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/failover"
	"github.com/flarenet/ftso-feed-provider/internal/httpapi"
	"github.com/flarenet/ftso-feed-provider/internal/metrics"
	"github.com/flarenet/ftso-feed-provider/internal/monitor"
	"github.com/flarenet/ftso-feed-provider/internal/orchestrator"
	"github.com/flarenet/ftso-feed-provider/internal/ratelimit"
	"github.com/flarenet/ftso-feed-provider/internal/sources"
	"github.com/flarenet/ftso-feed-provider/internal/validator"
	"github.com/flarenet/ftso-feed-provider/internal/warmer"
)

func runServe(cmd *cobra.Command, args []string) error {
	configDir, _ := cmd.Flags().GetString("config-dir")

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Logger

	c := cache.New(cfg.Cache, logger)
	defer c.Close()

	var orch *orchestrator.Orchestrator
	v := validator.New(cfg.Validator, func(symbol string) (float64, []string, bool) {
		return orch.RecentMedian(symbol)
	}, logger)

	fc := failover.New(cfg.Failover, logger)

	feeds := make([]domain.FeedId, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		cat, ok := domain.ParseCategory(f.Category)
		if !ok {
			return fmt.Errorf("feed %q: unrecognized category %q", f.Name, f.Category)
		}
		feed, err := domain.NewFeedId(cat, f.Name)
		if err != nil {
			return fmt.Errorf("feed %q: %w", f.Name, err)
		}
		feeds = append(feeds, feed)
	}

	w := warmer.New(cfg.Warmer, c, func(ctx context.Context, feed domain.FeedId) (any, error) {
		return feedFetcher(orch)(ctx, feed)
	}, logger)

	orch = orchestrator.New(orchestrator.DefaultConfig(), c, v, cfg.Aggregator, w, fc, logger)
	for _, feed := range feeds {
		orch.RegisterFeed(feed)
	}

	adapters, err := buildAdapters(cfg, feeds, fc, logger)
	if err != nil {
		return fmt.Errorf("build adapters: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	defer limiter.Close()

	mon := monitor.New(512, func() (float64, int64, int64) {
		st := c.GetStats()
		return st.HitRate, st.MemoryUsage, st.Entries
	}, monitor.DefaultThresholds())

	reg := prometheus.NewRegistry()
	mreg := metrics.NewRegistry(reg)

	serverCfg := httpapi.DefaultServerConfig()
	serverCfg.ListenAddr = cfg.Server.ListenAddr
	server := httpapi.NewServer(serverCfg, orch, c, limiter, cfg.RateLimit, fc, w, mon, mreg, reg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()

	for _, a := range adapters {
		wg.Add(1)
		go func(a *adapterRun) {
			defer wg.Done()
			runAdapterPipeline(ctx, a, orch, v, fc, logger)
		}(a)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server exited with error")
			cancel()
			return err
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	cancel()
	orch.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.Server.GracefulShutdownTimeout):
		log.Warn().Msg("timed out waiting for background loops to stop")
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// feedFetcher adapts the orchestrator's current-query path into the warmer's
// DataSourceCallback shape, so a cache-warming pass re-reads the latest
// aggregate rather than hitting a source directly.
func feedFetcher(orch *orchestrator.Orchestrator) warmer.DataSourceCallback {
	return func(_ context.Context, feed domain.FeedId) (any, error) {
		ap, ok := orch.Query(feed)
		if !ok {
			return nil, fmt.Errorf("no current aggregate for %s", feed)
		}
		return ap, nil
	}
}

type adapterRun struct {
	id      string
	adapter *adapter.Adapter
	symbols []string
}

// buildAdapters constructs one Adapter per enabled, recognized source,
// subscribing it to the base/quote symbols of every configured feed. A
// source's configured categories are not consulted: every source is asked
// for every feed's symbol.
func buildAdapters(cfg *config.Config, feeds []domain.FeedId, fc *failover.Coordinator, logger zerolog.Logger) ([]*adapterRun, error) {
	symbolsByFeed := make(map[string]bool)
	for _, f := range feeds {
		symbolsByFeed[f.Name] = true
	}
	symbols := make([]string, 0, len(symbolsByFeed))
	for s := range symbolsByFeed {
		symbols = append(symbols, s)
	}

	var runs []*adapterRun
	for _, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}
		parse, ok := sources.ParseFunc(sc.Id)
		if !ok {
			log.Warn().Str("source", sc.Id).Msg("no wire-format glue for source, skipping")
			continue
		}
		subscribe, _ := sources.SubscribeFunc(sc.Id)

		for _, feed := range feeds {
			fc.RegisterCandidates(feed, []string{sc.Id})
		}

		a := adapter.New(
			adapter.DefaultConfig(sc.Id, sc.WSURL),
			sources.Capability(sc.Id),
			adapter.NewGorillaDialer(),
			parse,
			subscribe,
			logger,
		)
		runs = append(runs, &adapterRun{id: sc.Id, adapter: a, symbols: symbols})
	}
	return runs, nil
}

// runAdapterPipeline feeds one adapter's update/error streams into the
// validator, orchestrator, and failover coordinator until ctx is cancelled.
func runAdapterPipeline(ctx context.Context, a *adapterRun, orch *orchestrator.Orchestrator, v *validator.Validator, fc *failover.Coordinator, logger zerolog.Logger) {
	updates := a.adapter.Updates()
	errs := a.adapter.Errors()

	go func() {
		if err := a.adapter.Run(ctx, a.symbols); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Str("source", a.id).Msg("adapter run loop exited")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			result := v.Validate(u)
			if !result.IsValid {
				fc.RecordError(a.id, fmt.Errorf("validation rejected update for %s", u.Symbol))
				continue
			}
			fc.RecordSuccess(a.id)
			resolved := result.Resolved(u)
			feed, err := domain.NewFeedId(domain.CategoryCrypto, resolved.Symbol)
			if err != nil {
				continue
			}
			orch.IngestUpdate(feed, resolved)
		case e, ok := <-errs:
			if !ok {
				continue
			}
			fc.RecordError(a.id, e.Err)
		}
	}
}
