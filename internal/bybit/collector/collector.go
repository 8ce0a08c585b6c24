package collector

import (
	"context"
	"fmt"
	"time"

	"tsengine/config"
	"tsengine/internal/bybit/snapshot"
	"tsengine/internal/bybit/stream"
	"tsengine/internal/bybit/symbolmeta"
	"tsengine/internal/memorystore"
	"tsengine/internal/metrics"
	"tsengine/pkg/bybit"
	"tsengine/pkg/calendar"
	"tsengine/pkg/storage/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const reportInterval = 30 * time.Second

// StartCollector runs the Bybit pipeline until ctx is cancelled: symbols are
// listed over REST, each gets a bar store seeded from recent klines, and the
// kline stream keeps the stores current while confirmed bars are archived.
func StartCollector(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cal, err := calendar.NewCache(calendar.Options{
		Padding:         cfg.Calendar.Padding,
		ExpandIncrement: cfg.Calendar.ExpandIncrement,
		MaxAttempts:     cfg.Calendar.MaxAttempts,
		Logger:          logger,
		Recorder:        m,
	})
	if err != nil {
		return fmt.Errorf("calendar cache: %w", err)
	}
	warm := symbolmeta.WarmCalendars(cal, cfg.Calendar.WarmExchanges, cfg.Calendar.WarmHorizon, logger)
	warm(ctx, time.Now())

	var (
		historyArchive snapshot.Archive
		streamArchive  stream.Archive
	)
	if cfg.Postgres.Enabled {
		pg, err := postgres.InitializeAndMigrate(ctx, cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer pg.Close()
		historyArchive, streamArchive = pg, pg
	}

	restClient := bybit.NewRESTClient(cfg.Bybit.REST.BaseURL, cfg.Bybit.REST.Timeout)
	symbolStore := memorystore.NewSymbolStore()
	stores := memorystore.NewSeriesStore()

	symbolLoader := &snapshot.SymbolLoader{Cfg: cfg.Bybit, Source: restClient, Logger: logger}
	history := &snapshot.HistoryLoader{
		Cfg:      cfg,
		REST:     restClient,
		Archive:  historyArchive,
		Calendar: cal,
		Stores:   stores,
		Recorder: m,
		Logger:   logger,
	}

	symbolCh := make(chan string, 100)
	done := symbolStore.StartWorker(symbolCh)
	if err := symbolLoader.LoadSymbols(ctx, symbolCh); err != nil {
		return fmt.Errorf("failed to load symbols: %w", err)
	}
	<-done

	symbols := symbolStore.GetAll()
	loaded := history.LoadAll(ctx, symbols, cfg.Bybit.Concurrency)
	logger.Info("initial history loaded", zap.Int("symbols", len(symbols)), zap.Int("loaded", loaded))

	interval := cfg.Bybit.WS.Interval
	wsClient := bybit.NewWSClient(cfg.Bybit.WS.URL, func() []string {
		return symbolStore.GetKlineTopics(interval)
	}, logger)
	wsClient.SetPingInterval(cfg.Bybit.WS.PingInterval)
	wsClient.SetMessageHandler(stream.MakeMessageHandler(ctx, logger, stores, streamArchive, m))

	scheduler := &symbolmeta.MidnightLoader{
		Logger: logger,
		Jobs: []symbolmeta.Job{
			warm,
			symbolmeta.RefreshSymbols(symbolLoader, symbolStore, func(ctx context.Context, added []string) {
				history.LoadAll(ctx, added, cfg.Bybit.Concurrency)
				topics := make([]string, len(added))
				for i, s := range added {
					topics[i] = fmt.Sprintf("kline.%s.%s", interval, s)
				}
				if err := wsClient.Subscribe(topics); err != nil {
					logger.Warn("failed to subscribe new symbols", zap.Error(err))
				}
			}),
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger) })
	}
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Bybit.WS.Timeout)
		err := wsClient.Connect(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("websocket connect: %w", err)
		}
		return wsClient.Listen(ctx)
	})
	g.Go(func() error {
		report(ctx, stores, logger)
		return nil
	})

	return g.Wait()
}

// report periodically logs the stored bar count for visibility.
func report(ctx context.Context, stores *memorystore.SeriesStore, logger *zap.Logger) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("current stored bars", zap.Int("count", stores.CountAll()))
		}
	}
}
