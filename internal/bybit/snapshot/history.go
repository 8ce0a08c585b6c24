package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tsengine/config"
	"tsengine/internal/memorystore"
	"tsengine/pkg/bybit"
	"tsengine/pkg/series"
	"tsengine/pkg/timeframe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	SourceREST    = "rest"
	SourceArchive = "archive"
)

var ErrNoHistory = errors.New("no usable history")

type KlineSource interface {
	GetKlines(ctx context.Context, category, symbol, interval string, start, end time.Time) ([]bybit.Kline, error)
}

// Archive serves previously stored bars when the exchange cannot.
type Archive interface {
	History(ctx context.Context, symbol string, tf timeframe.TF, from, to time.Time) ([]map[string]any, error)
}

type Recorder interface {
	series.Recorder
	HistoryLoaded(source string)
}

// HistoryLoader seeds one bar store per symbol from recent klines.
type HistoryLoader struct {
	Cfg      *config.Config
	REST     KlineSource
	Archive  Archive // optional
	Calendar series.Calendar
	Stores   *memorystore.SeriesStore
	Recorder Recorder // optional
	Logger   *zap.Logger
	Now      func() time.Time
}

func (l *HistoryLoader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Load fetches symbol's history, builds its store and installs it. REST is
// tried first; the archive covers for it when REST fails or comes back short.
func (l *HistoryLoader) Load(ctx context.Context, symbol string) error {
	interval := l.Cfg.Bybit.WS.Interval
	meta, err := bybit.ParseKlineInterval(interval)
	if err != nil {
		return err
	}
	logger := l.Logger.With(zap.String("symbol", symbol))
	end := l.now().UTC()
	start := end.Add(-l.Cfg.Bybit.History)

	fields, source, err := l.fetch(ctx, symbol, interval, meta.TF, start, end, logger)
	if err != nil {
		return err
	}

	opts := series.Options{
		Primary:           true,
		WhitespaceBuffer:  l.Cfg.Series.WhitespaceBuffer,
		WhitespaceOverlap: l.Cfg.Series.WhitespaceOverlap,
		Logger:            logger,
	}
	if l.Recorder != nil {
		opts.Recorder = l.Recorder
	}
	st := series.NewStore(l.Calendar, opts)

	res, err := st.Load(fields, l.Cfg.Series.Exchange)
	switch {
	case res == series.Degenerate && err != nil:
		return fmt.Errorf("load %s: %w", symbol, err)
	case res == series.Degenerate:
		return fmt.Errorf("load %s: %w", symbol, ErrNoHistory)
	case err != nil:
		logger.Warn("history loaded without whitespace", zap.Error(err))
	}

	l.Stores.Put(symbol, st)
	if l.Recorder != nil {
		l.Recorder.HistoryLoaded(source)
	}
	logger.Info("history loaded",
		zap.String("source", source),
		zap.Int("bars", st.Len()),
		zap.String("timeframe", st.Timeframe().String()))
	return nil
}

func (l *HistoryLoader) fetch(ctx context.Context, symbol, interval string, tf timeframe.TF,
	start, end time.Time, logger *zap.Logger) ([]map[string]any, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, l.Cfg.Bybit.REST.Timeout)
	klines, err := l.REST.GetKlines(reqCtx, l.Cfg.Bybit.Category, symbol, interval, start, end)
	cancel()
	if err == nil && len(klines) >= 2 {
		return bybit.KlineFields(klines), SourceREST, nil
	}
	if err != nil {
		logger.Warn("failed to fetch kline from REST", zap.Error(err))
	} else {
		logger.Warn("REST returned too few klines", zap.Int("count", len(klines)))
	}

	if l.Archive == nil {
		if err == nil {
			err = ErrNoHistory
		}
		return nil, "", fmt.Errorf("history %s: %w", symbol, err)
	}
	fields, aerr := l.Archive.History(ctx, symbol, tf, start, end)
	if aerr != nil {
		return nil, "", fmt.Errorf("history %s: %w", symbol, errors.Join(err, aerr))
	}
	return fields, SourceArchive, nil
}

// LoadAll loads every symbol with at most concurrency loads in flight and
// returns how many succeeded. Per-symbol failures are logged.
func (l *HistoryLoader) LoadAll(ctx context.Context, symbols []string, concurrency int) int {
	if concurrency <= 0 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)

	results := make([]bool, len(symbols))
	for i, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := l.Load(ctx, symbol); err != nil {
				l.Logger.Warn("finished with errors for symbol", zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	loaded := 0
	for _, ok := range results {
		if ok {
			loaded++
		}
	}
	return loaded
}
