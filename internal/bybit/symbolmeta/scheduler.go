package symbolmeta

import (
	"context"
	"time"

	"tsengine/internal/bybit/snapshot"
	"tsengine/internal/memorystore"
	"tsengine/pkg/calendar"

	"go.uber.org/zap"
)

// Job is one unit of daily maintenance.
type Job func(ctx context.Context, now time.Time)

// MidnightLoader runs its jobs at every UTC midnight.
type MidnightLoader struct {
	Jobs      []Job
	Immediate bool // also run once at start
	Logger    *zap.Logger
	Now       func() time.Time
}

func (m *MidnightLoader) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Run blocks until ctx is cancelled.
func (m *MidnightLoader) Run(ctx context.Context) error {
	if m.Immediate {
		m.runOnce(ctx)
	}
	for {
		wait := time.Until(nextMidnight(m.now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		m.runOnce(ctx)
	}
}

func (m *MidnightLoader) runOnce(ctx context.Context) {
	now := m.now()
	for _, job := range m.Jobs {
		if ctx.Err() != nil {
			return
		}
		job(ctx, now)
	}
	if m.Logger != nil {
		m.Logger.Info("daily jobs finished", zap.Int("jobs", len(m.Jobs)))
	}
}

// nextMidnight is the first UTC midnight strictly after t.
func nextMidnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// WarmCalendars builds each exchange's schedule out to now+horizon so stores
// loading later find it cached.
func WarmCalendars(cal *calendar.Cache, exchanges []string, horizon time.Duration, logger *zap.Logger) Job {
	return func(_ context.Context, now time.Time) {
		for _, ex := range exchanges {
			tok := cal.RequestCalendar(ex, now, now.Add(horizon))
			if tok == calendar.Always {
				continue
			}
			first, last, _ := cal.Covered(tok)
			cal.Release(tok)
			logger.Debug("calendar warmed",
				zap.String("exchange", ex),
				zap.String("token", string(tok)),
				zap.Time("first", first),
				zap.Time("last", last))
		}
	}
}

// RefreshSymbols reloads the symbol list and calls onNew for every symbol
// not seen before.
func RefreshSymbols(loader *snapshot.SymbolLoader, store *memorystore.MemorySymbolStore,
	onNew func(ctx context.Context, symbols []string)) Job {
	return func(ctx context.Context, _ time.Time) {
		ch := make(chan string, 100)
		go func() {
			if err := loader.LoadSymbols(ctx, ch); err != nil {
				loader.Logger.Warn("symbol refresh failed", zap.Error(err))
			}
		}()

		var added []string
		for symbol := range ch {
			if store.Add(symbol) {
				added = append(added, symbol)
			}
		}
		if len(added) > 0 && onNew != nil {
			onNew(ctx, added)
		}
	}
}
