package snapshot

import (
	"context"

	"tsengine/config"

	"go.uber.org/zap"
)

// SymbolSource lists the instruments available for collection.
type SymbolSource interface {
	GetUSDTAltcoinSymbols(ctx context.Context) ([]string, error)
}

type SymbolLoader struct {
	Cfg    config.BybitConfig
	Source SymbolSource
	Logger *zap.Logger
}

// LoadSymbols streams the configured symbols into ch, or every USDT altcoin
// pair from Bybit when none are pinned. ch is closed on return.
func (l *SymbolLoader) LoadSymbols(ctx context.Context, ch chan<- string) error {
	defer close(ch) // Ensure downstream consumers can exit cleanly

	symbols := l.Cfg.Symbols
	if len(symbols) == 0 {
		reqCtx, cancel := context.WithTimeout(ctx, l.Cfg.REST.Timeout)
		defer cancel()

		var err error
		symbols, err = l.Source.GetUSDTAltcoinSymbols(reqCtx)
		if err != nil {
			l.Logger.Error("failed to load USDT altcoin symbols", zap.Error(err))
			return err
		}
	}
	l.Logger.Info("loaded symbols", zap.Int("count", len(symbols)))

	for _, symbol := range symbols {
		select {
		case ch <- symbol:
		case <-ctx.Done():
			l.Logger.Warn("symbol streaming interrupted", zap.Error(ctx.Err()))
			return ctx.Err()
		}
	}
	return nil
}
