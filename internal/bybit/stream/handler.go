package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tsengine/internal/memorystore"
	"tsengine/pkg/bybit"
	"tsengine/pkg/series"
	"tsengine/pkg/timeframe"

	"go.uber.org/zap"
)

const persistTimeout = 2 * time.Second

// Message kinds reported to the Recorder.
const (
	KindKline   = "kline"
	KindControl = "control"
	KindInvalid = "invalid"
)

// Archive stores confirmed bars.
type Archive interface {
	SaveBar(ctx context.Context, symbol string, tf timeframe.TF, bar series.Bar, confirm bool) error
}

type Recorder interface {
	StreamMessage(kind string)
	BarsPersisted(n int)
}

type nopRecorder struct{}

func (nopRecorder) StreamMessage(string) {}
func (nopRecorder) BarsPersisted(int)    {}

// MakeMessageHandler returns a function that folds kline pushes into the
// symbol's bar store and archives bars once Bybit confirms them. archive and
// rec may be nil.
func MakeMessageHandler(ctx context.Context, logger *zap.Logger, stores *memorystore.SeriesStore,
	archive Archive, rec Recorder) func(msg []byte) {
	if rec == nil {
		rec = nopRecorder{}
	}
	return func(msg []byte) {
		// Extract topic string for early filtering
		var meta struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(msg, &meta); err != nil {
			rec.StreamMessage(KindInvalid)
			logger.Warn("failed to extract topic", zap.Error(err))
			return
		}
		if !isKlineTopic(meta.Topic) {
			rec.StreamMessage(KindControl)
			handleControl(logger, msg)
			return
		}

		var parsed bybit.KlineMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			rec.StreamMessage(KindInvalid)
			logger.Warn("failed to parse kline payload", zap.Error(err))
			return
		}
		rec.StreamMessage(KindKline)
		symbol := extractSymbolFromTopic(parsed.Topic)

		for _, k := range parsed.Data {
			bar, tf, applied := apply(logger, stores, symbol, k)
			if !applied || !k.Confirm || archive == nil {
				continue
			}
			saveCtx, cancel := context.WithTimeout(ctx, persistTimeout)
			err := archive.SaveBar(saveCtx, symbol, tf, bar, true)
			cancel()
			if err != nil {
				logger.Warn("failed to archive bar", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			rec.BarsPersisted(1)
		}
	}
}

// apply folds k into symbol's store and returns the bar it landed in.
// applied is false when the update was rejected or dropped as stale.
func apply(logger *zap.Logger, stores *memorystore.SeriesStore, symbol string, k bybit.Kline) (bar series.Bar, tf timeframe.TF, applied bool) {
	upd, err := k.Record()
	if err != nil {
		logger.Warn("failed to convert kline", zap.String("symbol", symbol), zap.Error(err))
		return bar, tf, false
	}

	err = stores.With(symbol, func(st *series.Store) error {
		if _, err := st.Apply(upd, false); err != nil {
			return err
		}
		last, ok := st.Last()
		if !ok || last.Time.After(upd.Time) {
			return nil
		}
		bar, tf, applied = last, st.Timeframe(), true
		return nil
	})
	switch {
	case errors.Is(err, memorystore.ErrUnknownSymbol):
		logger.Debug("kline for a symbol without history", zap.String("symbol", symbol))
	case err != nil:
		logger.Warn("failed to apply kline", zap.String("symbol", symbol), zap.Error(err))
	}
	return bar, tf, applied && err == nil
}

func handleControl(logger *zap.Logger, msg []byte) {
	var ctl bybit.ControlMessage
	if err := json.Unmarshal(msg, &ctl); err != nil {
		return
	}
	if ctl.Op == "subscribe" && !ctl.Success {
		logger.Warn("subscription rejected", zap.String("ret_msg", ctl.RetMsg))
	}
}

// isKlineTopic returns true if the topic string indicates a kline stream.
func isKlineTopic(topic string) bool {
	return strings.HasPrefix(topic, "kline.")
}

// extractSymbolFromTopic parses the symbol from a topic like "kline.1.BTCUSDT".
func extractSymbolFromTopic(topic string) string {
	parts := strings.Split(topic, ".")
	if len(parts) == 3 {
		return parts[2]
	}
	return ""
}
