package symbolmeta

import (
	"context"
	"testing"
	"time"

	"tsengine/config"
	"tsengine/internal/bybit/snapshot"
	"tsengine/internal/memorystore"
	"tsengine/pkg/calendar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSymbols []string

func (s staticSymbols) GetUSDTAltcoinSymbols(context.Context) ([]string, error) {
	return s, nil
}

// go test -v --run TestNextMidnight
func TestNextMidnight(t *testing.T) {
	at := time.Date(2024, 1, 8, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), nextMidnight(at))

	midnight := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, midnight.Add(24*time.Hour), nextMidnight(midnight))

	tokyo := time.FixedZone("JST", 9*3600)
	assert.Equal(t, midnight, nextMidnight(time.Date(2024, 1, 9, 8, 0, 0, 0, tokyo)))
}

// go test -v --run TestWarmCalendars
func TestWarmCalendars(t *testing.T) {
	cal, err := calendar.NewCache(calendar.Options{})
	require.NoError(t, err)

	now := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	job := WarmCalendars(cal, []string{"NYSE", "bybit", "XTKS"}, 30*24*time.Hour, zap.NewNop())
	job(context.Background(), now)

	_, last, ok := cal.Covered("NYSE")
	require.True(t, ok)
	assert.False(t, last.Before(now.Add(30*24*time.Hour)))
	assert.Zero(t, cal.Refs("NYSE"), "warming holds no reference")
	_, _, ok = cal.Covered("JPX")
	assert.True(t, ok)
}

// go test -v --run TestRefreshSymbols
func TestRefreshSymbols(t *testing.T) {
	store := memorystore.NewSymbolStore()
	store.Add("BTCUSDT")
	loader := &snapshot.SymbolLoader{
		Cfg:    config.BybitConfig{REST: config.RESTConfig{Timeout: time.Second}},
		Source: staticSymbols{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		Logger: zap.NewNop(),
	}

	var got []string
	job := RefreshSymbols(loader, store, func(_ context.Context, symbols []string) { got = symbols })
	job(context.Background(), time.Now())

	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, got)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, store.GetAll())

	got = nil
	job(context.Background(), time.Now())
	assert.Nil(t, got)
}

// go test -v --run TestMidnightLoaderImmediate
func TestMidnightLoaderImmediate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	m := &MidnightLoader{
		Immediate: true,
		Jobs: []Job{func(context.Context, time.Time) {
			runs++
			cancel()
		}},
	}
	require.NoError(t, m.Run(ctx))
	assert.Equal(t, 1, runs)
}
