package memorystore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"tsengine/pkg/calendar"
	"tsengine/pkg/series"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func loadedStore(t *testing.T, cal *calendar.Cache, n int) *series.Store {
	t.Helper()
	st := series.NewStore(cal, series.Options{WhitespaceBuffer: 10})
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"time": start.Add(time.Duration(i) * time.Minute), "close": float64(i)}
	}
	res, err := st.Load(rows, "bybit")
	require.NoError(t, err)
	require.Equal(t, series.Loaded, res)
	return st
}

// go test -v --run TestSeriesStoreConcurrentApply
func TestSeriesStoreConcurrentApply(t *testing.T) {
	cal, err := calendar.NewCache(calendar.Options{})
	require.NoError(t, err)

	ms := NewSeriesStore()
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}
	for _, sym := range symbols {
		ms.Put(sym, loadedStore(t, cal, 10))
	}
	assert.Equal(t, 40, ms.CountAll())

	start := time.Date(2024, 1, 8, 0, 10, 0, 0, time.UTC)
	var g errgroup.Group
	for _, sym := range symbols {
		for i := 0; i < 20; i++ {
			g.Go(func() error {
				return ms.With(sym, func(st *series.Store) error {
					_, err := st.Apply(series.NewValue(start.Add(time.Duration(i)*time.Minute), float64(i)), false)
					return err
				})
			})
		}
	}
	require.NoError(t, g.Wait())

	// every minute from 00:10 to 00:29 arrived once per symbol; late ones are stale drops
	for _, sym := range symbols {
		snap, ok := ms.Snapshot(sym)
		require.True(t, ok)
		assert.LessOrEqual(t, snap.Index, 29)
		assert.GreaterOrEqual(t, snap.Index, 10)
	}

	states := ms.GetAll()
	require.Len(t, states, 4)
	assert.Equal(t, "BTCUSDT", states[0].Symbol)
	assert.Equal(t, "1m", states[0].Timeframe.String())
}

// go test -v --run TestSeriesStoreUnknownAndReplace
func TestSeriesStoreUnknownAndReplace(t *testing.T) {
	cal, err := calendar.NewCache(calendar.Options{})
	require.NoError(t, err)
	ms := NewSeriesStore()

	err = ms.With("NOPE", func(*series.Store) error { return nil })
	assert.True(t, errors.Is(err, ErrUnknownSymbol))
	snap, ok := ms.Snapshot("NOPE")
	assert.False(t, ok)
	assert.Equal(t, -1, snap.Index)

	first := loadedStore(t, cal, 5)
	ms.Put("BTCUSDT", first)
	ms.Put("BTCUSDT", loadedStore(t, cal, 8))
	assert.Equal(t, 0, first.Len(), "replaced store is cleared")
	assert.Equal(t, 8, ms.CountAll())

	ms.Remove("BTCUSDT")
	assert.Equal(t, 0, ms.CountAll())
}

// go test -v --run TestSymbolStore
func TestSymbolStore(t *testing.T) {
	s := NewSymbolStore()
	ch := make(chan string)
	done := s.StartWorker(ch)
	for i := 0; i < 3; i++ {
		ch <- fmt.Sprintf("SYM%dUSDT", i)
	}
	ch <- "SYM0USDT"
	close(ch)
	<-done

	assert.Equal(t, []string{"SYM0USDT", "SYM1USDT", "SYM2USDT"}, s.GetAll())
	assert.Equal(t, []string{"kline.5.SYM0USDT", "kline.5.SYM1USDT", "kline.5.SYM2USDT"}, s.GetKlineTopics("5"))
	assert.False(t, s.Add("SYM1USDT"))
	assert.True(t, s.Add("NEWUSDT"))
}
