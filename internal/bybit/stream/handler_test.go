package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"tsengine/internal/memorystore"
	"tsengine/pkg/calendar"
	"tsengine/pkg/series"
	"tsengine/pkg/timeframe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var base = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

type savedBar struct {
	symbol string
	tf     timeframe.TF
	bar    series.Bar
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []savedBar
}

func (f *fakeArchive) SaveBar(_ context.Context, symbol string, tf timeframe.TF, bar series.Bar, confirm bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, savedBar{symbol, tf, bar})
	return nil
}

type counts struct {
	messages  map[string]int
	persisted int
}

func (c *counts) StreamMessage(kind string) { c.messages[kind]++ }
func (c *counts) BarsPersisted(n int)       { c.persisted += n }

func setup(t *testing.T) (*memorystore.SeriesStore, *fakeArchive, *counts, func([]byte), *observer.ObservedLogs) {
	t.Helper()
	cal, err := calendar.NewCache(calendar.Options{})
	require.NoError(t, err)

	st := series.NewStore(cal, series.Options{Primary: true, WhitespaceBuffer: 10})
	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"time": base.Add(time.Duration(i) * time.Minute), "open": 1, "high": 1, "low": 1, "close": 1}
	}
	_, err = st.Load(rows, "bybit")
	require.NoError(t, err)

	stores := memorystore.NewSeriesStore()
	stores.Put("BTCUSDT", st)
	archive := &fakeArchive{}
	rec := &counts{messages: map[string]int{}}
	core, logs := observer.New(zap.DebugLevel)
	h := MakeMessageHandler(context.Background(), zap.New(core), stores, archive, rec)
	return stores, archive, rec, h, logs
}

func push(symbol string, start time.Time, close string, confirm bool) []byte {
	return []byte(fmt.Sprintf(`{"topic":"kline.1.%s","type":"snapshot","ts":%d,"data":[{"start":%d,"end":%d,"interval":"1","open":"1","close":%q,"high":%q,"low":"1","volume":"7","turnover":"7","confirm":%t,"timestamp":%d}]}`,
		symbol, start.UnixMilli(), start.UnixMilli(), start.Add(time.Minute).UnixMilli()-1, close, close, confirm, start.UnixMilli()))
}

// go test -v --run TestHandlerAppliesAndPersists
func TestHandlerAppliesAndPersists(t *testing.T) {
	stores, archive, rec, h, _ := setup(t)
	next := base.Add(5 * time.Minute)

	h(push("BTCUSDT", next, "2", false))
	snap, _ := stores.Snapshot("BTCUSDT")
	assert.Equal(t, 5, snap.Index)
	assert.True(t, snap.IsNew)
	assert.Empty(t, archive.saved)

	h(push("BTCUSDT", next, "3", true))
	snap, _ = stores.Snapshot("BTCUSDT")
	assert.Equal(t, 5, snap.Index)
	assert.False(t, snap.IsNew)
	assert.Equal(t, 3.0, snap.Close)
	assert.Equal(t, 3.0, snap.High)
	assert.Equal(t, 7.0, snap.Volume)

	require.Len(t, archive.saved, 1)
	assert.Equal(t, "BTCUSDT", archive.saved[0].symbol)
	assert.Equal(t, "1m", archive.saved[0].tf.String())
	assert.Equal(t, next, archive.saved[0].bar.Time)
	assert.Equal(t, 3.0, archive.saved[0].bar.Close)
	assert.Equal(t, 1, rec.persisted)
	assert.Equal(t, 2, rec.messages[KindKline])
}

// go test -v --run TestHandlerSkipsStaleConfirm
func TestHandlerSkipsStaleConfirm(t *testing.T) {
	_, archive, rec, h, _ := setup(t)

	h(push("BTCUSDT", base.Add(-time.Hour), "9", true))
	assert.Empty(t, archive.saved)
	assert.Zero(t, rec.persisted)
}

// go test -v --run TestHandlerIgnoresOtherMessages
func TestHandlerIgnoresOtherMessages(t *testing.T) {
	stores, archive, rec, h, logs := setup(t)

	h([]byte(`{"success":false,"ret_msg":"invalid topic","op":"subscribe"}`))
	h([]byte(`{"success":true,"ret_msg":"pong","op":"ping"}`))
	h([]byte(`not json`))
	h(push("ETHUSDT", base.Add(5*time.Minute), "2", true))
	h([]byte(`{"topic":"kline.1.BTCUSDT","data":[{"start":"x"}]}`))

	assert.Equal(t, 2, rec.messages[KindControl])
	assert.Equal(t, 2, rec.messages[KindInvalid])
	assert.Equal(t, 1, rec.messages[KindKline])
	assert.Equal(t, 1, logs.FilterMessage("subscription rejected").Len())
	assert.Equal(t, 1, logs.FilterMessage("kline for a symbol without history").Len())
	assert.Empty(t, archive.saved)
	assert.Equal(t, 5, stores.CountAll())
}

// go test -v --run TestExtractSymbolFromTopic
func TestExtractSymbolFromTopic(t *testing.T) {
	assert.Equal(t, "BTCUSDT", extractSymbolFromTopic("kline.1.BTCUSDT"))
	assert.Equal(t, "", extractSymbolFromTopic("kline.BTCUSDT"))
	assert.True(t, isKlineTopic("kline.D.ETHUSDT"))
	assert.False(t, isKlineTopic("publicTrade.BTCUSDT"))
}
