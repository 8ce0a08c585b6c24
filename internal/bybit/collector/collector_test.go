package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"tsengine/config"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeBybit serves the REST endpoints and the public websocket on one server.
type fakeBybit struct {
	mu   sync.Mutex
	subs []string
}

func (f *fakeBybit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v5/market/instruments-info":
		fmt.Fprint(w, `{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"Trading"}]}}`)
	case "/v5/market/kline":
		end, _ := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
		last := time.UnixMilli(end).UTC().Truncate(time.Minute)
		var list [][]string
		for i := 0; i < 30; i++ {
			ts := last.Add(-time.Duration(i) * time.Minute).UnixMilli()
			list = append(list, []string{strconv.FormatInt(ts, 10), "1", "1", "1", "1", "1", "1"})
		}
		result, _ := json.Marshal(map[string]any{"list": list})
		fmt.Fprintf(w, `{"retCode":0,"result":%s}`, result)
	case "/ws":
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg struct {
				Op   string   `json:"op"`
				Args []string `json:"args"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			f.subs = append(f.subs, msg.Args...)
			f.mu.Unlock()
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBybit) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs...)
}

// go test -v --run TestStartCollector
func TestStartCollector(t *testing.T) {
	fb := &fakeBybit{}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Log.Environment = "dev"
	cfg.Series.Exchange = "BYBIT"
	cfg.Series.WhitespaceBuffer = 20
	cfg.Bybit.Category = "linear"
	cfg.Bybit.History = time.Hour
	cfg.Bybit.Concurrency = 2
	cfg.Bybit.REST.BaseURL = srv.URL
	cfg.Bybit.REST.Timeout = time.Second
	cfg.Bybit.WS.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.Bybit.WS.Timeout = time.Second
	cfg.Bybit.WS.Interval = "1"
	cfg.Calendar.WarmExchanges = []string{"NYSE"}
	cfg.Calendar.WarmHorizon = 24 * time.Hour

	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartCollector(ctx, cfg, zap.New(core)) }()

	require.Eventually(t, func() bool {
		return len(fb.subscriptions()) > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"kline.1.BTCUSDT"}, fb.subscriptions())

	loaded := logs.FilterMessage("initial history loaded").All()
	require.Len(t, loaded, 1)
	assert.EqualValues(t, 1, loaded[0].ContextMap()["loaded"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
}
