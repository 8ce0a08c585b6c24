package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveOnly(t *testing.T) {
	t.Helper()
	if os.Getenv("BYBIT_LIVE") == "" {
		t.Skip("set BYBIT_LIVE=1 to hit api.bybit.com")
	}
}

func envelope(t *testing.T, result any) []byte {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	body, err := json.Marshal(BybitResponse{RetMsg: "OK", Result: raw})
	require.NoError(t, err)
	return body
}

// go test -v --run TestGetUSDTAltcoinSymbols
func TestGetUSDTAltcoinSymbols(t *testing.T) {
	pages := map[string]string{
		"": `{"category":"linear","nextPageCursor":"p2","list":[
			{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"Trading"},
			{"symbol":"BTCPERP","baseCoin":"BTC","quoteCoin":"USDC","status":"Trading"},
			{"symbol":"OLDUSDT","baseCoin":"OLD","quoteCoin":"USDT","status":"Closed"}]}`,
		"p2": `{"category":"linear","nextPageCursor":"","list":[
			{"symbol":"ETHUSDT","baseCoin":"ETH","quoteCoin":"USDT","status":"Trading"},
			{"symbol":"BTC-26DEC","baseCoin":"BTC","quoteCoin":"USDT","status":"Trading"}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/instruments-info", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		_, _ = w.Write(envelope(t, json.RawMessage(pages[r.URL.Query().Get("cursor")])))
	}))
	defer srv.Close()

	symbols, err := NewRESTClient(srv.URL, time.Second).GetUSDTAltcoinSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
}

// go test -v --run TestGetKlines
func TestGetKlines(t *testing.T) {
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "60", q.Get("interval"))
		// newest first, like the real endpoint
		list := [][]string{}
		for i := 2; i >= 0; i-- {
			ts := start.Add(time.Duration(i) * time.Hour).UnixMilli()
			p := strconv.Itoa(100 + i)
			list = append(list, []string{strconv.FormatInt(ts, 10), p, p, p, p, "10", "1000"})
		}
		list = append(list, []string{"bad"})
		_, _ = w.Write(envelope(t, KlinesResponse{Category: "linear", List: list}))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, time.Second)
	client.now = func() time.Time { return start.Add(150 * time.Minute) }

	klines, err := client.GetKlines(context.Background(), "linear", "BTCUSDT", "60", start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, klines, 3)

	assert.Equal(t, start.UnixMilli(), klines[0].Start)
	assert.Equal(t, start.Add(time.Hour).UnixMilli()-1, klines[0].End)
	assert.True(t, klines[0].Confirm)
	assert.True(t, klines[1].Confirm)
	assert.False(t, klines[2].Confirm, "the 02:00 bar is still open at 02:30")

	rec, err := klines[2].Record()
	require.NoError(t, err)
	assert.Equal(t, start.Add(2*time.Hour), rec.Time)
	assert.Equal(t, 102.0, rec.Close)
	assert.Equal(t, 10.0, rec.Volume)
}

// go test -v --run TestGetKlinesPaging
func TestGetKlinesPaging(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := maxKlinesPerPage + 200
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		end, err := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
		require.NoError(t, err)
		var list [][]string
		for i := total - 1; i >= 0 && len(list) < maxKlinesPerPage; i-- {
			ts := start.Add(time.Duration(i) * time.Minute).UnixMilli()
			if ts > end {
				continue
			}
			list = append(list, []string{strconv.FormatInt(ts, 10), "1", "1", "1", "1", "1", "1"})
		}
		_, _ = w.Write(envelope(t, KlinesResponse{List: list}))
	}))
	defer srv.Close()

	klines, err := NewRESTClient(srv.URL, time.Second).GetKlines(context.Background(),
		"linear", "BTCUSDT", "1", start, start.Add(time.Duration(total-1)*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, klines, total)
	for i := 1; i < len(klines); i++ {
		require.Less(t, klines[i-1].Start, klines[i].Start)
	}
}

// go test -v --run TestRESTErrors
func TestRESTErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "HTTP" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = fmt.Fprint(w, "blocked")
			return
		}
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	}))
	defer srv.Close()
	client := NewRESTClient(srv.URL, time.Second)
	now := time.Now()

	_, err := client.GetKlines(context.Background(), "linear", "HTTP", "1", now.Add(-time.Hour), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")

	_, err = client.GetKlines(context.Background(), "linear", "BTCUSDT", "1", now.Add(-time.Hour), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params error")

	_, err = client.GetKlines(context.Background(), "linear", "BTCUSDT", "7", now.Add(-time.Hour), now)
	assert.Error(t, err)
}

// go test -v --run TestLiveGetUSDTAltcoinSymbols
func TestLiveGetUSDTAltcoinSymbols(t *testing.T) {
	liveOnly(t)
	client := NewRESTClient("https://api.bybit.com", 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	symbols, err := client.GetUSDTAltcoinSymbols(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, symbols)
	t.Logf("got %d USDT altcoin symbols (example: %v)", len(symbols), symbols[:min(len(symbols), 5)])
}

// go test -v --run TestLiveGetKlines
func TestLiveGetKlines(t *testing.T) {
	liveOnly(t)
	client := NewRESTClient("https://api.bybit.com", 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	end := time.Now()
	klines, err := client.GetKlines(ctx, "linear", "BTCUSDT", "1", end.Add(-4*time.Hour), end)
	require.NoError(t, err)
	assert.NotEmpty(t, klines)
}
