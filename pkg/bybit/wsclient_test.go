package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeServer struct {
	mu        sync.Mutex
	subs      [][]string
	pings     int
	conns     int
	dropFirst bool
}

func (f *fakeServer) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		f.mu.Lock()
		f.conns++
		n := f.conns
		f.mu.Unlock()

		for {
			var msg struct {
				Op   string   `json:"op"`
				Args []string `json:"args"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			switch msg.Op {
			case "subscribe":
				f.subs = append(f.subs, msg.Args)
			case "ping":
				f.pings++
			}
			f.mu.Unlock()

			if msg.Op != "subscribe" {
				continue
			}
			for _, topic := range msg.Args {
				push := fmt.Sprintf(`{"topic":%q,"type":"snapshot","data":[]}`, topic)
				if err := conn.WriteMessage(websocket.TextMessage, []byte(push)); err != nil {
					return
				}
			}
			if f.dropFirst && n == 1 {
				return
			}
		}
	}
}

func (f *fakeServer) subscriptions() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.subs...)
}

func topicsFor(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("kline.1.SYM%dUSDT", i)
	}
	return out
}

// go test -v --run TestWSClientSubscribesInBatches
func TestWSClientSubscribesInBatches(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	topics := topicsFor(23)
	client := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), func() []string { return topics }, zaptest.NewLogger(t))

	var mu sync.Mutex
	var got []string
	client.SetMessageHandler(func(b []byte) {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	done := make(chan error, 1)
	go func() { done <- client.Listen(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(topics)
	}, 2*time.Second, 10*time.Millisecond)

	subs := fs.subscriptions()
	require.Len(t, subs, 3)
	assert.Len(t, subs[0], 10)
	assert.Len(t, subs[2], 3)

	require.NoError(t, client.Subscribe([]string{"kline.1.NEWUSDT"}))
	require.Eventually(t, func() bool { return len(fs.subscriptions()) == 4 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

// go test -v --run TestWSClientReconnects
func TestWSClientReconnects(t *testing.T) {
	fs := &fakeServer{dropFirst: true}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	client := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), func() []string { return topicsFor(1) }, zap.NewNop())
	client.retryDelay = 10 * time.Millisecond
	client.SetPingInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	go func() { _ = client.Listen(ctx) }()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.conns >= 2 && len(fs.subs) >= 2 && fs.pings > 0
	}, 3*time.Second, 10*time.Millisecond)
}

// go test -v --run TestWSClientListenWithoutConnect
func TestWSClientListenWithoutConnect(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:1", func() []string { return nil }, nil)
	assert.Error(t, client.Listen(context.Background()))
}
