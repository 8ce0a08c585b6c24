package bybit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Bybit rejects subscribe requests carrying more args than this.
	maxArgsPerSubscribe = 10
	defaultPingInterval = 20 * time.Second
	reconnectDelay      = 3 * time.Second
)

// WSClient handles the websocket connection to Bybit and message routing.
type WSClient struct {
	url          string
	topics       func() []string
	handler      func([]byte)
	logger       *zap.Logger
	pingInterval time.Duration
	retryDelay   time.Duration

	mu   sync.Mutex // guards conn writes and swaps
	conn *websocket.Conn
}

// NewWSClient creates a client that subscribes to whatever topics returns at
// connect time, and again after every reconnect.
func NewWSClient(url string, topics func() []string, logger *zap.Logger) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{
		url:          url,
		topics:       topics,
		logger:       logger,
		pingInterval: defaultPingInterval,
		retryDelay:   reconnectDelay,
	}
}

// SetMessageHandler sets the function to handle incoming messages.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

func (c *WSClient) SetPingInterval(d time.Duration) {
	if d > 0 {
		c.pingInterval = d
	}
}

// Connect dials the server and subscribes to the current topics. It does
// not start the listener.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Error("Failed to connect to WebSocket", zap.String("url", c.url), zap.Error(err))
		return err
	}
	if err := subscribe(conn, c.topics()); err != nil {
		_ = conn.Close()
		c.logger.Error("Failed to send subscription", zap.Error(err))
		return err
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.logger.Info("WebSocket connected", zap.String("url", c.url))
	return nil
}

func subscribe(conn *websocket.Conn, args []string) error {
	for start := 0; start < len(args); start += maxArgsPerSubscribe {
		end := min(start+maxArgsPerSubscribe, len(args))
		msg := map[string]interface{}{
			"op":   "subscribe",
			"args": args[start:end],
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("websocket subscribe failed: %w", err)
		}
	}
	return nil
}

// Subscribe adds topics to the live connection. Topics also need to be in
// the topic source to survive a reconnect.
func (c *WSClient) Subscribe(topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("websocket not connected")
	}
	return subscribe(c.conn, topics)
}

// Listen reads messages until ctx is cancelled, reconnecting and
// resubscribing after read errors. Connect must have succeeded first.
func (c *WSClient) Listen(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return errors.New("websocket not connected")
	}
	c.mu.Unlock()

	go c.keepAlive(ctx)
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("WebSocket read error", zap.Error(err))
			if err := c.reconnect(ctx); err != nil {
				return nil
			}
			continue
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// reconnect retries until a connection is established or ctx ends.
func (c *WSClient) reconnect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("Retrying reconnect...")
			continue
		}
		c.logger.Info("Reconnected successfully")
		return nil
	}
}

// keepAlive sends application-level pings; Bybit drops idle connections.
func (c *WSClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil {
				if err := c.conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.mu.Unlock()
		}
	}
}
