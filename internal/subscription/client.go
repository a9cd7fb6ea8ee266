package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientConfig configures websocket behavior.
type ClientConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultClientConfig returns the default websocket configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// updateMessage is the market-channel subscription protocol message.
type updateMessage struct {
	Action   string   `json:"action"`
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// Client is a reconnecting market-channel websocket client. Incoming
// messages go to the handler; the active subscription set is replayed
// after every reconnect.
type Client struct {
	endpoint string
	config   ClientConfig
	logger   *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	active   map[string]struct{}
	activeMu sync.RWMutex

	onMessage func(data []byte)

	done         chan struct{}
	wg           sync.WaitGroup
	reconnecting atomic.Bool
}

// NewClient connects to the endpoint and starts the read and ping
// loops.
func NewClient(ctx context.Context, endpoint string, config *ClientConfig, onMessage func(data []byte), logger *zap.Logger) (*Client, error) {
	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		endpoint:  endpoint,
		config:    cfg,
		logger:    logger,
		active:    make(map[string]struct{}),
		onMessage: onMessage,
		done:      make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

// Subscribe adds asset ids to the live stream in one batched message.
func (c *Client) Subscribe(ctx context.Context, assetIDs []string) error {
	if err := c.send(ctx, updateMessage{Action: "subscribe", Type: "market", AssetIDs: assetIDs}); err != nil {
		return err
	}
	c.activeMu.Lock()
	for _, id := range assetIDs {
		c.active[id] = struct{}{}
	}
	c.activeMu.Unlock()
	return nil
}

// Unsubscribe removes asset ids from the live stream in one batched
// message.
func (c *Client) Unsubscribe(ctx context.Context, assetIDs []string) error {
	if err := c.send(ctx, updateMessage{Action: "unsubscribe", Type: "market", AssetIDs: assetIDs}); err != nil {
		return err
	}
	c.activeMu.Lock()
	for _, id := range assetIDs {
		delete(c.active, id)
	}
	c.activeMu.Unlock()
	return nil
}

func (c *Client) send(_ context.Context, message updateMessage) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}
	if len(message.AssetIDs) == 0 {
		return nil
	}
	if len(message.AssetIDs) > ProtocolMaxAssets {
		return fmt.Errorf("%d asset ids exceed protocol maximum %d", len(message.AssetIDs), ProtocolMaxAssets)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(message)
}

// Close shuts the connection down and waits for the loops to exit.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay

		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("websocket reconnect failed", zap.Error(err))
		return
	}

	c.resubscribe(ctx)
}

// resubscribe replays the active set after a reconnect.
func (c *Client) resubscribe(ctx context.Context) {
	c.activeMu.RLock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.activeMu.RUnlock()

	if len(ids) == 0 {
		return
	}
	if err := c.send(ctx, updateMessage{Action: "subscribe", Type: "market", AssetIDs: ids}); err != nil {
		c.logger.Warn("resubscribe failed", zap.Error(err), zap.Int("assets", len(ids)))
		return
	}
	c.logger.Info("resubscribed after reconnect", zap.Int("assets", len(ids)))
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Reader notices the dead connection and reconnects.
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}

// DecodeUpdateMessage parses a subscription protocol message; used by
// tests and diagnostic tooling.
func DecodeUpdateMessage(data []byte) (action string, assetIDs []string, err error) {
	var message updateMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return "", nil, err
	}
	return message.Action, message.AssetIDs, nil
}
