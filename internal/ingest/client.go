// Package ingest implements the Ingestion Client (C9): the Bybit kline
// WebSocket connector, the REST client for backfill/order-book/time
// endpoints, and the three cooperating tasks (reader loop, subscription
// reconciler, connection monitor) that drive the rest of the pipeline.
// Grounded on internal/exchanges/bybit.go's BybitConnector (WS framing,
// subscribe/ping idiom) and internal/analytics/historical_data_fetcher.go
// (REST http.Client idiom), generalized from multi-stream trade/orderbook
// fan-out to the single kline.1.{symbol} channel spec.md 4.9 requires.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// KlineTick is the normalized form of a Bybit kline.1.{symbol} message.
type KlineTick struct {
	Symbol     string
	OpenTimeMs int64
	CloseTimeMs int64
	Open       string
	High       string
	Low        string
	Close      string
	Volume     string
	Confirmed  bool
}

type bybitWSMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
	Op    string          `json:"op"`
}

// bybitKlinePayload mirrors the data items of a kline.1.{symbol} message,
// which per spec.md 6 carries only start/end/open/high/low/close/volume/
// confirm — no symbol field. The symbol lives in the topic, not the payload.
type bybitKlinePayload struct {
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Interval  string `json:"interval"`
	Open      string `json:"open"`
	Close     string `json:"close"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Volume    string `json:"volume"`
	Turnover  string `json:"turnover"`
	Confirmed bool   `json:"confirm"`
}

// Client is the WebSocket half of C9: one connection subscribed to the
// kline.1 channel for a batch of symbols.
type Client struct {
	endpoint string
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	tracked map[string]bool

	lastMessage time.Time
	lastMu      sync.Mutex
}

func NewClient(endpoint string, logger *zap.Logger) *Client {
	return &Client{endpoint: endpoint, logger: logger.Named("ingest-client"), tracked: make(map[string]bool)}
}

func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	headers := http.Header{}
	headers.Set("User-Agent", "pulseintel/1.0")

	conn, _, err := dialer.DialContext(ctx, c.endpoint, headers)
	if err != nil {
		return fmt.Errorf("connect to bybit websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.touchLastMessage()
	go c.pingLoop(ctx)
	return nil
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				c.logger.Warn("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Subscribe sends a batched subscribe for the given symbols' kline.1
// channels. Callers are responsible for chunking to <=50 and pacing 500ms
// between batches, per spec.md 4.9's rate discipline.
func (c *Client) Subscribe(symbols []string) error {
	return c.sendBatch("subscribe", symbols)
}

func (c *Client) Unsubscribe(symbols []string) error {
	return c.sendBatch("unsubscribe", symbols)
}

func (c *Client) sendBatch(op string, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, fmt.Sprintf("kline.1.%s", strings.ToUpper(s)))
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	if err := conn.WriteJSON(map[string]any{"op": op, "args": args}); err != nil {
		return fmt.Errorf("%s batch: %w", op, err)
	}

	c.mu.Lock()
	for _, s := range symbols {
		if op == "subscribe" {
			c.tracked[strings.ToUpper(s)] = true
		} else {
			delete(c.tracked, strings.ToUpper(s))
		}
	}
	c.mu.Unlock()
	return nil
}

// Read blocks for the next kline tick, transparently handling pong and
// subscription-ack control frames the way BybitConnector.ReadMessage does.
func (c *Client) Read() (KlineTick, error) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return KlineTick{}, fmt.Errorf("not connected")
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return KlineTick{}, fmt.Errorf("read message: %w", err)
		}
		c.touchLastMessage()

		var msg bybitWSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("malformed websocket frame", zap.Error(err))
			continue
		}

		if msg.Op != "" {
			// control frame (pong, subscribe/unsubscribe ack); nothing to
			// deliver upstream.
			continue
		}

		if !strings.HasPrefix(msg.Topic, "kline.") {
			continue
		}

		var klines []bybitKlinePayload
		if err := json.Unmarshal(msg.Data, &klines); err != nil || len(klines) == 0 {
			c.logger.Warn("malformed kline payload", zap.Error(err))
			continue
		}
		k := klines[0]

		tick := KlineTick{
			Symbol:      symbolFromTopic(msg.Topic),
			OpenTimeMs:  k.Start,
			CloseTimeMs: k.End,
			Open:        k.Open,
			High:        k.High,
			Low:         k.Low,
			Close:       k.Close,
			Volume:      k.Volume,
			Confirmed:   k.Confirmed,
		}
		return tick, nil
	}
}

// symbolFromTopic extracts the symbol from a kline.1.{symbol} topic string,
// the only place a fan-out client can find it: the data payload itself
// omits it (see bybitKlinePayload).
func symbolFromTopic(topic string) string {
	idx := strings.LastIndex(topic, ".")
	if idx < 0 {
		return strings.ToUpper(topic)
	}
	return strings.ToUpper(topic[idx+1:])
}

func (c *Client) touchLastMessage() {
	c.lastMu.Lock()
	c.lastMessage = time.Now()
	c.lastMu.Unlock()
}

// SinceLastMessage reports how long it has been since the last frame was
// received, for the connection monitor's 120s staleness check.
func (c *Client) SinceLastMessage() time.Duration {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	if c.lastMessage.IsZero() {
		return 0
	}
	return time.Since(c.lastMessage)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// parseFloatField parses a Bybit string-encoded numeric field, defaulting
// to 0 on malformed input rather than failing the whole tick.
func parseFloatField(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
