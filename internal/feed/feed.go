// Package feed maintains a streaming subscription to the Pyth Hermes price
// service and exposes the last known price per tracked symbol.
//
// The cache is last-write-wins behind a single mutation point: a read always
// reflects the most recently processed message, independent of any consumer
// refresh cycle. Connection loss is recovered with a fixed-delay reconnect;
// the feed never gives up and never surfaces transport failures to callers.
package feed

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terminalspin/spin-engine/internal/metrics"
)

// DefaultURL is the public Pyth Hermes WebSocket endpoint.
const DefaultURL = "wss://hermes.pyth.network/ws"

const (
	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// DefaultReconnectDelay is the fixed pause before a reconnection
	// attempt. Constant, not exponential: the upstream is a single public
	// endpoint and the consumer degrades to simulated pricing meanwhile.
	DefaultReconnectDelay = 3 * time.Second
)

// Feed is the Hermes client. One Feed owns at most one live connection and
// at most one pending reconnect timer at any instant.
type Feed struct {
	url     string
	feedIDs map[string]string // symbol → Hermes feed id
	symbols map[string]string // Hermes feed id → symbol
	delay   time.Duration
	logger  *slog.Logger

	mu        sync.RWMutex
	prices    map[string]float64 // keyed by symbol
	conn      *websocket.Conn
	retry     *time.Timer
	connected bool
	dialing   bool
	closed    bool
}

// New creates a feed for the given symbol → feed-id table. A non-positive
// reconnectDelay selects the default.
func New(url string, feedIDs map[string]string, reconnectDelay time.Duration, logger *slog.Logger) *Feed {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	symbols := make(map[string]string, len(feedIDs))
	for sym, id := range feedIDs {
		symbols[id] = sym
	}
	return &Feed{
		url:     url,
		feedIDs: feedIDs,
		symbols: symbols,
		delay:   reconnectDelay,
		logger:  logger.With(slog.String("component", "feed")),
		prices:  make(map[string]float64),
	}
}

// Start attempts the initial connection. Safe to call again; a call while a
// connection or dial is live is a no-op.
func (f *Feed) Start() {
	f.connect()
}

// LastPrice returns the most recent price for symbol, if one has arrived.
// Non-blocking; safe on the P&L tick path.
func (f *Feed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	return p, ok
}

// Connected reports whether a live upstream connection is established.
func (f *Feed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Prices returns a copy of the last known price per symbol.
func (f *Feed) Prices() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]float64, len(f.prices))
	for sym, p := range f.prices {
		out[sym] = p
	}
	return out
}

// Close tears the feed down: cancels any pending reconnect timer and closes
// the live connection. No reconnects happen after Close.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	if f.retry != nil {
		f.retry.Stop()
		f.retry = nil
	}
	conn := f.conn
	f.conn = nil
	f.connected = false
	f.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		conn.Close()
	}
	metrics.FeedConnected.Set(0)
}

// subscribeCommand is the outbound Hermes subscription request, sent once
// per successful connection open — including every reconnect.
type subscribeCommand struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// priceUpdate is the inbound Hermes message we care about. Hermes encodes the
// mantissa as a decimal string; json.Number also accepts a bare number.
type priceUpdate struct {
	Type      string `json:"type"`
	PriceFeed struct {
		ID    string `json:"id"`
		Price struct {
			Price json.Number `json:"price"`
			Expo  int32       `json:"expo"`
		} `json:"price"`
	} `json:"price_feed"`
}

func (f *Feed) connect() {
	f.mu.Lock()
	if f.closed || f.connected || f.dialing {
		f.mu.Unlock()
		return
	}
	f.dialing = true
	f.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(f.url, nil)

	f.mu.Lock()
	f.dialing = false
	if f.closed {
		f.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		f.logger.Warn("feed dial failed", slog.String("url", f.url), slog.String("err", err.Error()))
		f.scheduleReconnectLocked()
		f.mu.Unlock()
		return
	}
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	metrics.FeedConnected.Set(1)

	if err := f.subscribe(conn); err != nil {
		f.logger.Warn("feed subscribe failed", slog.String("err", err.Error()))
		f.dropConn(conn)
		return
	}

	f.logger.Info("feed connected", slog.String("url", f.url), slog.Int("feeds", len(f.feedIDs)))
	go f.readLoop(conn)
}

// subscribe sends the subscription request for all tracked feeds.
func (f *Feed) subscribe(conn *websocket.Conn) error {
	ids := make([]string, 0, len(f.feedIDs))
	for _, id := range f.feedIDs {
		ids = append(ids, id)
	}
	cmd := subscribeCommand{Type: "subscribe", IDs: ids}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.dropConn(conn)
			return
		}
		f.handleMessage(raw)
	}
}

// dropConn marks the feed disconnected and schedules the single retry,
// unless the feed was torn down or the connection was already superseded.
func (f *Feed) dropConn(conn *websocket.Conn) {
	f.mu.Lock()
	if f.conn != conn {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.conn = nil
	f.connected = false
	closed := f.closed
	if !closed {
		f.scheduleReconnectLocked()
	}
	f.mu.Unlock()

	conn.Close()
	metrics.FeedConnected.Set(0)
	if !closed {
		f.logger.Warn("feed disconnected, reconnect scheduled", slog.Duration("delay", f.delay))
	}
}

// scheduleReconnectLocked arms the retry timer. Caller holds f.mu.
// An already-armed timer is left alone, keeping at most one outstanding.
func (f *Feed) scheduleReconnectLocked() {
	if f.retry != nil {
		return
	}
	metrics.FeedReconnects.Inc()
	f.retry = time.AfterFunc(f.delay, func() {
		f.mu.Lock()
		f.retry = nil
		f.mu.Unlock()
		f.connect()
	})
}

// handleMessage decodes one inbound message. Anything that is not a
// well-formed price_update is dropped without touching the connection.
func (f *Feed) handleMessage(raw []byte) {
	var update priceUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		f.logger.Debug("dropping malformed feed message", slog.String("err", err.Error()))
		return
	}
	if update.Type != "price_update" {
		return
	}

	symbol, ok := f.symbols[update.PriceFeed.ID]
	if !ok {
		return // not a feed we track
	}

	mantissa, err := update.PriceFeed.Price.Price.Float64()
	if err != nil {
		f.logger.Debug("dropping price update with bad mantissa",
			slog.String("raw", update.PriceFeed.Price.Price.String()))
		return
	}
	price := mantissa * math.Pow(10, float64(update.PriceFeed.Price.Expo))

	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()

	metrics.PriceUpdates.WithLabelValues(symbol).Inc()
}
