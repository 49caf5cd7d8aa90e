package feed_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terminalspin/spin-engine/internal/feed"
)

var testFeedIDs = map[string]string{
	"BTC": "feed-btc",
	"ETH": "feed-eth",
}

type subscribeMsg struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// hermesStub is a fake Hermes endpoint. It records every accepted connection
// and its subscription request, and keeps connections open for the test to
// drive.
type hermesStub struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
	subs  []subscribeMsg
}

func newHermesStub(t *testing.T) *hermesStub {
	t.Helper()
	s := &hermesStub{t: t}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		var sub subscribeMsg
		json.Unmarshal(raw, &sub)

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.subs = append(s.subs, sub)
		s.mu.Unlock()

		// Drain until the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *hermesStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *hermesStub) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *hermesStub) conn(i int) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[i]
}

func (s *hermesStub) sub(i int) subscribeMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[i]
}

func (s *hermesStub) send(i int, payload string) {
	c := s.conn(i)
	if err := c.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		s.t.Fatalf("server write failed: %v", err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubscribeOnConnect(t *testing.T) {
	stub := newHermesStub(t)
	f := feed.New(stub.url(), testFeedIDs, 100*time.Millisecond, testLogger())
	defer f.Close()

	f.Start()
	waitFor(t, 2*time.Second, func() bool { return stub.connCount() == 1 }, "no connection arrived")

	sub := stub.sub(0)
	if sub.Type != "subscribe" {
		t.Errorf("expected subscribe message, got %q", sub.Type)
	}
	ids := make(map[string]bool)
	for _, id := range sub.IDs {
		ids[id] = true
	}
	for sym, id := range testFeedIDs {
		if !ids[id] {
			t.Errorf("subscription missing feed id for %s", sym)
		}
	}

	waitFor(t, time.Second, f.Connected, "feed should report connected")
}

func TestStartWhileConnectedIsNoop(t *testing.T) {
	stub := newHermesStub(t)
	f := feed.New(stub.url(), testFeedIDs, 100*time.Millisecond, testLogger())
	defer f.Close()

	f.Start()
	waitFor(t, 2*time.Second, func() bool { return stub.connCount() == 1 }, "no connection arrived")

	f.Start()
	time.Sleep(100 * time.Millisecond)
	if got := stub.connCount(); got != 1 {
		t.Errorf("expected 1 connection, got %d", got)
	}
}

func TestPriceUpdateDecoding(t *testing.T) {
	stub := newHermesStub(t)
	f := feed.New(stub.url(), testFeedIDs, 100*time.Millisecond, testLogger())
	defer f.Close()

	f.Start()
	waitFor(t, 2*time.Second, func() bool { return stub.connCount() == 1 }, "no connection arrived")

	// Hermes sends the mantissa as a string.
	stub.send(0, `{"type":"price_update","price_feed":{"id":"feed-btc","price":{"price":"6277163000000","expo":-8}}}`)
	waitFor(t, time.Second, func() bool {
		_, ok := f.LastPrice("BTC")
		return ok
	}, "BTC price never arrived")

	got, _ := f.LastPrice("BTC")
	if math.Abs(got-62771.63) > 1e-6 {
		t.Errorf("expected 62771.63, got %v", got)
	}

	// A bare-number mantissa decodes too, and overwrites (last write wins).
	stub.send(0, `{"type":"price_update","price_feed":{"id":"feed-btc","price":{"price":6300000000000,"expo":-8}}}`)
	waitFor(t, time.Second, func() bool {
		p, _ := f.LastPrice("BTC")
		return math.Abs(p-63000) < 1e-6
	}, "BTC price was not overwritten")

	if _, ok := f.LastPrice("ETH"); ok {
		t.Error("ETH price should be absent")
	}
}

func TestMalformedAndForeignMessagesDropped(t *testing.T) {
	stub := newHermesStub(t)
	f := feed.New(stub.url(), testFeedIDs, 100*time.Millisecond, testLogger())
	defer f.Close()

	f.Start()
	waitFor(t, 2*time.Second, func() bool { return stub.connCount() == 1 }, "no connection arrived")

	stub.send(0, `{not json`)
	stub.send(0, `{"type":"response","status":"ok"}`)
	stub.send(0, `{"type":"price_update","price_feed":{"id":"feed-btc","price":{"price":"oops","expo":-8}}}`)
	stub.send(0, `{"type":"price_update","price_feed":{"id":"unknown-feed","price":{"price":"100","expo":0}}}`)
	stub.send(0, `{"type":"price_update","price_feed":{"id":"feed-eth","price":{"price":"311542","expo":-2}}}`)

	// The valid trailing update still lands: the connection survived.
	waitFor(t, time.Second, func() bool {
		_, ok := f.LastPrice("ETH")
		return ok
	}, "valid update after garbage never arrived")

	got, _ := f.LastPrice("ETH")
	if math.Abs(got-3115.42) > 1e-9 {
		t.Errorf("expected 3115.42, got %v", got)
	}
	if !f.Connected() {
		t.Error("feed should remain connected after malformed messages")
	}
	if _, ok := f.LastPrice("BTC"); ok {
		t.Error("malformed BTC update should not have been stored")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	stub := newHermesStub(t)
	delay := 150 * time.Millisecond
	f := feed.New(stub.url(), testFeedIDs, delay, testLogger())
	defer f.Close()

	f.Start()
	waitFor(t, 2*time.Second, func() bool { return stub.connCount() == 1 }, "no connection arrived")

	dropped := time.Now()
	stub.conn(0).Close()

	waitFor(t, time.Second, func() bool { return !f.Connected() }, "feed should notice the drop")
	waitFor(t, 2*time.Second, func() bool { return stub.connCount() == 2 }, "no reconnection arrived")

	if elapsed := time.Since(dropped); elapsed < delay {
		t.Errorf("reconnected after %v, before the %v delay", elapsed, delay)
	}

	// Exactly one new connection, and it resubscribed from scratch.
	time.Sleep(3 * delay)
	if got := stub.connCount(); got != 2 {
		t.Errorf("expected exactly 2 connections, got %d", got)
	}
	if sub := stub.sub(1); sub.Type != "subscribe" || len(sub.IDs) != len(testFeedIDs) {
		t.Errorf("second connection did not resubscribe: %+v", sub)
	}

	// The fresh connection serves prices again.
	stub.send(1, `{"type":"price_update","price_feed":{"id":"feed-btc","price":{"price":"5000000","expo":-2}}}`)
	waitFor(t, time.Second, func() bool {
		p, ok := f.LastPrice("BTC")
		return ok && math.Abs(p-50000) < 1e-9
	}, "price after reconnect never arrived")
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	stub := newHermesStub(t)
	delay := 200 * time.Millisecond
	f := feed.New(stub.url(), testFeedIDs, delay, testLogger())

	f.Start()
	waitFor(t, 2*time.Second, func() bool { return stub.connCount() == 1 }, "no connection arrived")

	// Drop the connection so a retry gets armed, then tear down before it fires.
	stub.conn(0).Close()
	waitFor(t, time.Second, func() bool { return !f.Connected() }, "feed should notice the drop")
	f.Close()

	time.Sleep(3 * delay)
	if got := stub.connCount(); got != 1 {
		t.Errorf("reconnect fired after Close: %d connections", got)
	}
	if f.Connected() {
		t.Error("feed reports connected after Close")
	}
}
