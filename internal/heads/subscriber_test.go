package heads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockNode serves eth_subscribe and then runs push on the connection.
func mockNode(t *testing.T, push func(conn *websocket.Conn, subID string)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Method != "eth_subscribe" || len(req.Params) != 1 || req.Params[0] != "newHeads" {
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32601, "message": "bad request"}})
			return
		}
		subID := fmt.Sprintf("0xsub%d", n)
		conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": subID})

		push(conn, subID)
	}))
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func headFrame(subID string, number uint64) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params": map[string]any{
			"subscription": subID,
			"result": map[string]any{
				"number":    fmt.Sprintf("0x%x", number),
				"hash":      fmt.Sprintf("0x%064x", number),
				"timestamp": "0x6553f100",
			},
		},
	}
}

func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ReconnectBaseWait = 10 * time.Millisecond
	cfg.ReconnectMaxWait = 50 * time.Millisecond
	cfg.SubscribeTimeout = time.Second
	return cfg
}

func stop(t *testing.T, s *Subscriber) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSubscriber_ReceivesHeads(t *testing.T) {
	srv, _ := mockNode(t, func(conn *websocket.Conn, subID string) {
		// Noise that is not a head for this subscription.
		conn.WriteJSON(headFrame("0xother", 999))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"`+subID+`","result":{}}}`))

		for n := uint64(100); n < 103; n++ {
			conn.WriteJSON(headFrame(subID, n))
		}
		holdOpen(conn)
	})
	defer srv.Close()

	s := NewSubscriber(testConfig(wsURL(srv)), nil)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case h := <-s.Heads():
			got = append(got, h.Number)
			assert.False(t, h.ReceivedAt.IsZero())
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}

	assert.Equal(t, []uint64{100, 101, 102}, got)
	assert.Equal(t, uint64(102), s.Latest())
	assert.True(t, s.Connected())
}

func TestSubscriber_Reconnects(t *testing.T) {
	srv, conns := mockNode(t, func(conn *websocket.Conn, subID string) {
		conn.WriteJSON(headFrame(subID, 7))
		if subID == "0xsub1" {
			// Drop the first connection.
			return
		}
		holdOpen(conn)
	})
	defer srv.Close()

	s := NewSubscriber(testConfig(wsURL(srv)), nil)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestSubscriber_SubscribeError(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		attempts.Add(1)

		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32000, "message": "notifications not supported"}})
		holdOpen(conn)
	}))
	defer srv.Close()

	s := NewSubscriber(testConfig(wsURL(srv)), nil)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	require.Eventually(t, func() bool { return attempts.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.Connected())
}

func TestSubscriber_DropOldest(t *testing.T) {
	cfg := testConfig("ws://unused")
	cfg.BufferSize = 2
	s := NewSubscriber(cfg, nil)

	for n := uint64(1); n <= 5; n++ {
		s.publish(Head{Number: n})
	}

	assert.Equal(t, uint64(4), (<-s.Heads()).Number)
	assert.Equal(t, uint64(5), (<-s.Heads()).Number)
	assert.Equal(t, uint64(5), s.Latest())
}

func TestSubscriber_RequiresURL(t *testing.T) {
	s := NewSubscriber(Config{}, nil)
	require.Error(t, s.Start(context.Background()))
}

func TestParseHead(t *testing.T) {
	frame, err := json.Marshal(headFrame("0xabc", 0x1b4))
	require.NoError(t, err)

	h, ok, err := parseHead(frame, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(436), h.Number)
	assert.Equal(t, uint64(0x6553f100), h.Time)

	_, ok, err = parseHead(frame, "0xdef")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseHead([]byte("{"), "0xabc")
	assert.Error(t, err)
}
