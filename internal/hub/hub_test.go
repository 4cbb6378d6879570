package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeFeed is a control-plane stand-in that pushes frames to the currently
// connected hub and counts how many connections were ever accepted.
type fakeFeed struct {
	srv   *httptest.Server
	dials atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn

	// received collects client->server frames
	received chan json.RawMessage

	// dropAfterAccept closes each connection immediately when true
	dropAfterAccept atomic.Bool
}

func newFakeFeed(t *testing.T) *fakeFeed {
	t.Helper()
	f := &fakeFeed{received: make(chan json.RawMessage, 16)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.dials.Add(1)

		if f.dropAfterAccept.Load() {
			conn.Close()
			return
		}

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				return
			}
			select {
			case f.received <- data:
			default:
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFeed) url() string {
	return "ws://" + strings.TrimPrefix(f.srv.URL, "http://")
}

func (f *fakeFeed) push(t *testing.T, v any) {
	t.Helper()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	require.NotNil(t, conn, "no hub connection to push to")
	require.NoError(t, conn.WriteJSON(v))
}

func (f *fakeFeed) closeConn() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubscribeReceivesMatchingFramesOnce(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	var calls atomic.Int32
	var gotPayload atomic.Value
	unsub := h.Subscribe("queue.snapshot", func(payload json.RawMessage) {
		calls.Add(1)
		gotPayload.Store(string(payload))
	})
	defer unsub()

	waitFor(t, 2*time.Second, h.Connected, "hub never connected")

	feed.push(t, map[string]any{"type": "session.snapshot", "items": 1})
	feed.push(t, map[string]any{"type": "queue.snapshot", "depth": 7})

	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 },
		"expected exactly one delivery for the subscribed type")

	var frame struct {
		Type  string `json:"type"`
		Depth int    `json:"depth"`
	}
	require.NoError(t, json.Unmarshal([]byte(gotPayload.Load().(string)), &frame))
	assert.Equal(t, "queue.snapshot", frame.Type)
	assert.Equal(t, 7, frame.Depth)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	var calls atomic.Int32
	unsub := h.Subscribe("queue.snapshot", func(json.RawMessage) { calls.Add(1) })

	// Keep the connection alive past the unsubscribe via a second subscriber.
	unsubKeep := h.Subscribe("other", func(json.RawMessage) {})
	defer unsubKeep()

	waitFor(t, 2*time.Second, h.Connected, "hub never connected")

	feed.push(t, map[string]any{"type": "queue.snapshot"})
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 }, "first frame not delivered")

	unsub()
	feed.push(t, map[string]any{"type": "queue.snapshot"})
	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load(), "unsubscribed handler must not be invoked again")
}

func TestMultipleSubscribersSameType(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	var a, b atomic.Int32
	defer h.Subscribe("tick", func(json.RawMessage) { a.Add(1) })()
	defer h.Subscribe("tick", func(json.RawMessage) { b.Add(1) })()

	waitFor(t, 2*time.Second, h.Connected, "hub never connected")
	feed.push(t, map[string]any{"type": "tick"})

	waitFor(t, 2*time.Second, func() bool { return a.Load() == 1 && b.Load() == 1 },
		"both subscribers must receive the frame")
}

func TestHandlerPanicDoesNotBreakDelivery(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	var survived atomic.Int32
	defer h.Subscribe("tick", func(json.RawMessage) { panic("bad subscriber") })()
	defer h.Subscribe("tick", func(json.RawMessage) { survived.Add(1) })()

	waitFor(t, 2*time.Second, h.Connected, "hub never connected")
	feed.push(t, map[string]any{"type": "tick"})

	waitFor(t, 2*time.Second, func() bool { return survived.Load() == 1 },
		"panicking handler must not suppress delivery to others")
}

func TestDemandDropClosesConnectionAndStopsReconnect(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	unsub := h.Subscribe("tick", func(json.RawMessage) {})
	waitFor(t, 2*time.Second, h.Connected, "hub never connected")

	unsub()
	waitFor(t, 2*time.Second, func() bool { return !h.Connected() }, "hub should disconnect")

	// First backoff step is 1s; if a reconnect leaked it would dial again
	// within this window.
	time.Sleep(1500 * time.Millisecond)
	assert.EqualValues(t, 1, feed.dials.Load(), "no reconnect after last consumer leaves")
}

func TestQuickSubscribeUnsubscribeLeaksNothing(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	unsub := h.Subscribe("tick", func(json.RawMessage) {})
	unsub()

	time.Sleep(1500 * time.Millisecond)
	assert.False(t, h.Connected())
	assert.LessOrEqual(t, feed.dials.Load(), int32(1),
		"demand 0->1->0 must not leave timers redialing")
}

func TestReconnectsWhileDemandRemains(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	var transitions []bool
	var transMu sync.Mutex
	defer h.OnConnectionChange(func(up bool) {
		transMu.Lock()
		transitions = append(transitions, up)
		transMu.Unlock()
	})()

	defer h.Subscribe("tick", func(json.RawMessage) {})()
	waitFor(t, 2*time.Second, h.Connected, "hub never connected")

	feed.closeConn()
	waitFor(t, 2*time.Second, func() bool { return !h.Connected() }, "hub should observe the close")

	// Backoff(0) = 1s, then the hub redials.
	waitFor(t, 4*time.Second, h.Connected, "hub should reconnect while demand remains")
	assert.GreaterOrEqual(t, feed.dials.Load(), int32(2))

	transMu.Lock()
	defer transMu.Unlock()
	assert.Equal(t, []bool{true, false, true}, transitions[:3])
}

func TestSendBestEffort(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	// Disconnected: dropped silently, no panic.
	h.Send(map[string]any{"type": "noop"})

	defer h.Subscribe("tick", func(json.RawMessage) {})()
	waitFor(t, 2*time.Second, h.Connected, "hub never connected")

	h.Send(map[string]string{"type": "hello", "from": "test"})

	select {
	case data := <-feed.received:
		var msg map[string]string
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "hello", msg["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the sent frame")
	}
}

func TestDispatchIgnoresTypelessAndMalformedFrames(t *testing.T) {
	feed := newFakeFeed(t)
	h := New(feed.url())

	var calls atomic.Int32
	defer h.Subscribe("tick", func(json.RawMessage) { calls.Add(1) })()
	waitFor(t, 2*time.Second, h.Connected, "hub never connected")

	feed.mu.Lock()
	conn := feed.conn
	feed.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"data": "no type field"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "tick"}))

	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 },
		"only the typed frame is delivered")
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 16*time.Second, Backoff(4))
	assert.Equal(t, 30*time.Second, Backoff(5))
	assert.Equal(t, 30*time.Second, Backoff(20))
	assert.Equal(t, time.Second, Backoff(-1))
}
