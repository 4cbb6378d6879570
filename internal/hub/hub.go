// Package hub maintains one shared websocket to the control-plane process
// and fans inbound push notifications out to many independent subscribers.
// The physical connection is demand-driven: it opens when the first
// subscriber arrives and closes when the last one leaves, reconnecting with
// exponential backoff in between.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Wadera/clawboard/internal/logging"
)

var hubLog = logging.ForComponent(logging.CompHub)

// Handler receives the raw payload of one inbound frame of the subscribed
// message type.
type Handler func(payload json.RawMessage)

// Hub owns one physical connection shared by every subscriber. Construct one
// per process with New; tests may instantiate independent hubs freely.
type Hub struct {
	url    string
	dialer *websocket.Dialer

	writeMu sync.Mutex // serializes writes on the shared connection

	mu            sync.Mutex
	conn          *websocket.Conn
	demand        int
	attempts      int
	connecting    bool
	connected     bool
	reconnect     *time.Timer
	gen           int // bumped on demand 1->0 to invalidate stale dials/readers
	nextID        int
	subs          map[string]map[int]Handler
	connListeners map[int]func(bool)
}

// New creates a hub for the given control-plane websocket address. No
// connection is opened until the first Subscribe.
func New(url string) *Hub {
	return &Hub{
		url:           url,
		dialer:        websocket.DefaultDialer,
		subs:          make(map[string]map[int]Handler),
		connListeners: make(map[int]func(bool)),
	}
}

// Subscribe registers a handler for frames of the given message type and
// adds demand for the physical connection. The returned function removes the
// handler and releases the demand; it is safe to call more than once.
func (h *Hub) Subscribe(msgType string, handler Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	set := h.subs[msgType]
	if set == nil {
		set = make(map[int]Handler)
		h.subs[msgType] = set
	}
	set[id] = handler
	h.acquireLocked()
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[msgType]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, msgType)
				}
			}
			conn := h.releaseLocked()
			h.mu.Unlock()

			if conn != nil {
				_ = conn.Close()
				h.notifyConnectivity(false)
			}
		})
	}
}

// OnConnectionChange registers a connectivity listener. Listeners observe
// the connection; they do not add demand for it. The returned function
// removes the listener.
func (h *Hub) OnConnectionChange(fn func(bool)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.connListeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.connListeners, id)
		h.mu.Unlock()
	}
}

// Connected reports whether the physical connection is currently open.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Send writes a JSON payload on the shared connection. Best-effort: when the
// connection is not open the payload is silently dropped, never queued.
func (h *Hub) Send(payload any) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if conn == nil {
		hubLog.Debug("send_dropped_disconnected")
		return
	}

	h.writeMu.Lock()
	err := conn.WriteJSON(payload)
	h.writeMu.Unlock()
	if err != nil {
		hubLog.Debug("send_failed", slog.String("error", err.Error()))
	}
}

// acquireLocked adds demand and dials on the 0->1 transition.
func (h *Hub) acquireLocked() {
	h.demand++
	if h.demand != 1 {
		return
	}
	if h.conn != nil || h.connecting {
		return
	}
	h.connecting = true
	go h.dial(h.gen)
}

// releaseLocked drops demand. On the 1->0 transition it cancels any pending
// reconnect, detaches the connection, and returns it for the caller to close
// outside the lock.
func (h *Hub) releaseLocked() *websocket.Conn {
	h.demand--
	if h.demand > 0 {
		return nil
	}

	if h.reconnect != nil {
		h.reconnect.Stop()
		h.reconnect = nil
	}
	h.gen++
	h.connecting = false
	h.attempts = 0

	conn := h.conn
	h.conn = nil
	h.connected = false
	return conn
}

func (h *Hub) dial(gen int) {
	conn, _, err := h.dialer.Dial(h.url, nil)

	h.mu.Lock()
	if gen != h.gen || h.demand == 0 {
		// Demand went away while dialing.
		h.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	h.connecting = false

	if err != nil {
		h.scheduleReconnectLocked()
		h.mu.Unlock()
		hubLog.Warn("hub_dial_failed",
			slog.String("url", h.url),
			slog.String("error", err.Error()))
		h.notifyConnectivity(false)
		return
	}

	h.conn = conn
	h.connected = true
	h.attempts = 0
	h.mu.Unlock()

	hubLog.Info("hub_connected", slog.String("url", h.url))
	h.notifyConnectivity(true)
	go h.readLoop(conn, gen)
}

func (h *Hub) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.handleClose(conn, gen, err)
			return
		}
		h.dispatch(data)
	}
}

func (h *Hub) handleClose(conn *websocket.Conn, gen int, cause error) {
	h.mu.Lock()
	if h.gen != gen || h.conn != conn {
		// Already detached by a demand drop; nothing to do.
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conn = nil
	h.connected = false
	if h.demand > 0 {
		h.scheduleReconnectLocked()
	}
	h.mu.Unlock()

	_ = conn.Close()
	hubLog.Warn("hub_disconnected", slog.String("error", cause.Error()))
	h.notifyConnectivity(false)
}

// scheduleReconnectLocked arms the single pending reconnect timer. A new
// attempt is only scheduled after the previous connection fully closed, so
// duplicate concurrent sockets cannot occur.
func (h *Hub) scheduleReconnectLocked() {
	delay := Backoff(h.attempts)
	h.attempts++
	gen := h.gen

	h.reconnect = time.AfterFunc(delay, func() {
		h.mu.Lock()
		h.reconnect = nil
		if gen != h.gen || h.demand == 0 || h.conn != nil || h.connecting {
			h.mu.Unlock()
			return
		}
		h.connecting = true
		h.mu.Unlock()
		h.dial(gen)
	})
}

// dispatch parses one inbound frame and fans it out to every handler
// registered for its type. A panicking handler is logged and skipped so one
// faulty subscriber cannot break delivery to the others.
func (h *Hub) dispatch(data []byte) {
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
		return
	}

	h.mu.Lock()
	handlers := make([]Handler, 0, len(h.subs[frame.Type]))
	for _, fn := range h.subs[frame.Type] {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		h.callHandler(frame.Type, fn, data)
	}
}

func (h *Hub) callHandler(msgType string, fn Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			hubLog.Error("subscriber_panic",
				slog.String("message_type", msgType),
				slog.Any("panic", r))
		}
	}()
	fn(payload)
}

func (h *Hub) notifyConnectivity(up bool) {
	h.mu.Lock()
	listeners := make([]func(bool), 0, len(h.connListeners))
	for _, fn := range h.connListeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					hubLog.Error("connectivity_listener_panic", slog.Any("panic", r))
				}
			}()
			fn(up)
		}()
	}
}

// Backoff returns the reconnect delay for the given attempt count:
// min(1s * 2^attempts, 30s). Pure so cancellation stays a matter of stopping
// one timer.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 { // 1s << 5 = 32s, already past the cap
		return 30 * time.Second
	}
	d := time.Second << attempts
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
