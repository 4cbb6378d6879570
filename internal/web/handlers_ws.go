package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsClientMessage struct {
	Type string `json:"type"`
}

type wsServerMessage struct {
	Type      string    `json:"type"` // status, error, gateway.connectivity, sessions.changed
	Event     string    `json:"event,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Connected *bool     `json:"connected,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes to one browser connection. Hub fan-out,
// registry pokes, and read-loop replies arrive from different goroutines.
type wsConnWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) WriteRaw(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// handleEventsWS bridges control-plane push notifications and registry
// rewrite pokes to one browser tab. Each open bridge counts as demand on
// the shared hub connection.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)
	_ = writer.WriteJSON(wsServerMessage{
		Type:  "status",
		Event: "connected",
		Time:  time.Now().UTC(),
	})

	if s.cfg.Hub != nil {
		for _, msgType := range s.cfg.EventTypes {
			unsub := s.cfg.Hub.Subscribe(msgType, func(payload json.RawMessage) {
				_ = writer.WriteRaw(payload)
			})
			defer unsub()
		}

		removeListener := s.cfg.Hub.OnConnectionChange(func(up bool) {
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "gateway.connectivity",
				Connected: &up,
				Time:      time.Now().UTC(),
			})
		})
		defer removeListener()
	}

	changes := s.subscribeChanges()
	defer s.unsubscribeChanges(changes)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-s.baseCtx.Done():
				return
			case <-changes:
				_ = writer.WriteJSON(wsServerMessage{
					Type: "sessions.changed",
					Time: time.Now().UTC(),
				})
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("events_ws_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				Time:    time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type:  "status",
				Event: "pong",
				Time:  time.Now().UTC(),
			})
		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping",
				Time:    time.Now().UTC(),
			})
		}
	}
}
