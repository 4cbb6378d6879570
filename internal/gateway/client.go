package gateway

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Wadera/clawboard/internal/config"
	"github.com/Wadera/clawboard/internal/logging"
	"github.com/Wadera/clawboard/internal/registry"
)

// Version is reported in the connect handshake.
const Version = "0.4.0"

var gwLog = logging.ForComponent(logging.CompGateway)

const (
	// abortTimeout is the watchdog on one full abort exchange. The call
	// always resolves within this bound even if the remote never responds.
	abortTimeout = 10 * time.Second

	// activeWindow scopes StopAll to sessions updated this recently
	activeWindow = 5 * time.Minute
)

// Client issues control commands to the gateway process. Each command opens
// its own short-lived connection: a stuck call can never block another
// in-flight command sharing a socket.
type Client struct {
	// URL is the gateway websocket address
	URL string

	// Auth carries resolved credentials; both fields empty is valid
	Auth config.GatewayAuth

	// Registry scopes fleet-wide operations to known sessions
	Registry *registry.Reader

	// Timeout overrides the per-call watchdog (tests); zero means default
	Timeout time.Duration

	// ActiveWindow overrides how recently a session must have been updated
	// to count as active for fleet-wide stops; zero means default
	ActiveWindow time.Duration

	// Dialer overrides the websocket dialer (tests); nil means default
	Dialer *websocket.Dialer

	instanceID string
}

// NewClient creates a control client for the given gateway address.
func NewClient(url string, auth config.GatewayAuth, reg *registry.Reader) *Client {
	return &Client{
		URL:        url,
		Auth:       auth,
		Registry:   reg,
		instanceID: uuid.NewString(),
	}
}

// AbortResult reports the outcome of one abort command.
type AbortResult struct {
	SessionKey string `json:"sessionKey"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// Abort stops the run of one session. Returns true on success, including
// the idempotent case where the remote reports no active run. Never panics
// and never takes longer than the watchdog timeout.
func (c *Client) Abort(sessionKey string) bool {
	return c.AbortDetail(sessionKey).OK
}

// StopMain aborts the bot's main session.
func (c *Client) StopMain() bool {
	return c.Abort(registry.MainSessionKey)
}

// StopAgent aborts one session by key.
func (c *Client) StopAgent(sessionKey string) bool {
	return c.Abort(sessionKey)
}

// ListActiveAgents returns sessions updated within the active window.
func (c *Client) ListActiveAgents() ([]registry.Session, error) {
	return c.Registry.ActiveWithin(c.window(), time.Now())
}

// StopAll aborts every recently-active session independently, each over its
// own connection. One failed abort never suppresses the others; the result
// slice has exactly one entry per active session, ordered by session key.
func (c *Client) StopAll() ([]AbortResult, error) {
	sessions, err := c.ListActiveAgents()
	if err != nil {
		return nil, err
	}

	results := make([]AbortResult, len(sessions))
	var g errgroup.Group
	for i, s := range sessions {
		i, s := i, s
		g.Go(func() error {
			results[i] = c.AbortDetail(s.Key)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// AbortDetail performs one abort exchange and reports the outcome with the
// remote's error message, if any.
func (c *Client) AbortDetail(sessionKey string) AbortResult {
	res := AbortResult{SessionKey: sessionKey}

	dialer := c.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: c.timeout()}
	}

	conn, _, err := dialer.Dial(c.URL, nil)
	if err != nil {
		gwLog.Warn("gateway_dial_failed",
			slog.String("url", c.URL),
			slog.String("error", err.Error()))
		res.Error = "gateway unreachable"
		return res
	}
	// The deferred close is the single close path for every resolution:
	// response received, transport error, or watchdog deadline.
	defer conn.Close()

	deadline := time.Now().Add(c.timeout())
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	if err := conn.WriteJSON(request{
		Type:   frameTypeRequest,
		ID:     "connect-1",
		Method: methodConnect,
		Params: c.connectParams(),
	}); err != nil {
		res.Error = "gateway handshake failed"
		return res
	}

	connectRes, err := awaitResponse(conn, "connect-1")
	if err != nil {
		gwLog.Warn("gateway_connect_timeout",
			slog.String("session_key", sessionKey),
			slog.String("error", err.Error()))
		res.Error = "gateway did not respond"
		return res
	}
	if !connectRes.OK {
		res.Error = "connect rejected: " + connectRes.errorText()
		return res
	}

	if err := conn.WriteJSON(request{
		Type:   frameTypeRequest,
		ID:     "abort-1",
		Method: methodAbort,
		Params: abortParams{SessionKey: sessionKey},
	}); err != nil {
		res.Error = "abort send failed"
		return res
	}

	abortRes, err := awaitResponse(conn, "abort-1")
	if err != nil {
		gwLog.Warn("gateway_abort_timeout",
			slog.String("session_key", sessionKey),
			slog.String("error", err.Error()))
		res.Error = "gateway did not respond"
		return res
	}

	if abortRes.OK {
		res.OK = true
		return res
	}

	// Aborting an already-stopped session is not an error.
	if isBenignAbortError(abortRes.errorText()) {
		gwLog.Debug("abort_already_stopped", slog.String("session_key", sessionKey))
		res.OK = true
		return res
	}

	res.Error = abortRes.errorText()
	gwLog.Warn("abort_rejected",
		slog.String("session_key", sessionKey),
		slog.String("error", res.Error))
	return res
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return abortTimeout
}

func (c *Client) window() time.Duration {
	if c.ActiveWindow > 0 {
		return c.ActiveWindow
	}
	return activeWindow
}

// awaitResponse reads frames until the response with the given correlation
// id arrives. Frames that are not JSON control messages, or that correlate
// to something else, are skipped. A read error (including the watchdog
// deadline) ends the wait.
func awaitResponse(conn *websocket.Conn, id string) (*response, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Type != frameTypeResponse || resp.ID != id {
			continue
		}
		return &resp, nil
	}
}

// isBenignAbortError reports whether a remote abort failure means the
// session simply had nothing running.
func isBenignAbortError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no active run") ||
		strings.Contains(m, "not found") ||
		strings.Contains(m, "not_found") ||
		strings.Contains(m, "unknown session")
}
