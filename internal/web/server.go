// Package web serves the operator HTTP surface: session listing with live
// classification, abort controls, and a websocket bridge that forwards
// control-plane push notifications to browser tabs. The task/project board
// UI itself lives elsewhere and only consumes these APIs.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Wadera/clawboard/internal/gateway"
	"github.com/Wadera/clawboard/internal/hub"
	"github.com/Wadera/clawboard/internal/liveness"
	"github.com/Wadera/clawboard/internal/logging"
	"github.com/Wadera/clawboard/internal/registry"
)

var webLog = logging.ForComponent(logging.CompWeb)

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string

	// Token guards the API and websocket endpoints; empty disables auth
	Token string

	Registry   *registry.Reader
	Classifier *liveness.Classifier
	Gateway    *gateway.Client
	Hub        *hub.Hub

	// EventTypes are the control-plane message types bridged to browsers.
	// Empty means the default set.
	EventTypes []string
}

var defaultEventTypes = []string{"queue.snapshot", "session.snapshot"}

// Server wraps the HTTP server for clawboard's operator surface.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// abortLimiter throttles operator abort actions; every call dials the
	// gateway, so a stuck button must not open a socket flood
	abortLimiter *rate.Limiter

	regWatcher *registry.Watcher

	changeSubscribersMu sync.Mutex
	changeSubscribers   map[chan struct{}]struct{}
}

// NewServer creates a web server with routes and middleware configured.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8430"
	}
	if len(cfg.EventTypes) == 0 {
		cfg.EventTypes = defaultEventTypes
	}

	s := &Server{
		cfg:               cfg,
		abortLimiter:      rate.NewLimiter(rate.Limit(5), 10),
		changeSubscribers: make(map[chan struct{}]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionAbort)
	mux.HandleFunc("/api/sessions/abort-all", s.handleAbortAll)
	mux.HandleFunc("/ws/events", s.handleEventsWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	if s.cfg.Registry != nil {
		if watcher, err := registry.NewWatcher(s.cfg.Registry.Path); err != nil {
			webLog.Warn("registry_watcher_disabled", slog.String("error", err.Error()))
		} else {
			s.regWatcher = watcher
			go watcher.Start()
			go s.forwardRegistryChanges(watcher)
		}
	}

	err := s.httpServer.ListenAndServe()
	if s.regWatcher != nil {
		s.regWatcher.Stop()
		s.regWatcher = nil
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived websocket handlers to stop promptly.
		s.cancelBase()
	}
	if s.regWatcher != nil {
		s.regWatcher.Stop()
		s.regWatcher = nil
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	}
	if s.cfg.Hub != nil {
		resp["gatewayConnected"] = s.cfg.Hub.Connected()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// forwardRegistryChanges pokes every websocket bridge when the agent
// runtime rewrites the registry file.
func (s *Server) forwardRegistryChanges(watcher *registry.Watcher) {
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case _, ok := <-watcher.Changes():
			if !ok {
				return
			}
			s.notifySessionsChanged()
		}
	}
}

func (s *Server) subscribeChanges() chan struct{} {
	ch := make(chan struct{}, 1)
	s.changeSubscribersMu.Lock()
	s.changeSubscribers[ch] = struct{}{}
	s.changeSubscribersMu.Unlock()
	return ch
}

func (s *Server) unsubscribeChanges(ch chan struct{}) {
	s.changeSubscribersMu.Lock()
	delete(s.changeSubscribers, ch)
	s.changeSubscribersMu.Unlock()
}

func (s *Server) notifySessionsChanged() {
	s.changeSubscribersMu.Lock()
	defer s.changeSubscribersMu.Unlock()
	for ch := range s.changeSubscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
