package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/offlinefirst/keyhole/pkg/logging"
	"github.com/offlinefirst/keyhole/pkg/mediakeys"
	"github.com/offlinefirst/keyhole/pkg/routing"
)

// Backend is the controller surface the API drives.
type Backend interface {
	SimulatePressAndRelease(ctx context.Context, key mediakeys.Key) (mediakeys.Result, error)
	PreferredTarget() string
	Status() routing.Status
	Update(ctx context.Context, s routing.Settings) (routing.Status, error)
	CompleteOnboarding(ctx context.Context) (routing.OnboardingResult, error)
	Refresh(ctx context.Context) error
	Observe(fn func(routing.Status)) *routing.ObserverToken
}

// Options configures a Server.
type Options struct {
	Backend Backend
	Logger  *slog.Logger
}

// Server serves the control API.
type Server struct {
	backend     Backend
	broadcaster *Broadcaster
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewServer wires the API to backend.
func NewServer(opts Options) (*Server, error) {
	if opts.Backend == nil {
		return nil, errors.New("control: backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend:     opts.Backend,
		broadcaster: NewBroadcaster(logger),
		logger:      logger.With("component", "control"),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	return s, nil
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/commands/{name}", s.handleCommand)
	mux.HandleFunc("GET /v1/properties/preferred-app", s.handlePreferredApp)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("PUT /v1/settings", s.handleSettings)
	mux.HandleFunc("POST /v1/onboarding/continue", s.handleOnboarding)
	mux.HandleFunc("POST /v1/refresh", s.handleRefresh)
	mux.HandleFunc("GET /v1/ws", s.handleWS)
	return rejectCrossOrigin(mux)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	token := s.backend.Observe(s.broadcaster.Publish)
	defer token.Release()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("control API listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.broadcaster.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.broadcaster.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	key, err := KeyForCommand(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	res, err := s.backend.SimulatePressAndRelease(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.logger.Debug("scripted command", "command", name, "result", res.String())
	writeJSON(w, http.StatusOK, CommandResponse{Command: name, Result: res.String()})
}

func (s *Server) handlePreferredApp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PreferredAppResponse{BundleID: s.backend.PreferredTarget()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode settings: %w", err))
		return
	}

	if req.LogLevel != nil {
		lvl, err := logging.ParseLevel(*req.LogLevel)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		logging.Level.Set(lvl)
		s.logger.Info("log level changed", "level", lvl.String())
	}

	status, err := s.backend.Update(r.Context(), req.Settings)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, routing.ErrInvalidSettings):
			code = http.StatusBadRequest
		case errors.Is(err, routing.ErrClosed):
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.CompleteOnboarding(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := s.broadcaster.AddClient(conn)
	s.logger.Debug("status client connected", "remote", r.RemoteAddr, "clients", s.broadcaster.ClientCount())

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Debug("status client disconnected", "remote", r.RemoteAddr, "clients", s.broadcaster.ClientCount())
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// rejectCrossOrigin refuses browser requests from pages not served by a loopback host.
func rejectCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
