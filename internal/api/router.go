// Package api serves the engine's HTTP interface: health, status, the trade
// and decision journal, runtime settings, manual trades and the event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"

	"papertrader/internal/engine"
	"papertrader/internal/events"
	"papertrader/internal/execution"
	"papertrader/internal/model"
	"papertrader/internal/settings"
)

// AdminOTPHeader carries the TOTP code required by mutating routes.
const AdminOTPHeader = "X-Admin-OTP"

// EngineView is the part of the scheduler the API reports on.
type EngineView interface {
	Symbol() string
	Metrics() engine.Metrics
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Engine    EngineView
	Settings  *settings.Cell
	Journal   model.Journal
	Trades    model.TradeStore
	Execution *execution.Engine
	Source    model.MarketDataSource
	Publisher events.Publisher // decision events for manual trades; may be nil
	Stream    http.Handler     // WebSocket event stream; may be nil
	Config    any              // redacted configuration shown by /api/status
}

// Options control cross-cutting behaviour.
type Options struct {
	EngineMode      string
	CORSOrigin      string
	AdminTOTPSecret string // empty disables the OTP check
	StartedAt       time.Time
}

type handler struct {
	deps Deps
	opts Options
}

// NewRouter builds the HTTP handler for all routes.
func NewRouter(deps Deps, opts Options) http.Handler {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	h := &handler{deps: deps, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/trades", h.trades)
	mux.HandleFunc("GET /api/decisions", h.decisions)
	mux.HandleFunc("POST /api/settings", h.admin(h.updateSettings))
	mux.HandleFunc("POST /api/test-signal-mode", h.admin(h.testSignalMode))
	mux.HandleFunc("POST /api/force-trade", h.admin(h.forceTrade))
	mux.HandleFunc("POST /api/trades/{id}/close", h.admin(h.closeTrade))
	if deps.Stream != nil {
		mux.Handle("GET /ws", deps.Stream)
	}

	return h.cors(mux)
}

// cors sets CORS headers on every REST response and answers preflights.
func (h *handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			w.Header().Set("Access-Control-Allow-Origin", h.opts.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+AdminOTPHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// admin rejects requests without a valid TOTP code when a secret is configured.
func (h *handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.AdminTOTPSecret != "" {
			code := r.Header.Get(AdminOTPHeader)
			if code == "" || !totp.Validate(code, h.opts.AdminTOTPSecret) {
				log.Printf("[api] rejected %s %s: invalid admin otp", r.Method, r.URL.Path)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing admin otp"})
				return
			}
		}
		next(w, r)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("[api] %s %s failed: %v", r.Method, r.URL.Path, err)
		writeJSON(w, code, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

// Server runs the API on its own listener.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer wraps h in an HTTP server bound to addr.
func NewServer(addr string, h http.Handler) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
