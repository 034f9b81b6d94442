// Package gateway exposes a small HTTP status surface for probes and
// monitoring: /healthz for liveness and /api/status for channel health,
// session count and lifetime usage totals. Optional bearer-token auth
// protects everything except /healthz.
package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/audit"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

const version = "0.1.0"

// Config controls the status gateway.
type Config struct {
	// Enabled turns the gateway on.
	Enabled bool `yaml:"enabled"`

	// Address is the listen address.
	Address string `yaml:"address"`

	// AuthToken protects /api/* when non-empty. /healthz stays public.
	AuthToken string `yaml:"auth_token"`
}

// DefaultConfig returns the gateway defaults: disabled, loopback-only.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Address: "127.0.0.1:8087",
	}
}

// ChannelHealth is the slice of the channel manager the gateway reads.
type ChannelHealth interface {
	HealthAll() map[string]channels.HealthStatus
}

// SessionCounter reports how many user sessions the store holds.
type SessionCounter interface {
	Len() int
}

// UsageTotals reports lifetime audit aggregates.
type UsageTotals interface {
	TotalStats() (*audit.Totals, error)
}

// Gateway is the HTTP status server.
type Gateway struct {
	cfg       Config
	chans     ChannelHealth
	sessions  SessionCounter
	usage     UsageTotals
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a Gateway. Any of the sources may be nil; the
// corresponding status fields are then omitted.
func New(cfg Config, chans ChannelHealth, sessions SessionCounter, usage UsageTotals, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultConfig().Address
	}
	return &Gateway{
		cfg:      cfg,
		chans:    chans,
		sessions: sessions,
		usage:    usage,
		logger:   logger.With("component", "gateway"),
	}
}

// Start begins serving in a background goroutine.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:    g.cfg.Address,
		Handler: g.routes(),
	}

	// Warn when the gateway has no auth token and is reachable beyond
	// loopback.
	if g.cfg.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.cfg.Address)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address",
				"address", g.cfg.Address)
		}
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.cfg.Address)
	return nil
}

// Stop gracefully shuts down the server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping")
	return g.server.Shutdown(ctx)
}

// routes builds the handler chain.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", g.handleHealthz)
	mux.HandleFunc("/api/status", g.handleStatus)
	return g.securityHeaders(g.auth(mux))
}

// handleHealthz implements GET /healthz. Always public.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version,
		"uptime":  g.uptime(),
	})
}

// handleStatus implements GET /api/status.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload := map[string]any{
		"status":  "ok",
		"version": version,
		"uptime":  g.uptime(),
	}

	if g.chans != nil {
		channelsMap := make(map[string]string)
		for name, st := range g.chans.HealthAll() {
			if st.Connected {
				channelsMap[name] = "connected"
			} else {
				channelsMap[name] = "disconnected"
			}
		}
		payload["channels"] = channelsMap
	}

	if g.sessions != nil {
		payload["sessions"] = g.sessions.Len()
	}

	if g.usage != nil {
		totals, err := g.usage.TotalStats()
		if err != nil {
			g.logger.Warn("reading usage totals failed", "error", err)
		} else {
			payload["usage"] = map[string]any{
				"turns":    totals.Turns,
				"users":    totals.Users,
				"errors":   totals.Errors,
				"cost_usd": totals.CostUSD,
			}
		}
	}

	g.writeJSON(w, http.StatusOK, payload)
}

func (g *Gateway) uptime() string {
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}
	return uptime
}

// ---------- Middleware ----------

// auth requires Authorization: Bearer <token> when a token is configured.
// /healthz is always exempt.
func (g *Gateway) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.AuthToken == "" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			g.writeError(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			g.writeError(w, "invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if !compareTokens(token, g.cfg.AuthToken) {
			g.writeError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard response headers.
func (g *Gateway) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// compareTokens hashes both inputs with SHA-256 before the constant-time
// compare so length differences leak nothing.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// ---------- Responses ----------

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	g.writeJSON(w, code, resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
