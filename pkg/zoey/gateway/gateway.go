// Package gateway provides Zoey's HTTP surface: a health endpoint and the
// Prometheus metrics endpoint.
package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
)

// Config configures the gateway.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`

	// AuthToken, when set, is required as a Bearer token on /metrics.
	AuthToken string `yaml:"auth_token"`
}

// HealthSource reports channel health.
type HealthSource interface {
	HealthAll() map[string]channels.HealthStatus
}

// StatsFunc returns extra status fields (pending reminders, active flows).
type StatsFunc func() map[string]any

// Gateway is the HTTP server.
type Gateway struct {
	cfg       Config
	health    HealthSource
	gatherer  prometheus.Gatherer
	stats     StatsFunc
	version   string
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a gateway. health and stats may be nil.
func New(cfg Config, health HealthSource, gatherer prometheus.Gatherer, stats StatsFunc, version string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8085"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Gateway{
		cfg:       cfg,
		health:    health,
		gatherer:  gatherer,
		stats:     stats,
		version:   version,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
}

// Handler returns the gateway routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/metrics", g.authMiddleware(promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{})))
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Start(ctx context.Context) error {
	g.server = &http.Server{
		Addr:              g.cfg.Address,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.warnIfExposed()

	ln, err := net.Listen("tcp", g.cfg.Address)
	if err != nil {
		return err
	}
	g.logger.Info("gateway started", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.logger.Info("gateway stopping")
		return g.server.Shutdown(shutdownCtx)
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	status := "ok"
	channelsMap := make(map[string]string)
	if g.health != nil {
		for name, st := range g.health.HealthAll() {
			if st.Connected {
				channelsMap[name] = "connected"
			} else {
				channelsMap[name] = "disconnected"
				status = "degraded"
			}
		}
	}

	body := map[string]any{
		"status":   status,
		"version":  g.version,
		"uptime":   time.Since(g.startedAt).Round(time.Second).String(),
		"channels": channelsMap,
	}
	if g.stats != nil {
		for k, v := range g.stats() {
			body[k] = v
		}
	}
	g.writeJSON(w, http.StatusOK, body)
}

// authMiddleware requires Authorization: Bearer <token> when a token is set.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !compareTokens(token, g.cfg.AuthToken) {
			g.writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// compareTokens compares SHA-256 digests in constant time.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

func (g *Gateway) warnIfExposed() {
	if g.cfg.AuthToken != "" {
		return
	}
	host, _, _ := net.SplitHostPort(g.cfg.Address)
	ip := net.ParseIP(host)
	if host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return
	}
	g.logger.Warn("gateway has no auth token and listens on a non-loopback address", "address", g.cfg.Address)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}
