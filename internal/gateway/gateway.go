// ABOUTME: Gateway orchestrator that wires the store, auth, moderation and WebSocket hub
// ABOUTME: Serves the HTTP API and /ws on one listener and manages their lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/coven-inbox/internal/api"
	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/dedupe"
	"github.com/2389/coven-inbox/internal/moderation"
	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

// Gateway serves the history API and the real-time hub for the chat client.
type Gateway struct {
	config     *config.Config
	store      store.Store
	hub        *realtime.Hub
	verifier   auth.TokenVerifier
	moderator  *moderation.Moderator
	httpServer *http.Server
	logger     *slog.Logger

	// relayed remembers client broadcasts already fanned out
	relayed *dedupe.Cache

	now func() time.Time
}

// initStore opens the SQLite store named by config, honouring COVEN_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a gateway backed by the configured SQLite database.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, err
	}
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a gateway over an already opened store. The gateway
// takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	var words []string
	if cfg.Moderation.Enabled {
		words = cfg.Moderation.Words
	}
	moderator, err := moderation.NewModerator(words, cfg.MaskRune())
	if err != nil {
		return nil, fmt.Errorf("creating moderator: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		verifier:  verifier,
		moderator: moderator,
		logger:    logger.With("component", "gateway"),
		relayed:   dedupe.New(cfg.Client.DedupeTTL, cfg.Client.DedupeSize),
		now:       time.Now,
	}
	gw.hub = realtime.NewHub(gw, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Moderation.Enabled {
		gw.logger.Info("moderation enabled", "words", len(words))
	}
	return gw, nil
}

// Handler returns the HTTP routes of the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	authMiddleware := auth.HTTPAuthMiddleware(g.verifier, g.logger)

	mux.HandleFunc(api.PathHealth, g.handleHealth)
	mux.Handle(api.PathConversations, authMiddleware(http.HandlerFunc(g.handleListConversations)))
	mux.Handle(api.PathMessages, authMiddleware(http.HandlerFunc(g.handleMessages)))
	mux.Handle(api.PathMarkRead, authMiddleware(http.HandlerFunc(g.handleMarkRead)))
	mux.Handle(api.PathUnreadCount, authMiddleware(http.HandlerFunc(g.handleUnreadCount)))
	mux.Handle(api.PathUnread, authMiddleware(http.HandlerFunc(g.handleUnread)))
	mux.Handle(api.PathProfile, authMiddleware(http.HandlerFunc(g.handleProfile)))
	mux.Handle(api.PathWebSocket, authMiddleware(http.HandlerFunc(g.handleWebSocket)))
	return mux
}

// Hub exposes the real-time hub, for tests and embedding.
func (g *Gateway) Hub() *realtime.Hub {
	return g.hub
}

// Run serves until ctx is canceled, then shuts down gracefully.
// Returns nil on graceful shutdown, or the error of a failed server.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, disconnects every WebSocket client and
// closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	// Hijacked WebSocket connections are not tracked by http.Server.
	g.hub.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.relayed.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
