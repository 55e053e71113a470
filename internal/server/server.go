package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spigell/careerhub/internal/ai"
	"github.com/spigell/careerhub/internal/hub"
	"github.com/spigell/careerhub/internal/logger"
	"github.com/spigell/careerhub/internal/metrics"
	"github.com/spigell/careerhub/internal/persistence"
	"github.com/spigell/careerhub/internal/registry"
	"github.com/spigell/careerhub/internal/stats"
)

const (
	DefaultAddr           = ":5000"
	DefaultMaxUploadBytes = 10 << 20

	defaultShutdownTimeout = 10 * time.Second
	identityHeader         = "X-User-Email"
)

type Config struct {
	Addr            string
	MaxUploadBytes  int64
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Hub is the part of *hub.Hub the server needs.
type Hub interface {
	Submit(ctx context.Context, ev hub.Event) error
	Snapshot(identity string) stats.Record
	Identities() int
	Pending() int
}

// UserFinder looks up durable user records.
type UserFinder interface {
	Find(ctx context.Context, identity string) (*persistence.User, error)
}

// Server exposes the hub over HTTP and websockets.
type Server struct {
	cfg      Config
	hub      Hub
	registry *registry.Registry
	users    UserFinder
	analyzer ai.Analyzer
	logger   *zap.Logger

	upgrader websocket.Upgrader
	router   *mux.Router
}

// New builds the server. users and analyzer may be nil.
func New(cfg Config, h Hub, reg *registry.Registry, users UserFinder, analyzer ai.Analyzer, log *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if analyzer == nil {
		analyzer = ai.Disabled{}
	}

	s := &Server{
		cfg:      cfg,
		hub:      h,
		registry: reg,
		users:    users,
		analyzer: analyzer,
		logger:   logger.Component(log, "server"),
		router:   mux.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	s.router.Use(s.recovery, s.logging, s.cors)
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers all routes with the router
func (s *Server) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze", s.analyze).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/stats", s.globalStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/{identity}", s.identityStats).Methods(http.MethodGet)
	api.HandleFunc("/users/{identity}", s.user).Methods(http.MethodGet)

	router.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
