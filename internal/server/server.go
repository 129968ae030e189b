package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rlink/rlink/internal/config"
	"github.com/rlink/rlink/internal/metrics"
	"github.com/rlink/rlink/internal/server/handlers"
	"github.com/rlink/rlink/internal/server/middleware"
	"github.com/rlink/rlink/internal/terminal"
)

type Server struct {
	cfg        *config.Config
	router     chi.Router
	httpServer *http.Server
	registry   *terminal.Registry
	metrics    *metrics.Metrics
	ssh        terminal.Connector
	local      terminal.Connector
}

// Option customizes a Server.
type Option func(*Server)

// WithSSHConnector replaces the SSH connector, e.g. in tests.
func WithSSHConnector(c terminal.Connector) Option {
	return func(s *Server) { s.ssh = c }
}

func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		registry: terminal.NewRegistry(cfg.IdleTimeout),
		metrics:  metrics.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.ssh == nil {
		hostKeyCallback, err := terminal.HostKeyCallback(cfg.SSHKnownHosts, cfg.RequireSSHHostKey)
		if err != nil {
			return nil, fmt.Errorf("server: host key policy: %w", err)
		}
		s.ssh = &terminal.SSHConnector{HostKeyCallback: hostKeyCallback}
	}
	if cfg.LocalShell != "" {
		s.local = &terminal.PTYConnector{Shell: cfg.LocalShell}
		log.Warn().Str("shell", cfg.LocalShell).Msg("local shell sessions enabled for host=local")
	}

	s.setupRouter()

	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks
	r.Get("/health", handlers.Health(s.cfg.Version))
	r.Get("/ready", handlers.Ready(s.registry.Len))
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Terminal WebSocket
	r.With(middleware.Auth(s.cfg.APIToken)).Method(http.MethodGet, s.cfg.TerminalPath, &handlers.Terminal{
		SSH:          s.ssh,
		Local:        s.local,
		Registry:     s.registry,
		Metrics:      s.metrics,
		AuthTimeout:  s.cfg.AuthTimeout,
		PingInterval: s.cfg.PingInterval,
		Upgrader: websocket.Upgrader{
			// Terminal clients are often not browsers and send no Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	})

	s.router = r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// Hijacked WebSocket connections are not tracked by http.Server.
	log.Info().Int("sessions", s.registry.Len()).Msg("Closing terminal sessions")
	s.registry.CloseAll()

	return err
}
