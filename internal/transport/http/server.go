package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"memematch/internal/app"
	"memematch/internal/config"
	"memematch/internal/store"
	"memematch/internal/transport/ws"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router chi.Router
	hub    *app.Hub
	store  store.Store
	config *config.Config
	logger *slog.Logger
}

// NewServer creates a new HTTP server for the lobby API and the store websocket
func NewServer(cfg *config.Config, hub *app.Hub, s store.Store, logger *slog.Logger) *Server {
	srv := &Server{
		hub:    hub,
		store:  s,
		config: cfg,
		logger: logger,
	}
	srv.router = srv.routes()

	srv.server = &http.Server{
		Addr:              cfg.GetAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// routes configures all HTTP routes
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Route("/lobbies", func(r chi.Router) {
			r.Post("/", s.handleCreateLobby)
			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", s.handleGetLobby)
				r.Post("/join", s.handleJoinLobby)
				r.Post("/bots", s.handleAddBot)
				r.Post("/start", s.handleStartGame)
				r.Post("/leave", s.handleLeaveLobby)
			})
		})
	})

	limits := ws.Limits{
		MessagesPerSecond: s.config.Transport.MessagesPerSecond,
		Burst:             s.config.Transport.MessageBurst,
		MaxMessageBytes:   s.config.Transport.MaxMessageBytes,
	}
	r.Method(http.MethodGet, "/ws", ws.NewHandler(s.hub, s.store, limits, s.logger))

	return r
}

// logRequests logs each request through slog
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		// Health probes are noise outside development
		if s.config.IsDevelopment() || r.URL.Path != "/api/health" {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.Status(),
				"duration", time.Since(start),
				"requestID", middleware.GetReqID(r.Context()),
			)
		}
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}
