package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-forwarder/internal/auth"
	"github.com/lorawan-server/udp-forwarder/internal/config"
	"github.com/lorawan-server/udp-forwarder/internal/forwarder"
	"github.com/lorawan-server/udp-forwarder/internal/storage"
)

type contextKey string

const claimsKey contextKey = "claims"

// StatusProvider reports the state of the UDP servers
type StatusProvider interface {
	Status() []forwarder.ServerStatus
}

// RESTServer represents the REST API server
type RESTServer struct {
	gatewayID string
	status    StatusProvider
	store     storage.Store
	auth      *auth.JWTManager // nil 表示不校验
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server. Routes other than the health
// check require a bearer token when cfg.JWTSecret is set.
func NewRESTServer(cfg config.APIConfig, gatewayID string, status StatusProvider, store storage.Store) *RESTServer {
	s := &RESTServer{
		gatewayID: gatewayID,
		status:    status,
		store:     store,
		router:    chi.NewRouter(),
	}
	if cfg.JWTSecret != "" {
		s.auth = auth.NewJWTManager(cfg.JWTSecret)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ServeHTTP implements http.Handler
func (s *RESTServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server. It returns nil after Shutdown.
func (s *RESTServer) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting REST API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := s.auth.ValidateRequest(r)
		if err != nil {
			if errors.Is(err, auth.ErrMissingToken) {
				s.respondError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// Add claims to context
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
