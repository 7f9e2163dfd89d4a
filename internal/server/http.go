package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/config"
	httphandler "github.com/windfall/pronunciation_service/internal/handler/http"
	"github.com/windfall/pronunciation_service/internal/metrics"
	"github.com/windfall/pronunciation_service/internal/middleware"
	"github.com/windfall/pronunciation_service/internal/proxy"
	"github.com/windfall/pronunciation_service/pkg/response"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Health *httphandler.HealthHandler
	API    *httphandler.APIHandler
	Auth   *httphandler.AuthHandler

	Authenticator middleware.Authenticator

	// Passthrough and Routes are mounted instead of the native evaluation
	// handler when PROXY_MODE=passthrough.
	Passthrough *proxy.Passthrough
	Routes      []proxy.Route
}

// HTTPServer represents the HTTP server.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewRouter builds the chi router for cfg.
func NewRouter(cfg *config.Config, log zerolog.Logger, h Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log, metrics.DefaultMetrics))
	r.Use(middleware.Recovery(log))
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusNotFound, &response.ErrorBody{Error: "Not Found", Code: "NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w)
	})

	// Health endpoints (public)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Get("/live", h.Health.Live)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/otp", h.Auth.SendOTP)
			r.Post("/verify", h.Auth.Verify)
			r.Get("/me", h.Auth.Me)
			r.Post("/logout", h.Auth.Logout)
			r.With(middleware.Auth(h.Authenticator)).Post("/activate", h.Auth.Activate)
		})

		if cfg.ProxyMode == config.ProxyModePassthrough {
			for _, route := range h.Routes {
				r.Handle(strings.TrimPrefix(route.Path, "/api"), h.Passthrough.Handler(route))
			}
			r.Group(func(r chi.Router) {
				if cfg.RequireSession {
					r.Use(middleware.Auth(h.Authenticator))
				}
				r.Post("/tts", h.API.Synthesize)
			})
			return
		}

		r.Group(func(r chi.Router) {
			if cfg.RequireSession {
				r.Use(middleware.Auth(h.Authenticator))
			}
			r.Post("/evaluation", h.API.Evaluate)
			r.Post("/tts", h.API.Synthesize)
		})
	})

	return r
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(cfg *config.Config, log zerolog.Logger, h Handlers) *HTTPServer {
	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      NewRouter(cfg, log, h),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &HTTPServer{
		server: server,
		log:    log,
	}
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
