package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/authz-gateway/app"
	"github.com/upb/authz-gateway/internal/router"
	"go.uber.org/zap"
)

// SetupRoutes configures global middleware, the infrastructure endpoints
// and every controller route
func SetupRoutes(deps *app.Dependencies) (http.Handler, *router.Router, error) {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(deps.Errors.Recover)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(deps.Errors.Timeout(cfg.Server.RequestTimeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.Health.HandleHealth)
	r.Get("/readyz", deps.Health.HandleReadiness)

	if cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.NotFound(deps.Errors.NotFound)
	r.MethodNotAllowed(deps.Errors.MethodNotAllowed)

	rt := router.New(router.NewChiTransport(r), deps.Guards(), deps.Errors, deps.Logger)
	if err := rt.Mount(deps.Controllers...); err != nil {
		return nil, nil, fmt.Errorf("failed to mount routes: %w", err)
	}

	return r, rt, nil
}

// requestLogger logs one line per request with the request id
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
