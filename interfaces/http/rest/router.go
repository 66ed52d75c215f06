package rest

import (
	"net/http"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/services"
	"github.com/Eashwar-S/knowledge-map/infrastructure/observability"
	"github.com/Eashwar-S/knowledge-map/interfaces/http/rest/handlers"
	"github.com/Eashwar-S/knowledge-map/interfaces/http/rest/middleware"
	"github.com/Eashwar-S/knowledge-map/pkg/common"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"
	"github.com/Eashwar-S/knowledge-map/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// ServiceName names the HTTP server spans
const ServiceName = "knowledge-map"

// Options tune the router
type Options struct {
	EnableCORS     bool
	AllowedOrigins []string
	MaxBodyBytes   int64
	// Debug puts raw error messages into 500 responses
	Debug   bool
	Tracing bool
	// Collector serves /metrics and records HTTP metrics when set
	Collector *observability.Collector
	// RateLimitPerMinute caps requests per client IP. Zero disables it.
	RateLimitPerMinute int
}

// Router creates and configures the HTTP router
type Router struct {
	service *services.GraphService
	opts    Options
	logger  *zap.Logger
	limiter *ratelimit.TokenBucketLimiter
}

// NewRouter creates a new router instance
func NewRouter(service *services.GraphService, opts Options, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{service: service, opts: opts, logger: logger}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()
	errHandler := pkgerrors.NewErrorHandler(rt.logger, rt.opts.Debug)

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	if n := rt.opts.RateLimitPerMinute; n > 0 {
		if rt.limiter == nil {
			rt.limiter = ratelimit.PerMinute(n)
		}
		router.Use(middleware.RateLimit(rt.limiter, time.Minute/time.Duration(n), rt.logger))
	}
	router.Use(errHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.opts.Tracing {
		router.Use(observability.TracingMiddleware(ServiceName))
	}
	if rt.opts.Collector != nil {
		router.Use(rt.opts.Collector.HTTPMetrics)
	}

	if rt.opts.EnableCORS {
		origins := rt.opts.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.opts.Collector != nil {
		router.Handle("/metrics", rt.opts.Collector.Handler())
	}

	graphHandler := handlers.NewGraphHandler(rt.service, errHandler, rt.logger, rt.opts.MaxBodyBytes)
	nodeHandler := handlers.NewNodeHandler(rt.service, errHandler, rt.logger, rt.opts.MaxBodyBytes)
	edgeHandler := handlers.NewEdgeHandler(rt.service, errHandler, rt.logger, rt.opts.MaxBodyBytes)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/graph", graphHandler.GetGraph)
		r.Get("/graphs", graphHandler.ListGraphs)

		r.Route("/graphs/{graph}", func(r chi.Router) {
			r.Get("/", graphHandler.GetNamedGraph)
			r.Post("/", graphHandler.CreateGraph)
			r.Get("/history", graphHandler.History)
			r.Get("/verify", graphHandler.Verify)

			r.Post("/nodes", nodeHandler.AddNode)
			r.Put("/nodes/{nodeID}/content", nodeHandler.SetContent)
			r.Delete("/nodes/{nodeID}", nodeHandler.RemoveNode)

			r.Post("/edges", edgeHandler.AddEdge)
			r.Delete("/edges", edgeHandler.RemoveEdge)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		common.RespondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	return router
}

// Close releases the rate limiter
func (rt *Router) Close() {
	if rt.limiter != nil {
		rt.limiter.Stop()
	}
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readinessCheck reports ready once the snapshot store answers
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if _, err := rt.service.ListGraphs(req.Context()); err != nil {
		rt.logger.Warn("Readiness check failed", zap.Error(err))
		common.RespondError(w, http.StatusServiceUnavailable, string(pkgerrors.ErrorTypeIO), "storage unavailable")
		return
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
