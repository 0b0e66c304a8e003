package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/quirck3n/refugio-gateway/internal/gateway/config"
	"github.com/quirck3n/refugio-gateway/internal/gateway/errs"
	"github.com/quirck3n/refugio-gateway/internal/gateway/handlers"
	"github.com/quirck3n/refugio-gateway/internal/gateway/metrics"
	"github.com/quirck3n/refugio-gateway/internal/gateway/middleware"
	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
	"github.com/quirck3n/refugio-gateway/internal/gateway/pipeline"
	"github.com/quirck3n/refugio-gateway/internal/gateway/processors"
	"github.com/quirck3n/refugio-gateway/internal/gateway/routes"
	"github.com/quirck3n/refugio-gateway/pkg/response"
)

// Deps are the components the server wires into its routes.
type Deps struct {
	Config    *config.Config
	Routes    []models.Route
	Pipeline  *pipeline.Pipeline
	Forwarder *processors.Forwarder
	Health    *processors.HealthAggregator
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

type Server struct {
	config     *config.Config
	handler    http.Handler
	httpServer *http.Server
	health     *processors.HealthAggregator
	logger     *zap.Logger
}

func New(d Deps) (*Server, error) {
	router, err := setupRouter(d)
	if err != nil {
		return nil, err
	}

	// Middleware wraps the router itself so that preflight, 404 and 405
	// responses also get a request id, CORS headers and an access log line.
	handler := chain(router,
		middleware.RequestID(),
		middleware.Logger(d.Logger),
		middleware.Recovery(d.Logger),
		middleware.CORS(d.Config.CORS.AllowedOrigins),
		middleware.ClientIP(),
	)

	return &Server{
		config:  d.Config,
		handler: handler,
		health:  d.Health,
		logger:  d.Logger,
		httpServer: &http.Server{
			Addr:         ":" + d.Config.Server.Port,
			Handler:      handler,
			ReadTimeout:  time.Duration(d.Config.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(d.Config.Server.WriteTimeout) * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the periodic health checker and serves until Shutdown.
func (s *Server) Start() error {
	s.health.Start(s.config.Health.Interval)

	s.logger.Info("gateway listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Stop()
	return s.httpServer.Shutdown(ctx)
}

func setupRouter(d Deps) (*mux.Router, error) {
	r := mux.NewRouter()

	gatewayHandler := handlers.NewGatewayHandler(d.Forwarder, d.Config.Server.MaxBodySize)
	healthHandler := handlers.NewHealthHandler(d.Health, d.Config.Server.Version)
	metricsHandler := handlers.NewMetricsHandler(d.Metrics)

	local := map[string]pipeline.Handler{
		routes.LocalHealth:        healthHandler.Health,
		routes.LocalHealthAll:     healthHandler.All,
		routes.LocalHealthService: healthHandler.Service,
		routes.LocalMetrics:       metricsHandler.Metrics,
	}

	// Routes are matched in table order.
	for _, route := range d.Routes {
		h := gatewayHandler.Proxy
		if route.Local != "" {
			var ok bool
			if h, ok = local[route.Local]; !ok {
				return nil, fmt.Errorf("route %s: unknown local handler %q", route.Name, route.Local)
			}
		}
		handler := d.Pipeline.Handler(route, h)

		register(r.Handle(route.Path, handler), route)
		if route.Prefix {
			register(r.PathPrefix(route.Path+"/").Handler(handler), route)
		}
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, errs.New(errs.NotFound, fmt.Sprintf("Cannot %s %s", req.Method, req.URL.Path)))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, errs.New(errs.MethodNotAllowed, fmt.Sprintf("method %s not allowed", req.Method)))
	})

	return r, nil
}

func register(r *mux.Route, route models.Route) {
	if len(route.Methods) > 0 {
		r.Methods(route.Methods...)
	}
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
