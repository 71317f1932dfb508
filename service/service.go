// Package service assembles the web service from its parts. A Service holds
// the router plus the dependencies handlers need, injected with With...
// builders, so each resource package registers its routes against a fully
// wired Service.
package service

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/medpipe/cxrscan/config"
	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/metrics"
)

// Dependencies is a map to hold arbitrary extra dependencies.
type Dependencies map[string]any

// Service is the core struct for the web service. The pipeline dependencies
// are typed; anything else goes through the Dependencies map and must be
// type-asserted by the handler that reads it.
type Service struct {
	Config       config.Config
	Router       *gin.Engine
	Logger       *logharbour.Logger
	Submitter    *jobs.Submitter
	MetricsView  *jobs.MetricsView
	Metrics      metrics.Metrics
	Dependencies Dependencies
}

// NewService constructs a new Service around the given router.
func NewService(r *gin.Engine) *Service {
	return &Service{
		Router: r,
	}
}

// WithDependency injects an arbitrary dependency into the Service.
func (s *Service) WithDependency(key string, value any) *Service {
	if s.Dependencies == nil {
		s.Dependencies = make(Dependencies)
	}
	s.Dependencies[key] = value
	return s
}

// WithConfig injects the configuration source.
func (s *Service) WithConfig(cfg config.Config) *Service {
	s.Config = cfg
	return s
}

// WithLogger injects the logger.
func (s *Service) WithLogger(l *logharbour.Logger) *Service {
	s.Logger = l
	return s
}

// WithSubmitter injects the job submission path.
func (s *Service) WithSubmitter(sub *jobs.Submitter) *Service {
	s.Submitter = sub
	return s
}

// WithMetricsView injects the operational metrics view.
func (s *Service) WithMetricsView(v *jobs.MetricsView) *Service {
	s.MetricsView = v
	return s
}

// WithMetrics injects the metrics recorder.
func (s *Service) WithMetrics(m metrics.Metrics) *Service {
	s.Metrics = m
	return s
}

// HandlerFunc is a request handler bound to the Service.
type HandlerFunc func(*gin.Context, *Service)

// RegisterRoute registers a single route directly on the service's engine.
func (s *Service) RegisterRoute(method, path string, handler HandlerFunc) {
	wrappedHandler := func(c *gin.Context) {
		handler(c, s)
	}
	switch method {
	case http.MethodGet:
		s.Router.GET(path, wrappedHandler)
	case http.MethodPost:
		s.Router.POST(path, wrappedHandler)
	case http.MethodPut:
		s.Router.PUT(path, wrappedHandler)
	case http.MethodDelete:
		s.Router.DELETE(path, wrappedHandler)
	default:
		log.Printf("Unsupported method: %s", method)
	}
}

// RouteGroup represents a group of routes.
type RouteGroup struct {
	service *Service
	Group   *gin.RouterGroup
}

// CreateGroup creates a new route group with the given path.
func (s *Service) CreateGroup(path string) *RouteGroup {
	return &RouteGroup{
		service: s,
		Group:   s.Router.Group(path),
	}
}

// RegisterRoute registers a single route on the route group.
func (g *RouteGroup) RegisterRoute(method, path string, handler HandlerFunc) {
	wrappedHandler := func(c *gin.Context) {
		handler(c, g.service)
	}
	switch method {
	case http.MethodGet:
		g.Group.GET(path, wrappedHandler)
	case http.MethodPost:
		g.Group.POST(path, wrappedHandler)
	case http.MethodPut:
		g.Group.PUT(path, wrappedHandler)
	case http.MethodDelete:
		g.Group.DELETE(path, wrappedHandler)
	default:
		log.Printf("Unsupported method: %s", method)
	}
}

// CreateSubGroup creates a new sub-group within the current group.
func (g *RouteGroup) CreateSubGroup(path string) *RouteGroup {
	return &RouteGroup{
		service: g.service,
		Group:   g.Group.Group(path),
	}
}
