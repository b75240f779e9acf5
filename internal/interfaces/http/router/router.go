package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	appquota "github.com/larklabs/backend/internal/application/quota"
	"github.com/larklabs/backend/internal/infrastructure/auth"
	"github.com/larklabs/backend/internal/infrastructure/config"
	"github.com/larklabs/backend/internal/infrastructure/logger"
	"github.com/larklabs/backend/internal/interfaces/http/handler"
	"github.com/larklabs/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router mounts registrars under a versioned API prefix
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be mounted by Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup mounts all registrars
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup collects the routes of one resource
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPut, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Dependencies are the collaborators the HTTP surface needs.
// JWT and RateLimiter are optional.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Service      *appquota.QuotaService
	JWT          *auth.JWTService
	RateLimiter  *middleware.RateLimiter
	HealthChecks map[string]handler.HealthCheck
}

// NewEngine builds the gin engine with the middleware chain and all routes
func NewEngine(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(deps.Logger))
	engine.Use(logger.GinMiddleware(deps.Logger))
	if cfg.Telemetry.Enabled {
		engine.Use(middleware.Tracing(cfg.Telemetry.ServiceName)...)
	}
	engine.Use(middleware.Secure(cfg.App.Env == "production"))
	engine.Use(middleware.CORSWithConfig(corsConfig(cfg.HTTP)))
	if cfg.HTTP.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	}
	if deps.RateLimiter != nil {
		engine.Use(middleware.RateLimit(deps.RateLimiter))
	}

	health := handler.NewHealthHandler(deps.HealthChecks)
	engine.GET("/health", health.Health)

	tiers := handler.NewTierHandler(deps.Service)
	subscribers := handler.NewSubscriberHandler(deps.Service)

	tierRoutes := NewDomainGroup("tiers", "/tiers")
	tierRoutes.GET("", tiers.List)
	tierRoutes.GET("/:id", tiers.Get)

	subscriberRoutes := NewDomainGroup("subscribers", "/subscribers")
	if deps.JWT != nil {
		subscriberRoutes.Use(middleware.JWTAuth(deps.JWT, deps.Logger))
	}
	subscriberRoutes.POST("", subscribers.Register)
	subscriberRoutes.GET("/:id/usage", subscribers.Usage)
	subscriberRoutes.POST("/:id/usage/check", subscribers.Check)
	subscriberRoutes.POST("/:id/usage/consume", subscribers.Consume)
	subscriberRoutes.PUT("/:id/tier", middleware.RequireAdmin(deps.Logger), subscribers.ChangeTier)

	NewRouter(engine, WithAPIVersion("v1")).
		Register(tierRoutes).
		Register(subscriberRoutes).
		Setup()

	return engine, nil
}

func corsConfig(cfg config.HTTPConfig) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.CORSAllowOrigins
	if len(cfg.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.CORSAllowMethods
	}
	if len(cfg.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.CORSAllowHeaders
	}
	return cors
}
