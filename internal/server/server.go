package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aman-churiwal/request-governance/internal/cache"
	"github.com/aman-churiwal/request-governance/internal/circuitbreaker"
	"github.com/aman-churiwal/request-governance/internal/config"
	"github.com/aman-churiwal/request-governance/internal/handler"
	"github.com/aman-churiwal/request-governance/internal/healthcheck"
	"github.com/aman-churiwal/request-governance/internal/logger"
	"github.com/aman-churiwal/request-governance/internal/middleware"
	"github.com/aman-churiwal/request-governance/internal/models"
	"github.com/aman-churiwal/request-governance/internal/ratelimit"
	"github.com/aman-churiwal/request-governance/internal/service"
)

const Version = "1.0.0"

// Deps are the components the server mounts. Auth and Users are nil when no
// database is configured; the user and admin routes are then not mounted.
type Deps struct {
	Config  *config.Config
	Logger  *slog.Logger
	Limits  *ratelimit.Registry
	Cache   *cache.Store
	Stats   ratelimit.StatsReader
	Breaker *circuitbreaker.CircuitBreaker
	Checker *healthcheck.Checker
	Auth    *service.AuthService
	Users   *service.UserService
}

type Server struct {
	router        *gin.Engine
	config        *config.Config
	log           *slog.Logger
	limits        *ratelimit.Registry
	cache         *cache.Store
	auth          *service.AuthService
	systemHandler *handler.SystemHandler
	authHandler   *handler.AuthHandler
	userHandler   *handler.UserHandler
	httpServer    *http.Server
}

func New(deps Deps) (*Server, error) {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil {
		return nil, err
	}

	s := &Server{
		router: router,
		config: deps.Config,
		log:    deps.Logger.With(logger.Component("server")),
		limits: deps.Limits,
		cache:  deps.Cache,
		auth:   deps.Auth,
		systemHandler: handler.NewSystemHandler(handler.SystemDeps{
			Breaker: deps.Breaker,
			Cache:   deps.Cache,
			Stats:   deps.Stats,
			Checker: deps.Checker,
			Limits:  deps.Limits,
			Version: Version,
		}),
	}
	if deps.Auth != nil {
		s.authHandler = handler.NewAuthHandler(deps.Auth)
	}
	if deps.Users != nil {
		s.userHandler = handler.NewUserHandler(deps.Users)
	}

	if err := s.checkClasses(); err != nil {
		return nil, err
	}

	// Setup middleware
	s.setupMiddleware(deps.Logger)

	// Setup routes
	s.setupRoutes()

	return s, nil
}

// checkClasses fails startup when a class the routes mount is missing from
// the configured table.
func (s *Server) checkClasses() error {
	var errs []error
	for _, class := range []string{config.ClassGlobal, config.ClassHealth, config.ClassAuth, config.ClassAPI, config.ClassAdmin} {
		if _, err := s.limits.For(class); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) setupMiddleware(log *slog.Logger) {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(log))
	s.router.Use(middleware.Logger(log))
	s.router.Use(middleware.ErrorHandler(log))
}

// setupRoutes mounts the global class on every group except /health, so
// orchestrator checks never draw from the shared per-client budget.
func (s *Server) setupRoutes() {
	global := middleware.RateLimitFor(s.limits, config.ClassGlobal)

	s.router.GET("/health", middleware.RateLimitFor(s.limits, config.ClassHealth), s.systemHandler.Health)

	if s.authHandler != nil {
		auth := s.router.Group("/auth", global, middleware.RateLimitFor(s.limits, config.ClassAuth))
		{
			auth.POST("/login", s.authHandler.Login)
			auth.POST("/register", s.authHandler.Register)
		}
	}

	if s.userHandler != nil {
		s.setupUserRoutes(global)
	}

	if s.auth == nil {
		s.log.Warn("no database configured, admin routes are disabled")
		return
	}

	admin := s.router.Group("/admin",
		global,
		middleware.RequireAuth(s.auth),
		middleware.RequireRole(models.RoleAdmin),
		middleware.RateLimitFor(s.limits, config.ClassAdmin),
	)
	{
		admin.GET("/status", s.systemHandler.Status)
		admin.POST("/cache/invalidate", s.systemHandler.InvalidateCache)
		admin.GET("/ratelimit/stats", s.systemHandler.RateLimitStats)
		admin.GET("/circuit-breaker", s.systemHandler.CircuitBreakerStatus)
		admin.POST("/circuit-breaker/reset", s.systemHandler.ResetCircuitBreaker)
	}
}

func (s *Server) setupUserRoutes(global gin.HandlerFunc) {
	cached := middleware.Cache(s.cache, middleware.CacheOptions{
		Prefix:       service.UsersCachePrefix,
		TTL:          s.config.Cache.UsersTTL,
		MaxBodyBytes: s.config.Cache.MaxBodyBytes,
		Logger:       s.log,
	})
	evictUsers := middleware.InvalidateOnSuccess(s.cache, func(*gin.Context) cache.Invalidation {
		return cache.Invalidation{Prefix: service.UsersCachePrefix, ClearAll: true}
	})
	adminOnly := []gin.HandlerFunc{
		middleware.RequireAuth(s.auth),
		middleware.RequireRole(models.RoleAdmin),
	}

	api := s.router.Group("/api", global, middleware.RateLimitFor(s.limits, config.ClassAPI))
	{
		api.GET("/users", cached, s.userHandler.List)
		api.GET("/users/:id", cached, s.userHandler.Get)
		api.POST("/users", append(adminOnly, s.userHandler.Create)...)
		api.DELETE("/users/:id", append(adminOnly, evictUsers, s.userHandler.Delete)...)
	}
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.log.Info("starting request governance service",
		slog.String("addr", addr),
		slog.String("environment", s.config.Server.Environment),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
