package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/LinkVault/internal/app/repository"
	"github.com/sifan077/LinkVault/internal/app/service"
	inthttp "github.com/sifan077/LinkVault/internal/http/handler"
	"github.com/sifan077/LinkVault/internal/http/middleware"
	"go.uber.org/zap"
)

// Dependencies bundles the services and infrastructure required by the HTTP server.
// Redis is optional; without it the issue route is not rate limited.
type Dependencies struct {
	Logger         *zap.Logger
	Redis          *redis.Client
	HealthChecks   map[string]inthttp.Pinger
	Resources      service.ResourceService
	Users          service.UserService
	Links          repository.LinkRepository
	Issuer         inthttp.Issuer
	Redeemer       inthttp.Redeemer
	IssueRateLimit int
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with the API routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:               "linkvault",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(deps.Logger),
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.CORS())
}

func (s *Server) registerRoutes() {
	healthHandler := inthttp.NewHealthHandler(inthttp.HealthDeps{
		Logger: s.deps.Logger,
		Checks: s.deps.HealthChecks,
	})
	healthHandler.Register(s.app)

	var issueLimiter fiber.Handler
	if s.deps.Redis != nil && s.deps.IssueRateLimit > 0 {
		issueLimiter = middleware.RateLimit(s.deps.Redis,
			middleware.IssueRateLimitConfig(s.deps.IssueRateLimit), s.deps.Logger)
	}

	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:       s.deps.Logger,
		Resources:    s.deps.Resources,
		Users:        s.deps.Users,
		Links:        s.deps.Links,
		Issuer:       s.deps.Issuer,
		Redeemer:     s.deps.Redeemer,
		IssueLimiter: issueLimiter,
	})
	apiHandler.Register(s.app)
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("unhandled request error", zap.Error(err), zap.String("path", c.Path()))
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
