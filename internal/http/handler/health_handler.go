package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool; wrap other backends with PingFunc.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthDeps groups dependencies required by the health endpoint.
type HealthDeps struct {
	Logger *zap.Logger
	// Checks are optional named backends reported by /health.
	Checks map[string]Pinger
}

// HealthHandler reports liveness and backend reachability.
type HealthHandler struct {
	logger *zap.Logger
	checks map[string]Pinger
}

// NewHealthHandler creates a health handler with the provided dependencies.
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger, checks: deps.Checks}
}

// Register wires health routes onto the provided router.
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
}

// Health returns 200 when every configured backend answers a ping, 503 otherwise.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(requestContext(c), pingTimeout)
	defer cancel()

	status := "ok"
	backends := make(fiber.Map, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("backend", name), zap.Error(err))
			backends[name] = "down"
			status = "degraded"
			continue
		}
		backends[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"service":  "LinkVault",
		"status":   status,
		"backends": backends,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
