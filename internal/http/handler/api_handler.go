package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/repository"
	"github.com/sifan077/LinkVault/internal/app/service"
	"go.uber.org/zap"
)

// Issuer mints links. *service.LinkIssuer implements it.
type Issuer interface {
	Issue(ctx context.Context, resourceID, userID string) (*model.Link, error)
}

// Redeemer records redemptions. *service.RedemptionRecorder implements it.
type Redeemer interface {
	RecordRedemption(ctx context.Context, token, userID string) (*service.RedemptionResult, error)
}

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger    *zap.Logger
	Resources service.ResourceService
	Users     service.UserService
	Links     repository.LinkRepository
	Issuer    Issuer
	Redeemer  Redeemer
	// IssueLimiter, when set, guards the issue route.
	IssueLimiter fiber.Handler
	Now          func() time.Time
}

// APIHandler implements the management API endpoints.
type APIHandler struct {
	logger       *zap.Logger
	resources    service.ResourceService
	users        service.UserService
	links        repository.LinkRepository
	issuer       Issuer
	redeemer     Redeemer
	issueLimiter fiber.Handler
	now          func() time.Time
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &APIHandler{
		logger:       logger,
		resources:    deps.Resources,
		users:        deps.Users,
		links:        deps.Links,
		issuer:       deps.Issuer,
		redeemer:     deps.Redeemer,
		issueLimiter: deps.IssueLimiter,
		now:          now,
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		resources := api.Group("/resources")
		{
			resources.Post("/", h.RegisterResource)
			resources.Get("/", h.ListResources)
			resources.Get("/:id", h.GetResource)
			resources.Delete("/:id", h.DeactivateResource)
			if h.issueLimiter != nil {
				resources.Post("/:id/links", h.issueLimiter, h.IssueLink)
			} else {
				resources.Post("/:id/links", h.IssueLink)
			}
			resources.Get("/:id/links/active", h.ActiveLink)
		}

		api.Post("/redemptions", h.RecordRedemption)

		users := api.Group("/users")
		{
			users.Post("/", h.TouchUser)
			users.Put("/:id/ban", h.BanUser)
		}

		api.Get("/stats", h.Stats)
	}
}

// RegisterResourceRequest represents the request body for registering a resource.
type RegisterResourceRequest struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	LinkValiditySeconds int    `json:"link_validity_seconds,omitempty"`
	UsageBudget         int    `json:"usage_budget,omitempty"`
}

// ResourceResponse is the wire form of a resource.
type ResourceResponse struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Active              bool      `json:"active"`
	LinkValiditySeconds int       `json:"link_validity_seconds"`
	UsageBudget         int       `json:"usage_budget"`
	TotalJoins          int64     `json:"total_joins"`
	CreatedAt           time.Time `json:"created_at"`
}

// LinkResponse is the wire form of a link.
type LinkResponse struct {
	ID           string     `json:"id"`
	ResourceID   string     `json:"resource_id"`
	Token        string     `json:"token"`
	IssuedTo     string     `json:"issued_to,omitempty"`
	State        string     `json:"state"`
	Active       bool       `json:"active"`
	ExpiresAt    time.Time  `json:"expires_at"`
	UsageBudget  int        `json:"usage_budget"`
	UsesConsumed int        `json:"uses_consumed"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// UserResponse is the wire form of a directory user.
type UserResponse struct {
	ID            string    `json:"id"`
	Username      string    `json:"username,omitempty"`
	FirstName     string    `json:"first_name,omitempty"`
	Banned        bool      `json:"banned"`
	TotalRequests int64     `json:"total_requests"`
	TotalJoins    int64     `json:"total_joins"`
	JoinedAt      time.Time `json:"joined_at"`
	LastActive    time.Time `json:"last_active"`
}

// RegisterResource handles POST /api/resources
func (h *APIHandler) RegisterResource(c *fiber.Ctx) error {
	var req RegisterResourceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		return badRequest(c, "id and name are required")
	}
	if req.LinkValiditySeconds < 0 || req.UsageBudget < 0 {
		return badRequest(c, "link_validity_seconds and usage_budget must not be negative")
	}

	resource, err := h.resources.Register(requestContext(c), service.RegisterResourceInput{
		ID:           req.ID,
		Name:         req.Name,
		LinkValidity: time.Duration(req.LinkValiditySeconds) * time.Second,
		UsageBudget:  req.UsageBudget,
	})
	if err != nil {
		return h.fail(c, err, "failed to register resource")
	}
	return c.Status(fiber.StatusCreated).JSON(toResourceResponse(resource))
}

// ListResources handles GET /api/resources
func (h *APIHandler) ListResources(c *fiber.Ctx) error {
	resources, err := h.resources.ListActive(requestContext(c))
	if err != nil {
		return h.fail(c, err, "failed to list resources")
	}
	response := make([]ResourceResponse, len(resources))
	for i := range resources {
		response[i] = toResourceResponse(&resources[i])
	}
	return c.JSON(fiber.Map{
		"resources": response,
		"count":     len(response),
	})
}

// GetResource handles GET /api/resources/:id
func (h *APIHandler) GetResource(c *fiber.Ctx) error {
	resource, err := h.resources.Get(requestContext(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err, "failed to get resource")
	}
	return c.JSON(toResourceResponse(resource))
}

// DeactivateResource handles DELETE /api/resources/:id
func (h *APIHandler) DeactivateResource(c *fiber.Ctx) error {
	if err := h.resources.Deactivate(requestContext(c), c.Params("id")); err != nil {
		return h.fail(c, err, "failed to deactivate resource")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// IssueLinkRequest represents the request body for issuing a link.
type IssueLinkRequest struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// IssueLink handles POST /api/resources/:id/links
func (h *APIHandler) IssueLink(c *fiber.Ctx) error {
	var req IssueLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return badRequest(c, "user_id is required")
	}

	ctx := requestContext(c)
	if h.users != nil {
		user, err := h.users.Touch(ctx, service.TouchUserInput{
			ID:        req.UserID,
			Username:  req.Username,
			FirstName: req.FirstName,
		})
		if err != nil {
			return h.fail(c, err, "failed to load user")
		}
		if user.Banned {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "user is banned",
				"code":  "user_banned",
			})
		}
	}

	link, err := h.issuer.Issue(ctx, c.Params("id"), strings.TrimSpace(req.UserID))
	if err != nil {
		return h.fail(c, err, "failed to issue link")
	}
	return c.Status(fiber.StatusCreated).JSON(toLinkResponse(link))
}

// ActiveLink handles GET /api/resources/:id/links/active
func (h *APIHandler) ActiveLink(c *fiber.Ctx) error {
	link, err := h.links.ActiveForResource(requestContext(c), c.Params("id"), h.now())
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "no redeemable link",
				"code":  "not_found",
			})
		}
		return h.fail(c, err, "failed to load active link")
	}
	return c.JSON(toLinkResponse(link))
}

// RecordRedemptionRequest represents the request body for recording a redemption.
type RecordRedemptionRequest struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// RecordRedemption handles POST /api/redemptions
func (h *APIHandler) RecordRedemption(c *fiber.Ctx) error {
	var req RecordRedemptionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := h.redeemer.RecordRedemption(requestContext(c), req.Token, req.UserID)
	if err != nil {
		return h.fail(c, err, "failed to record redemption")
	}
	return c.JSON(fiber.Map{
		"link":      toLinkResponse(result.Link),
		"exhausted": result.Exhausted,
	})
}

// TouchUserRequest represents the request body for upserting a user.
type TouchUserRequest struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// TouchUser handles POST /api/users
func (h *APIHandler) TouchUser(c *fiber.Ctx) error {
	var req TouchUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	user, err := h.users.Touch(requestContext(c), service.TouchUserInput{
		ID:        req.ID,
		Username:  req.Username,
		FirstName: req.FirstName,
	})
	if err != nil {
		return h.fail(c, err, "failed to save user")
	}
	return c.JSON(toUserResponse(user))
}

// BanUserRequest represents the request body for changing a ban flag.
type BanUserRequest struct {
	Banned *bool `json:"banned"`
}

// BanUser handles PUT /api/users/:id/ban
func (h *APIHandler) BanUser(c *fiber.Ctx) error {
	var req BanUserRequest
	if err := c.BodyParser(&req); err != nil || req.Banned == nil {
		return badRequest(c, "banned is required")
	}
	if err := h.users.SetBanned(requestContext(c), c.Params("id"), *req.Banned); err != nil {
		return h.fail(c, err, "failed to update user")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Stats handles GET /api/stats
func (h *APIHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.users.Stats(requestContext(c))
	if err != nil {
		return h.fail(c, err, "failed to load stats")
	}
	return c.JSON(stats)
}

// fail maps service errors onto status codes. Unmapped errors are logged and hidden.
func (h *APIHandler) fail(c *fiber.Ctx, err error, msg string) error {
	status, code := fiber.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, code = fiber.StatusBadRequest, "invalid_input"
	case errors.Is(err, service.ErrNotFound):
		status, code = fiber.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrUnknownToken):
		status, code = fiber.StatusNotFound, "unknown_token"
	case errors.Is(err, service.ErrDuplicateResource):
		status, code = fiber.StatusConflict, "duplicate_resource"
	case errors.Is(err, service.ErrResourceUnavailable):
		status, code = fiber.StatusConflict, "resource_unavailable"
	case errors.Is(err, service.ErrLinkNotRedeemable):
		status, code = fiber.StatusGone, "link_not_redeemable"
	case errors.Is(err, service.ErrProviderUnavailable):
		status, code = fiber.StatusServiceUnavailable, "provider_unavailable"
	}

	if status >= fiber.StatusInternalServerError {
		h.logger.Error(msg,
			zap.Error(err),
			zap.String("path", c.Path()),
			zap.Any("request_id", c.Locals("request_id")),
		)
		if status == fiber.StatusInternalServerError {
			return c.Status(status).JSON(fiber.Map{"error": msg, "code": code})
		}
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": code})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "invalid_input",
	})
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func toResourceResponse(r *model.Resource) ResourceResponse {
	return ResourceResponse{
		ID:                  r.ID,
		Name:                r.Name,
		Active:              r.Active,
		LinkValiditySeconds: int(r.LinkValidity / time.Second),
		UsageBudget:         r.UsageBudget,
		TotalJoins:          r.TotalJoins,
		CreatedAt:           r.CreatedAt,
	}
}

func toLinkResponse(l *model.Link) LinkResponse {
	return LinkResponse{
		ID:           l.ID,
		ResourceID:   l.ResourceID,
		Token:        l.Token,
		IssuedTo:     l.IssuedTo,
		State:        string(l.State),
		Active:       l.Active(),
		ExpiresAt:    l.ExpiresAt,
		UsageBudget:  l.UsageBudget,
		UsesConsumed: l.UsesConsumed,
		RevokedAt:    l.RevokedAt,
		CreatedAt:    l.CreatedAt,
	}
}

func toUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Username:      u.Username,
		FirstName:     u.FirstName,
		Banned:        u.Banned,
		TotalRequests: u.TotalRequests,
		TotalJoins:    u.TotalJoins,
		JoinedAt:      u.JoinedAt,
		LastActive:    u.LastActive,
	}
}
