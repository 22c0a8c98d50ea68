package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/repository"
	"go.uber.org/zap"
)

// ResourceService is the registry of gated resources that links can be issued for.
type ResourceService interface {
	Register(ctx context.Context, input RegisterResourceInput) (*model.Resource, error)
	Deactivate(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Resource, error)
	ListActive(ctx context.Context) ([]model.Resource, error)
}

// LinkDefaults are applied to resources registered without explicit link settings.
type LinkDefaults struct {
	Validity    time.Duration
	UsageBudget int
}

// RegisterResourceInput captures data required to register a resource.
type RegisterResourceInput struct {
	ID           string
	Name         string
	LinkValidity time.Duration
	UsageBudget  int
}

type resourceService struct {
	repo     repository.ResourceRepository
	logger   *zap.Logger
	defaults LinkDefaults
}

// NewResourceService returns a registry backed by the given repository.
func NewResourceService(repo repository.ResourceRepository, logger *zap.Logger, defaults LinkDefaults) ResourceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.Validity <= 0 {
		defaults.Validity = 5 * time.Minute
	}
	if defaults.UsageBudget <= 0 {
		defaults.UsageBudget = 1
	}
	return &resourceService{repo: repo, logger: logger, defaults: defaults}
}

func (s *resourceService) Register(ctx context.Context, input RegisterResourceInput) (*model.Resource, error) {
	id := strings.TrimSpace(input.ID)
	name := strings.TrimSpace(input.Name)
	if id == "" || name == "" || input.LinkValidity < 0 || input.UsageBudget < 0 {
		return nil, ErrInvalidInput
	}

	resource := &model.Resource{
		ID:           id,
		Name:         name,
		Active:       true,
		LinkValidity: input.LinkValidity,
		UsageBudget:  input.UsageBudget,
	}
	if resource.LinkValidity == 0 {
		resource.LinkValidity = s.defaults.Validity
	}
	if resource.UsageBudget == 0 {
		resource.UsageBudget = s.defaults.UsageBudget
	}

	if err := s.repo.Create(ctx, resource); err != nil {
		if errors.Is(err, repository.ErrDuplicateResource) {
			return nil, fmt.Errorf("register %s: %w", id, ErrDuplicateResource)
		}
		return nil, fmt.Errorf("register resource: %w", err)
	}

	s.logger.Info("resource registered",
		zap.String("resource_id", id),
		zap.String("name", name),
		zap.Duration("link_validity", resource.LinkValidity),
		zap.Int("usage_budget", resource.UsageBudget),
	)
	return resource, nil
}

// Deactivate soft-deletes the resource. Links already issued stay valid until they
// expire or are used up.
func (s *resourceService) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, repository.ErrResourceNotFound) {
			return fmt.Errorf("deactivate %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("deactivate resource: %w", err)
	}
	s.logger.Info("resource deactivated", zap.String("resource_id", id))
	return nil
}

func (s *resourceService) Get(ctx context.Context, id string) (*model.Resource, error) {
	resource, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrResourceNotFound) {
			return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return resource, nil
}

func (s *resourceService) ListActive(ctx context.Context) ([]model.Resource, error) {
	resources, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return resources, nil
}
