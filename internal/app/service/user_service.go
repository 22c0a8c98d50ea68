package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/repository"
)

// UserService keeps the user directory that callers consult before issuing links.
type UserService interface {
	Touch(ctx context.Context, input TouchUserInput) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	SetBanned(ctx context.Context, id string, banned bool) error
	IsBanned(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

// TouchUserInput identifies a user seen by the caller.
type TouchUserInput struct {
	ID        string
	Username  string
	FirstName string
}

type userService struct {
	users      repository.UserRepository
	stats      repository.StatsRepository
	activeDays int
	now        func() time.Time
}

// NewUserService returns a user directory. activeDays bounds the "active users" stat.
func NewUserService(users repository.UserRepository, stats repository.StatsRepository, activeDays int) UserService {
	if activeDays <= 0 {
		activeDays = 7
	}
	return &userService{
		users:      users,
		stats:      stats,
		activeDays: activeDays,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *userService) Touch(ctx context.Context, input TouchUserInput) (*model.User, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, ErrInvalidInput
	}
	if err := s.users.Touch(ctx, &model.User{
		ID:        id,
		Username:  strings.TrimSpace(input.Username),
		FirstName: strings.TrimSpace(input.FirstName),
	}, s.now()); err != nil {
		return nil, fmt.Errorf("touch user: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("get user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *userService) SetBanned(ctx context.Context, id string, banned bool) error {
	if err := s.users.SetBanned(ctx, id, banned); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("ban user %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("ban user: %w", err)
	}
	return nil
}

// IsBanned treats users that were never seen as not banned.
func (s *userService) IsBanned(ctx context.Context, id string) (bool, error) {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load user: %w", err)
	}
	return user.Banned, nil
}

func (s *userService) Stats(ctx context.Context) (*model.Stats, error) {
	now := s.now()
	stats, err := s.stats.Snapshot(ctx, now.AddDate(0, 0, -s.activeDays), now)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}
