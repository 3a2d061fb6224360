package service

import (
	"context"

	"github.com/aman-churiwal/request-governance/internal/cache"
	"github.com/aman-churiwal/request-governance/internal/models"
)

// UsersCachePrefix namespaces cached user API responses.
const UsersCachePrefix = "users"

type UserService struct {
	repo  UserStore
	auth  *AuthService
	cache *cache.Store
}

func NewUserService(repo UserStore, auth *AuthService, cache *cache.Store) *UserService {
	return &UserService{
		repo:  repo,
		auth:  auth,
		cache: cache,
	}
}

func (s *UserService) List(ctx context.Context, limit, offset int) ([]models.User, int64, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Create registers a user and evicts every cached user listing.
func (s *UserService) Create(ctx context.Context, email, password, name, role string) (*models.User, error) {
	user, err := s.auth.Register(ctx, email, password, name, role)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(context.WithoutCancel(ctx), cache.Invalidation{
		Prefix:   UsersCachePrefix,
		ClearAll: true,
	})

	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrUserNotFound
	}
	return nil
}
