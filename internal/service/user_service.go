package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/validation"
	"github.com/samber/lo"
)

const maxNameLength = 64

// PresenceReader answers whether a user currently has a live connection.
type PresenceReader interface {
	IsOnline(userID string) bool
}

type UserService struct {
	userRepo repository.UserRepositoryInterface
	presence PresenceReader
}

func NewUserService(userRepo repository.UserRepositoryInterface) *UserService {
	return &UserService{userRepo: userRepo}
}

// SetPresence wires the live registry used to overlay online status.
func (s *UserService) SetPresence(p PresenceReader) {
	s.presence = p
}

type UpdateProfileInput struct {
	Name   *string `json:"name" validate:"omitempty,max=64"`
	Avatar *string `json:"avatar" validate:"omitempty,url"`
}

func (s *UserService) overlay(user *models.User) {
	if s.presence != nil && user != nil {
		user.IsOnline = s.presence.IsOnline(user.ID)
	}
}

func (s *UserService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if !validation.IsID(userID) {
		return nil, notFoundError("user %s", userID)
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError("find user", err)
	}
	s.overlay(user)
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*models.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError("find user", err)
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if utf8.RuneCountInString(name) > maxNameLength {
			return nil, validationError("name longer than %d characters", maxNameLength)
		}
		user.Name = name
	}
	if input.Avatar != nil {
		user.Avatar = strings.TrimSpace(*input.Avatar)
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, storeError("update user", err)
	}
	s.overlay(user)
	return user, nil
}

// SearchUsers matches by name or phone digits and never returns the caller.
func (s *UserService) SearchUsers(ctx context.Context, callerID, query string, limit int) ([]models.User, error) {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return []models.User{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	users, err := s.userRepo.SearchUsers(ctx, query, limit+1)
	if err != nil {
		return nil, storeError("search users", err)
	}
	users = lo.Filter(users, func(u models.User, _ int) bool { return u.ID != callerID })
	if len(users) > limit {
		users = users[:limit]
	}
	for i := range users {
		s.overlay(&users[i])
	}
	return users, nil
}
