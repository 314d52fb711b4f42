package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/storage"
)

type AvatarService struct {
	userRepo         repository.UserRepositoryInterface
	store            storage.ObjectStore
	publicAPIBaseURL string
	opts             storage.AvatarOptions
}

// NewAvatarService accepts a nil store; every call then fails with ErrStorageNotConfigured.
func NewAvatarService(userRepo repository.UserRepositoryInterface, store storage.ObjectStore, publicAPIBaseURL string) *AvatarService {
	return &AvatarService{
		userRepo:         userRepo,
		store:            store,
		publicAPIBaseURL: strings.TrimRight(strings.TrimSpace(publicAPIBaseURL), "/"),
		opts:             storage.DefaultAvatarOptions(),
	}
}

func (s *AvatarService) Enabled() bool {
	return s.store != nil
}

// UploadAvatar stores the processed image and points the profile at it.
// The previous object is removed only after the profile update succeeds.
func (s *AvatarService) UploadAvatar(ctx context.Context, userID string, file io.Reader) (*models.User, error) {
	if s.store == nil {
		return nil, ErrStorageNotConfigured
	}
	if s.publicAPIBaseURL == "" {
		return nil, fmt.Errorf("%w: missing public api base url", ErrStorageNotConfigured)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError("find user", err)
	}

	avatar, err := storage.ProcessAvatar(file, s.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	key := storage.AvatarKey(userID, uuid.NewString())
	st, err := s.store.PutObject(ctx, key, bytes.NewReader(avatar.Data), avatar.Size(), avatar.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: put avatar: %w", ErrStore, err)
	}

	oldKey := strings.TrimSpace(user.AvatarKey)

	now := time.Now().UTC()
	user.Avatar = s.publicAPIBaseURL + "/api/media/" + key
	user.AvatarKey = key
	user.AvatarContentType = avatar.ContentType
	user.AvatarSizeBytes = avatar.Size()
	user.AvatarETag = st.ETag
	user.AvatarUpdatedAt = &now

	if err := s.userRepo.Update(ctx, user); err != nil {
		s.deleteQuietly(ctx, key)
		return nil, storeError("update user", err)
	}

	if oldKey != "" && oldKey != key {
		s.deleteQuietly(ctx, oldKey)
	}
	return user, nil
}

// DeleteAvatar clears the profile avatar and removes the stored object.
func (s *AvatarService) DeleteAvatar(ctx context.Context, userID string) (*models.User, error) {
	if s.store == nil {
		return nil, ErrStorageNotConfigured
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError("find user", err)
	}

	oldKey := strings.TrimSpace(user.AvatarKey)

	user.Avatar = ""
	user.AvatarKey = ""
	user.AvatarContentType = ""
	user.AvatarSizeBytes = 0
	user.AvatarETag = ""
	user.AvatarUpdatedAt = nil

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, storeError("update user", err)
	}
	if oldKey != "" {
		s.deleteQuietly(ctx, oldKey)
	}
	return user, nil
}

// OpenAvatar streams a stored avatar object. The caller closes the reader.
func (s *AvatarService) OpenAvatar(ctx context.Context, rawKey string) (io.ReadCloser, storage.ObjectStat, error) {
	if s.store == nil {
		return nil, storage.ObjectStat{}, ErrStorageNotConfigured
	}
	key, err := storage.CleanAvatarKey(rawKey)
	if err != nil {
		return nil, storage.ObjectStat{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	body, st, err := s.store.GetObject(ctx, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, storage.ObjectStat{}, notFoundError("avatar %s", key)
		}
		return nil, storage.ObjectStat{}, fmt.Errorf("%w: get avatar: %w", ErrStore, err)
	}
	return body, st, nil
}

func (s *AvatarService) deleteQuietly(ctx context.Context, key string) {
	if err := s.store.DeleteObject(ctx, key); err != nil {
		log.Printf("avatar delete failed key=%s err=%v", key, err)
	}
}
