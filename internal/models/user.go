package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PhoneNumber string `gorm:"uniqueIndex;not null" json:"phone_number"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	IsVerified  bool   `gorm:"default:false" json:"is_verified"`

	// Avatar object metadata (S3/MinIO)
	AvatarKey         string     `json:"-"`
	AvatarContentType string     `json:"-"`
	AvatarSizeBytes   int64      `json:"-"`
	AvatarETag        string     `json:"-"`
	AvatarUpdatedAt   *time.Time `json:"-"`

	// Presence mirror, written by the realtime hub
	IsOnline     bool       `gorm:"default:false" json:"is_online"`
	LastActiveAt *time.Time `json:"last_active_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

type UserResponse struct {
	ID           string     `json:"id"`
	PhoneNumber  string     `json:"phoneNumber"`
	Name         string     `json:"name"`
	Avatar       string     `json:"avatar"`
	IsVerified   bool       `json:"isVerified"`
	IsOnline     bool       `json:"isOnline"`
	LastActiveAt *time.Time `json:"lastActiveAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Status       string     `json:"status"`
}

func (u *User) ToResponse() UserResponse {
	status := "offline"
	if u.IsOnline {
		status = "online"
	}
	return UserResponse{
		ID:           u.ID,
		PhoneNumber:  u.PhoneNumber,
		Name:         u.Name,
		Avatar:       u.Avatar,
		IsVerified:   u.IsVerified,
		IsOnline:     u.IsOnline,
		LastActiveAt: u.LastActiveAt,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		Status:       status,
	}
}

// UserInfo is the trimmed profile embedded in message payloads.
type UserInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	PhoneNumber string `json:"phoneNumber"`
}

func (u *User) ToInfo() UserInfo {
	return UserInfo{
		ID:          u.ID,
		Name:        u.Name,
		Avatar:      u.Avatar,
		PhoneNumber: u.PhoneNumber,
	}
}
