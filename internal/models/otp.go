package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OTP is a one-time login code. Only the bcrypt hash of the code is stored.
type OTP struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	PhoneNumber string    `gorm:"index;not null" json:"phone_number"`
	CodeHash    string    `gorm:"not null" json:"-"`
	IsUsed      bool      `gorm:"default:false;index" json:"is_used"`
	Attempts    int       `gorm:"default:0" json:"attempts"`
	ExpiresAt   time.Time `gorm:"not null" json:"expires_at"`
}

func (o *OTP) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

func (o *OTP) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
