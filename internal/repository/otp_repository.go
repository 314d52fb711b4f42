package repository

import (
	"context"
	"time"

	"github.com/hirpha/mini-chat-backend/internal/models"
	"gorm.io/gorm"
)

type OTPRepository struct {
	db *gorm.DB
}

func NewOTPRepository(db *gorm.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

func (r *OTPRepository) Create(ctx context.Context, otp *models.OTP) error {
	return r.db.WithContext(ctx).Create(otp).Error
}

func (r *OTPRepository) InvalidateOutstanding(ctx context.Context, phone string) error {
	return r.db.WithContext(ctx).Model(&models.OTP{}).
		Where("phone_number = ? AND is_used = ?", phone, false).
		Update("is_used", true).Error
}

func (r *OTPRepository) FindLatestActive(ctx context.Context, phone string, now time.Time) (*models.OTP, error) {
	var otp models.OTP
	err := r.db.WithContext(ctx).
		Where("phone_number = ? AND is_used = ? AND expires_at > ?", phone, false, now.UTC()).
		Order("created_at DESC").
		First(&otp).Error
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

func (r *OTPRepository) IncrementAttempts(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.OTP{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

// Consume marks the code used; false means another request got there first.
func (r *OTPRepository) Consume(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OTP{}).
		Where("id = ? AND is_used = ?", id, false).
		Update("is_used", true)
	return res.RowsAffected == 1, res.Error
}
