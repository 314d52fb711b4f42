package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/hirpha/mini-chat-backend/internal/auth"
	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer signs access tokens for a user id.
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

type AuthConfig struct {
	OTPTTL          time.Duration
	OTPLength       int
	OTPMaxAttempts  int
	RefreshTokenTTL time.Duration
}

type AuthService struct {
	userRepo  repository.UserRepositoryInterface
	otpRepo   repository.OTPRepositoryInterface
	tokenRepo repository.RefreshTokenRepositoryInterface
	issuer    TokenIssuer
	sender    OTPSender
	cfg       AuthConfig
	now       func() time.Time
}

func NewAuthService(
	userRepo repository.UserRepositoryInterface,
	otpRepo repository.OTPRepositoryInterface,
	tokenRepo repository.RefreshTokenRepositoryInterface,
	issuer TokenIssuer,
	sender OTPSender,
	cfg AuthConfig,
) *AuthService {
	if cfg.OTPLength <= 0 {
		cfg.OTPLength = 6
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	if cfg.OTPMaxAttempts <= 0 {
		cfg.OTPMaxAttempts = 5
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if sender == nil {
		sender = LogOTPSender{}
	}
	return &AuthService{
		userRepo:  userRepo,
		otpRepo:   otpRepo,
		tokenRepo: tokenRepo,
		issuer:    issuer,
		sender:    sender,
		cfg:       cfg,
		now:       time.Now,
	}
}

type RequestOTPInput struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,phone"`
}

type VerifyOTPInput struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,phone"`
	Code        string `json:"code" validate:"required,numeric,min=4,max=10"`
}

type RefreshInput struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type OTPRequestResult struct {
	PhoneNumber string    `json:"phoneNumber"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type AuthResponse struct {
	AccessToken          string              `json:"accessToken"`
	AccessTokenExpiresAt time.Time           `json:"accessTokenExpiresAt"`
	RefreshToken         string              `json:"refreshToken"`
	User                 models.UserResponse `json:"user"`
}

// RequestOTP issues a fresh code and invalidates any still outstanding.
func (s *AuthService) RequestOTP(ctx context.Context, phoneNumber string) (*OTPRequestResult, error) {
	phone := validation.NormalizePhone(phoneNumber)
	if !validation.ValidatePhone(phone) {
		return nil, validationError("invalid phone number")
	}

	code, err := generateCode(s.cfg.OTPLength)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}

	if err := s.otpRepo.InvalidateOutstanding(ctx, phone); err != nil {
		return nil, storeError("invalidate otp", err)
	}

	now := s.now().UTC()
	otp := &models.OTP{
		PhoneNumber: phone,
		CodeHash:    string(hash),
		ExpiresAt:   now.Add(s.cfg.OTPTTL),
		CreatedAt:   now,
	}
	if err := s.otpRepo.Create(ctx, otp); err != nil {
		return nil, storeError("create otp", err)
	}

	if err := s.sender.SendOTP(ctx, phone, code); err != nil {
		return nil, fmt.Errorf("send otp: %w", err)
	}

	return &OTPRequestResult{PhoneNumber: phone, ExpiresAt: otp.ExpiresAt}, nil
}

// VerifyOTP consumes a code and returns a token pair, creating the user on first login.
func (s *AuthService) VerifyOTP(ctx context.Context, phoneNumber, code string) (*AuthResponse, error) {
	phone := validation.NormalizePhone(phoneNumber)
	if !validation.ValidatePhone(phone) {
		return nil, validationError("invalid phone number")
	}

	otp, err := s.otpRepo.FindLatestActive(ctx, phone, s.now().UTC())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidOTP
		}
		return nil, storeError("find otp", err)
	}

	if otp.Attempts >= s.cfg.OTPMaxAttempts {
		if _, err := s.otpRepo.Consume(ctx, otp.ID); err != nil {
			log.Printf("otp burn failed id=%s err=%v", otp.ID, err)
		}
		return nil, ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)); err != nil {
		if err := s.otpRepo.IncrementAttempts(ctx, otp.ID); err != nil {
			return nil, storeError("count otp attempt", err)
		}
		return nil, ErrInvalidOTP
	}

	consumed, err := s.otpRepo.Consume(ctx, otp.ID)
	if err != nil {
		return nil, storeError("consume otp", err)
	}
	if !consumed {
		return nil, ErrInvalidOTP
	}

	user, err := s.findOrCreateUser(ctx, phone)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthService) findOrCreateUser(ctx context.Context, phone string) (*models.User, error) {
	user, err := s.userRepo.FindByPhone(ctx, phone)
	if err == nil {
		if !user.IsVerified {
			user.IsVerified = true
			if err := s.userRepo.Update(ctx, user); err != nil {
				return nil, storeError("verify user", err)
			}
		}
		return user, nil
	}
	if !isNotFound(err) {
		return nil, storeError("find user", err)
	}

	user = &models.User{PhoneNumber: phone, IsVerified: true}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, storeError("create user", err)
	}
	log.Printf("user created id=%s", user.ID)
	return user, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new pair issued.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	hash := auth.HashToken(refreshToken)

	stored, err := s.tokenRepo.FindValidByHash(ctx, hash)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeError("find refresh token", err)
	}

	revoked, err := s.tokenRepo.RevokeByHash(ctx, hash)
	if err != nil {
		return nil, storeError("revoke refresh token", err)
	}
	if !revoked {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.userRepo.FindByID(ctx, stored.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeError("find user", err)
	}
	return s.issueTokens(ctx, user)
}

// Logout revokes the refresh token. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if _, err := s.tokenRepo.RevokeByHash(ctx, auth.HashToken(refreshToken)); err != nil {
		return storeError("revoke refresh token", err)
	}
	return nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*AuthResponse, error) {
	access, accessExp, err := s.issuer.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	raw, hash, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.tokenRepo.Create(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: s.now().UTC().Add(s.cfg.RefreshTokenTTL),
	}); err != nil {
		return nil, storeError("create refresh token", err)
	}

	return &AuthResponse{
		AccessToken:          access,
		AccessTokenExpiresAt: accessExp,
		RefreshToken:         raw,
		User:                 user.ToResponse(),
	}, nil
}

// generateCode returns a zero-padded decimal code from crypto/rand.
func generateCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
