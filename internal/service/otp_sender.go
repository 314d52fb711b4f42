package service

import (
	"context"
	"log"
)

// OTPSender delivers a login code to a phone number.
type OTPSender interface {
	SendOTP(ctx context.Context, phoneNumber, code string) error
}

// LogOTPSender writes codes to the server log. Development only.
type LogOTPSender struct{}

func (LogOTPSender) SendOTP(ctx context.Context, phoneNumber, code string) error {
	log.Printf("otp issued phone=%s code=%s", phoneNumber, code)
	return nil
}
