package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
	"unicode"

	"go.uber.org/zap"

	"auth-api/internal/email"
)

const (
	otpTTL = 300 * time.Second
	otpMin = 100000
	otpMax = 999999
)

// OTPService genera, persiste y valida codigos de un solo uso.
type OTPService struct {
	logger  *zap.Logger
	store   OTPStore
	sender  email.Sender
	limiter OTPRateLimiter
}

func NewOTPService(logger *zap.Logger, store OTPStore, sender email.Sender, limiter OTPRateLimiter) *OTPService {
	return &OTPService{
		logger:  logger,
		store:   store,
		sender:  sender,
		limiter: limiter,
	}
}

// Issue genera un codigo de 6 digitos, lo guarda con TTL de 300s
// (pisando cualquier codigo anterior para ese email) y lo envia por correo.
func (s *OTPService) Issue(ctx context.Context, emailAddr string) (string, error) {
	if s.limiter != nil && !s.limiter.Allow(emailAddr) {
		return "", ErrRateLimited
	}

	code, err := generateOTPCode()
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().UTC().Add(otpTTL)
	if err := s.store.Set(ctx, emailAddr, code, otpTTL); err != nil {
		return "", err
	}

	if s.sender == nil {
		return "", ErrEmailSendFailure
	}
	if err := s.sender.SendVerificationOTP(ctx, emailAddr, code, expiresAt); err != nil {
		if s.logger != nil {
			s.logger.Warn("send verification otp failed", zap.Error(err), zap.String("email", emailAddr))
		}
		return "", ErrEmailSendFailure
	}

	return code, nil
}

// Verify compara como strings: el codigo guardado debe coincidir exactamente.
func (s *OTPService) Verify(ctx context.Context, emailAddr, code string) error {
	if !isValidOTPCode(code) {
		return ErrOTPInvalid
	}
	saved, ok, err := s.store.Get(ctx, emailAddr)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOTPInvalid
	}
	if subtle.ConstantTimeCompare([]byte(saved), []byte(code)) != 1 {
		return ErrOTPInvalid
	}
	return nil
}

// Invalidate borra el codigo guardado sin condiciones.
func (s *OTPService) Invalidate(ctx context.Context, emailAddr string) error {
	return s.store.Delete(ctx, emailAddr)
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

func isValidOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
