package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-api/internal/domain"
	"auth-api/internal/email"
	"auth-api/internal/repository"
)

var (
	ErrEmailExists        = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrOTPInvalid         = errors.New("otp invalid")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrEmailSendFailure   = errors.New("email send failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidEmail       = errors.New("invalid email")
)

// AuthService coordina registro, verificacion, login y ciclo de vida de tokens.
type AuthService struct {
	logger  *zap.Logger
	users   repository.UserRepository
	otp     *OTPService
	jwt     *JWTService
	sender  email.Sender
	baseURL string
}

func NewAuthService(logger *zap.Logger, users repository.UserRepository, otp *OTPService, jwt *JWTService, sender email.Sender, baseURL string) *AuthService {
	return &AuthService{
		logger:  logger,
		users:   users,
		otp:     otp,
		jwt:     jwt,
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// Register crea la cuenta sin verificar y dispara el primer OTP.
// No devuelve tokens: el login por password exige email verificado.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (domain.User, error) {
	emailAddr := normalizeEmail(input.Email)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}

	if _, err := s.users.GetByEmail(ctx, emailAddr); err == nil {
		return domain.User{}, ErrEmailExists
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return domain.User{}, err
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		PasswordHash: passwordHash,
		FullName:     strings.TrimSpace(input.FullName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// El indice unico es la autoridad frente a registros concurrentes.
		if errors.Is(err, repository.ErrEmailTaken) {
			return domain.User{}, ErrEmailExists
		}
		return domain.User{}, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("email", user.Email))

	if _, err := s.otp.Issue(ctx, user.Email); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// SendOTP reemite un codigo de verificacion para la cuenta indicada.
func (s *AuthService) SendOTP(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	if _, err := s.otp.Issue(ctx, user.Email); err != nil {
		return err
	}
	s.logger.Info("otp sent", zap.String("user_id", user.ID))
	return nil
}

// VerifyOTP marca la cuenta como verificada y emite el primer par de tokens.
func (s *AuthService) VerifyOTP(ctx context.Context, userID, code string) (TokenPair, domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenPair{}, domain.User{}, ErrUserNotFound
		}
		return TokenPair{}, domain.User{}, err
	}

	if err := s.otp.Verify(ctx, user.Email, code); err != nil {
		return TokenPair{}, domain.User{}, err
	}

	if err := s.users.SetVerified(ctx, user.ID); err != nil {
		return TokenPair{}, domain.User{}, err
	}
	if err := s.otp.Invalidate(ctx, user.Email); err != nil {
		return TokenPair{}, domain.User{}, err
	}
	user.IsVerified = true

	tokens, err := s.jwt.GeneratePair(user)
	if err != nil {
		return TokenPair{}, domain.User{}, err
	}

	s.logger.Info("user verified", zap.String("user_id", user.ID))
	return tokens, user, nil
}

// Login valida credenciales y emite un par de tokens.
// Email inexistente y password incorrecto devuelven el mismo error generico.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (TokenPair, domain.User, error) {
	user, err := s.validateCredentials(ctx, emailAddr, password)
	if err != nil {
		return TokenPair{}, domain.User{}, err
	}
	tokens, err := s.jwt.GeneratePair(user)
	if err != nil {
		return TokenPair{}, domain.User{}, err
	}
	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return tokens, user, nil
}

func (s *AuthService) validateCredentials(ctx context.Context, emailAddr, password string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return domain.User{}, ErrInvalidCredentials
	}
	if !user.IsVerified {
		return domain.User{}, ErrEmailNotVerified
	}
	return user, nil
}

// RefreshToken emite un par nuevo a partir de un refresh token valido.
// El usuario se re-resuelve por el email embebido en el token.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, ErrUnauthorized
	}
	claims, err := s.jwt.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	return s.jwt.GeneratePair(user)
}

// ForgotPassword envia un link de reseteo con un token de 15 minutos.
// No muta ningun estado.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}

	token, err := s.jwt.GenerateResetToken(user)
	if err != nil {
		return err
	}
	resetLink := s.baseURL + "/auth/reset-password?token=" + token

	if s.sender == nil {
		return ErrEmailSendFailure
	}
	if err := s.sender.SendPasswordResetLink(ctx, user.Email, resetLink); err != nil {
		s.logger.Warn("send password reset link failed", zap.Error(err), zap.String("email", user.Email))
		return ErrEmailSendFailure
	}

	s.logger.Info("password reset link sent", zap.String("user_id", user.ID))
	return nil
}

// ResetPassword cambia el password autorizado por el token de accion
// y devuelve tokens frescos como auto-login.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (TokenPair, domain.User, error) {
	claims, err := s.jwt.ParseResetToken(token)
	if err != nil {
		return TokenPair{}, domain.User{}, err
	}

	user, err := s.users.GetByIDAndEmail(ctx, claims.UserID, claims.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenPair{}, domain.User{}, ErrUserNotFound
		}
		return TokenPair{}, domain.User{}, err
	}

	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return TokenPair{}, domain.User{}, err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return TokenPair{}, domain.User{}, err
	}
	user.PasswordHash = passwordHash

	if s.sender != nil {
		if err := s.sender.SendPasswordResetConfirmation(ctx, user.Email); err != nil {
			s.logger.Warn("send reset confirmation failed", zap.Error(err), zap.String("email", user.Email))
		}
	}

	tokens, err := s.jwt.GeneratePair(user)
	if err != nil {
		return TokenPair{}, domain.User{}, err
	}

	s.logger.Info("password updated", zap.String("user_id", user.ID))
	return tokens, user, nil
}

type OAuthInput struct {
	Provider string
	Email    string
	FullName string
}

// OAuthLogin crea la cuenta verificada en el primer login externo.
// Una cuenta de password existente queda ligada al proveedor y verificada.
func (s *AuthService) OAuthLogin(ctx context.Context, input OAuthInput) (TokenPair, domain.User, error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	emailAddr := normalizeEmail(input.Email)
	if provider == "" || emailAddr == "" {
		return TokenPair{}, domain.User{}, ErrInvalidEmail
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		now := time.Now().UTC()
		user = domain.User{
			ID:            uuid.NewString(),
			Email:         emailAddr,
			FullName:      strings.TrimSpace(input.FullName),
			IsVerified:    true,
			OauthProvider: provider,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrEmailTaken) {
				return TokenPair{}, domain.User{}, ErrEmailExists
			}
			return TokenPair{}, domain.User{}, err
		}
		s.logger.Info("oauth user registered", zap.String("user_id", user.ID), zap.String("provider", provider))
	case err != nil:
		return TokenPair{}, domain.User{}, err
	case user.OauthProvider == "":
		if err := s.users.LinkOAuth(ctx, user.ID, provider); err != nil {
			return TokenPair{}, domain.User{}, err
		}
		user.OauthProvider = provider
		user.IsVerified = true
		s.logger.Info("oauth provider linked", zap.String("user_id", user.ID), zap.String("provider", provider))
	}

	tokens, err := s.jwt.GeneratePair(user)
	if err != nil {
		return TokenPair{}, domain.User{}, err
	}
	return tokens, user, nil
}

// Profile devuelve la cuenta del usuario autenticado.
func (s *AuthService) Profile(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
