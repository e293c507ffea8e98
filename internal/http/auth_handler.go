package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"auth-api/internal/service"
)

// AuthHandler mantiene dependencias para endpoints de autenticacion.
type AuthHandler struct {
	logger   *zap.Logger
	authServ *service.AuthService
}

func NewAuthHandler(logger *zap.Logger, authServ *service.AuthService) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		authServ: authServ,
	}
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8,max=20"`
		FullName string `json:"full_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.authServ.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		h.respondAuthError(c, err, "could not register user")
		return
	}

	respondSuccess(c, http.StatusCreated, "User registered successfully, OTP sent to email.", gin.H{"user": user})
}

// SendOTP maneja POST /auth/send-otp/:id.
func (h *AuthHandler) SendOTP(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.authServ.SendOTP(c.Request.Context(), id); err != nil {
		h.respondAuthError(c, err, "could not send otp")
		return
	}

	respondSuccess(c, http.StatusOK, "OTP sent successfully", nil)
}

// VerifyOTP maneja POST /auth/verify-otp.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		ID  string `json:"id" binding:"required,uuid"`
		OTP string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid verify otp request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	tokens, user, err := h.authServ.VerifyOTP(c.Request.Context(), req.ID, req.OTP)
	if err != nil {
		h.respondAuthError(c, err, "could not verify otp")
		return
	}

	respondSuccess(c, http.StatusOK, "User verified successfully", gin.H{"tokens": tokens, "user": user})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	tokens, user, err := h.authServ.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondAuthError(c, err, "could not login")
		return
	}

	respondSuccess(c, http.StatusOK, "Login successful", gin.H{"tokens": tokens, "user": user})
}

// RefreshToken maneja POST /auth/refresh.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid refresh request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	tokens, err := h.authServ.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondAuthError(c, err, "could not refresh token")
		return
	}

	respondSuccess(c, http.StatusOK, "Token refreshed successfully", gin.H{"tokens": tokens})
}

// ForgotPassword maneja POST /auth/forgot-password.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid forgot password request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.authServ.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.respondAuthError(c, err, "could not send reset link")
		return
	}

	respondSuccess(c, http.StatusOK, "Password reset link sent successfully", nil)
}

// ResetPassword maneja POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required,min=8,max=20"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset password request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	tokens, user, err := h.authServ.ResetPassword(c.Request.Context(), req.Token, req.Password)
	if err != nil {
		h.respondAuthError(c, err, "could not reset password")
		return
	}

	respondSuccess(c, http.StatusOK, "Password updated successfully", gin.H{"tokens": tokens, "user": user})
}

// OAuthLogin maneja POST /auth/oauth.
func (h *AuthHandler) OAuthLogin(c *gin.Context) {
	var req struct {
		Provider string `json:"provider" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		FullName string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid oauth request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	tokens, user, err := h.authServ.OAuthLogin(c.Request.Context(), service.OAuthInput{
		Provider: req.Provider,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		h.respondAuthError(c, err, "could not complete oauth login")
		return
	}

	respondSuccess(c, http.StatusOK, "Login successful", gin.H{"tokens": tokens, "user": user})
}

// Me maneja GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "missing token")
		return
	}

	user, err := h.authServ.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondAuthError(c, err, "could not load profile")
		return
	}

	respondSuccess(c, http.StatusOK, "Profile loaded", gin.H{"user": user})
}

func (h *AuthHandler) respondAuthError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrEmailExists):
		respondError(c, http.StatusConflict, "user already exists")
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "user not found")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, service.ErrEmailNotVerified):
		respondError(c, http.StatusUnauthorized, "email not verified")
	case errors.Is(err, service.ErrOTPInvalid):
		respondError(c, http.StatusUnauthorized, "invalid otp")
	case errors.Is(err, service.ErrJWTInvalid), errors.Is(err, service.ErrJWTExpired):
		respondError(c, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, service.ErrUnauthorized):
		respondError(c, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrRateLimited):
		respondError(c, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, service.ErrEmailSendFailure):
		respondError(c, http.StatusServiceUnavailable, "email delivery unavailable")
	case errors.Is(err, service.ErrInvalidEmail):
		respondError(c, http.StatusBadRequest, "invalid email")
	default:
		h.logger.Error(fallback, zap.Error(err))
		respondError(c, http.StatusInternalServerError, fallback)
	}
}
