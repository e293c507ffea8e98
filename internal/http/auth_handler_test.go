package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-api/internal/domain"
	"auth-api/internal/repository"
	"auth-api/internal/service"
)

type mockUserRepo struct {
	mu           sync.Mutex
	usersByID    map[string]domain.User
	usersByEmail map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByEmail[user.Email]; exists {
		return repository.ErrEmailTaken
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByEmail[email]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.usersByID[id], nil
}

func (m *mockUserRepo) GetByIDAndEmail(_ context.Context, id, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok || user.Email != email {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) SetVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.IsVerified = true
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = passwordHash
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) LinkOAuth(_ context.Context, id, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.OauthProvider = provider
	user.IsVerified = true
	m.usersByID[id] = user
	return nil
}

type mockSender struct {
	mu    sync.Mutex
	codes map[string]string
	links map[string]string
}

func newMockSender() *mockSender {
	return &mockSender{
		codes: make(map[string]string),
		links: make(map[string]string),
	}
}

func (m *mockSender) SendVerificationOTP(_ context.Context, toEmail, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[toEmail] = code
	return nil
}

func (m *mockSender) SendPasswordResetLink(_ context.Context, toEmail, resetLink string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[toEmail] = resetLink
	return nil
}

func (m *mockSender) SendPasswordResetConfirmation(_ context.Context, _ string) error {
	return nil
}

func (m *mockSender) codeFor(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type testAPI struct {
	router *gin.Engine
	sender *mockSender
	jwt    *service.JWTService
}

func newTestAPI() *testAPI {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	repo := newMockUserRepo()
	sender := newMockSender()
	jwtSvc := service.NewJWTService("secret", 15*time.Minute, 30*time.Minute)
	otpSvc := service.NewOTPService(logger, service.NewMemoryOTPStore(), sender, nil)
	authSvc := service.NewAuthService(logger, repo, otpSvc, jwtSvc, sender, "http://localhost:8080")
	authH := NewAuthHandler(logger, authSvc)
	healthH := NewHealthHandler(nil, nil)
	return &testAPI{
		router: NewRouter(logger, authH, healthH, jwtSvc),
		sender: sender,
		jwt:    jwtSvc,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env Envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func (a *testAPI) registerUser(t *testing.T, email, password string) string {
	t.Helper()
	rec, env := a.do(t, http.MethodPost, "/auth/register", gin.H{
		"email":     email,
		"password":  password,
		"full_name": "A B",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := env.Data.(map[string]any)
	user := data["user"].(map[string]any)
	return user["id"].(string)
}

func TestRegisterEndpoint(t *testing.T) {
	api := newTestAPI()

	rec, env := api.do(t, http.MethodPost, "/auth/register", gin.H{
		"email":     "a@b.com",
		"password":  "secretpw",
		"full_name": "A B",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.Error != nil {
		t.Fatalf("expected null error, got %v", *env.Error)
	}

	data := env.Data.(map[string]any)
	user, ok := data["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user in data, got %v", env.Data)
	}
	if user["is_verified"] != false {
		t.Fatalf("expected unverified user")
	}
	if _, hasTokens := data["tokens"]; hasTokens {
		t.Fatalf("register must not return tokens")
	}
	if api.sender.codeFor("a@b.com") == "" {
		t.Fatalf("expected otp mail sent")
	}
}

func TestRegisterEndpoint_DuplicateEmail(t *testing.T) {
	api := newTestAPI()
	api.registerUser(t, "a@b.com", "secretpw")

	rec, env := api.do(t, http.MethodPost, "/auth/register", gin.H{
		"email":     "a@b.com",
		"password":  "otherpw1",
		"full_name": "C D",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.Error == nil {
		t.Fatalf("expected error in envelope")
	}
}

func TestRegisterEndpoint_InvalidBody(t *testing.T) {
	api := newTestAPI()

	rec, _ := api.do(t, http.MethodPost, "/auth/register", gin.H{
		"email":    "not-an-email",
		"password": "secretpw",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyOTPEndpoint_FullFlow(t *testing.T) {
	api := newTestAPI()
	id := api.registerUser(t, "a@b.com", "secretpw")

	rec, env := api.do(t, http.MethodPost, "/auth/verify-otp", gin.H{
		"id":  id,
		"otp": api.sender.codeFor("a@b.com"),
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	data := env.Data.(map[string]any)
	user := data["user"].(map[string]any)
	if user["is_verified"] != true {
		t.Fatalf("expected is_verified true, got %v", user)
	}
	tokens, ok := data["tokens"].(map[string]any)
	if !ok || tokens["access_token"] == "" || tokens["refresh_token"] == "" {
		t.Fatalf("expected token pair, got %v", data["tokens"])
	}
}

func TestVerifyOTPEndpoint_WrongCode(t *testing.T) {
	api := newTestAPI()
	id := api.registerUser(t, "a@b.com", "secretpw")

	rec, _ := api.do(t, http.MethodPost, "/auth/verify-otp", gin.H{
		"id":  id,
		"otp": "000000",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestLoginEndpoint_UnverifiedAndInvalid(t *testing.T) {
	api := newTestAPI()
	api.registerUser(t, "a@b.com", "secretpw")

	rec, env := api.do(t, http.MethodPost, "/auth/login", gin.H{
		"email":    "a@b.com",
		"password": "secretpw",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.Error == nil || *env.Error != "email not verified" {
		t.Fatalf("expected distinct unverified error, got %v", env.Error)
	}

	rec, env = api.do(t, http.MethodPost, "/auth/login", gin.H{
		"email":    "a@b.com",
		"password": "wrongpw99",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.Error == nil || *env.Error != "invalid credentials" {
		t.Fatalf("expected generic credentials error, got %v", env.Error)
	}
}

func TestRefreshEndpoint_InvalidToken(t *testing.T) {
	api := newTestAPI()

	rec, _ := api.do(t, http.MethodPost, "/auth/refresh", gin.H{
		"refresh_token": "garbage",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec, _ = api.do(t, http.MethodPost, "/auth/refresh", gin.H{}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestMeEndpoint(t *testing.T) {
	api := newTestAPI()
	id := api.registerUser(t, "a@b.com", "secretpw")

	rec, env := api.do(t, http.MethodPost, "/auth/verify-otp", gin.H{
		"id":  id,
		"otp": api.sender.codeFor("a@b.com"),
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	tokens := env.Data.(map[string]any)["tokens"].(map[string]any)
	access := tokens["access_token"].(string)

	rec, env = api.do(t, http.MethodGet, "/auth/me", nil, map[string]string{
		"Authorization": "Bearer " + access,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", rec.Code, rec.Body.String())
	}
	user := env.Data.(map[string]any)["user"].(map[string]any)
	if user["id"] != id {
		t.Fatalf("expected own profile, got %v", user)
	}

	rec, _ = api.do(t, http.MethodGet, "/auth/me", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me status = %d", rec.Code)
	}
}

func TestOAuthEndpoint(t *testing.T) {
	api := newTestAPI()

	rec, env := api.do(t, http.MethodPost, "/auth/oauth", gin.H{
		"provider":  "google",
		"email":     "new@x.com",
		"full_name": "New X",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := env.Data.(map[string]any)
	user := data["user"].(map[string]any)
	if user["is_verified"] != true || user["oauth_provider"] != "google" {
		t.Fatalf("expected verified oauth user, got %v", user)
	}
	if _, ok := data["tokens"].(map[string]any); !ok {
		t.Fatalf("expected tokens")
	}
}

func TestForgotResetEndpoints(t *testing.T) {
	api := newTestAPI()
	id := api.registerUser(t, "a@b.com", "secretpw")

	rec, _ := api.do(t, http.MethodPost, "/auth/verify-otp", gin.H{
		"id":  id,
		"otp": api.sender.codeFor("a@b.com"),
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}

	rec, _ = api.do(t, http.MethodPost, "/auth/forgot-password", gin.H{
		"email": "a@b.com",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("forgot status = %d, body %s", rec.Code, rec.Body.String())
	}

	link := api.sender.links["a@b.com"]
	const marker = "?token="
	idx := strings.Index(link, marker)
	if idx < 0 {
		t.Fatalf("expected token in reset link %q", link)
	}
	token := link[idx+len(marker):]

	rec, env := api.do(t, http.MethodPost, "/auth/reset-password", gin.H{
		"token":    token,
		"password": "newsecret",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, ok := env.Data.(map[string]any)["tokens"].(map[string]any); !ok {
		t.Fatalf("expected auto-login tokens")
	}

	rec, _ = api.do(t, http.MethodPost, "/auth/login", gin.H{
		"email":    "a@b.com",
		"password": "newsecret",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestForgotPasswordEndpoint_UnknownEmail(t *testing.T) {
	api := newTestAPI()

	rec, _ := api.do(t, http.MethodPost, "/auth/forgot-password", gin.H{
		"email": "nobody@b.com",
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSendOTPEndpoint_InvalidID(t *testing.T) {
	api := newTestAPI()

	rec, _ := api.do(t, http.MethodPost, "/auth/send-otp/not-a-uuid", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}
