package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OTPStore guarda codigos de verificacion con TTL, uno por email.
type OTPStore interface {
	Set(ctx context.Context, email, code string, ttl time.Duration) error
	Get(ctx context.Context, email string) (string, bool, error)
	Delete(ctx context.Context, email string) error
}

type memoryOTPStore struct {
	mu    sync.Mutex
	items map[string]memoryOTPEntry
}

type memoryOTPEntry struct {
	code      string
	expiresAt time.Time
}

func NewMemoryOTPStore() OTPStore {
	return &memoryOTPStore{
		items: make(map[string]memoryOTPEntry),
	}
}

func (s *memoryOTPStore) Set(_ context.Context, email, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(email) == "" {
		return errors.New("email is required")
	}
	s.items[email] = memoryOTPEntry{
		code:      code,
		expiresAt: time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *memoryOTPStore) Get(_ context.Context, email string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[email]
	if !ok {
		return "", false, nil
	}
	if time.Now().UTC().After(entry.expiresAt) {
		delete(s.items, email)
		return "", false, nil
	}
	return entry.code, true, nil
}

func (s *memoryOTPStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, email)
	return nil
}

type redisOTPStore struct {
	client *redis.Client
	prefix string
}

func NewRedisOTPStore(client *redis.Client) OTPStore {
	if client == nil {
		return nil
	}
	return &redisOTPStore{
		client: client,
		prefix: "otp:",
	}
}

func (s *redisOTPStore) Set(ctx context.Context, email, code string, ttl time.Duration) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("email is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return s.client.Set(ctx, s.prefix+email, code, ttl).Err()
}

func (s *redisOTPStore) Get(ctx context.Context, email string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	code, err := s.client.Get(ctx, s.prefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

func (s *redisOTPStore) Delete(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return s.client.Del(ctx, s.prefix+email).Err()
}
