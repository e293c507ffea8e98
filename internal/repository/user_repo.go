package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-api/internal/domain"
)

// ErrEmailTaken indica una violación del índice único de email.
var ErrEmailTaken = errors.New("email already taken")

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByIDAndEmail(ctx context.Context, id, email string) (domain.User, error)
	SetVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	LinkOAuth(ctx context.Context, id, provider string) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, email, password_hash, full_name, is_verified, oauth_provider, is_deleted, created_at, updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, password_hash, full_name, is_verified, oauth_provider, is_deleted, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.IsVerified,
		user.OauthProvider,
		user.IsDeleted,
		user.CreatedAt,
		user.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, email))
}

func (r *PgUserRepository) GetByIDAndEmail(ctx context.Context, id, email string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND email = $2`
	return r.scanOne(r.pool.QueryRow(ctx, query, id, email))
}

func (r *PgUserRepository) SetVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET is_verified = TRUE, updated_at = $2 WHERE id = $1`
	return r.exec(ctx, query, id, time.Now().UTC())
}

func (r *PgUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, query, id, passwordHash, time.Now().UTC())
}

func (r *PgUserRepository) LinkOAuth(ctx context.Context, id, provider string) error {
	const query = `UPDATE users SET oauth_provider = $2, is_verified = TRUE, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, query, id, provider, time.Now().UTC())
}

func (r *PgUserRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgUserRepository) scanOne(row pgx.Row) (domain.User, error) {
	var (
		u             domain.User
		passwordHash  *string
		oauthProvider *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&passwordHash,
		&u.FullName,
		&u.IsVerified,
		&oauthProvider,
		&u.IsDeleted,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	if oauthProvider != nil {
		u.OauthProvider = *oauthProvider
	}
	return u, nil
}
