package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/secureblog/secureblog/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	CreateUser(ctx context.Context, username, email, passwordHash string, role Role) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateUser inserts a new account. A violation of the username or email
// unique constraints yields shared.ErrConflict without naming the column.
func (r *PGRepository) CreateUser(ctx context.Context, username, email, passwordHash string, role Role) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING user_id`,
		username, email, passwordHash, string(role), now,
	).Scan(&user.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrConflict
		}
		return nil, err
	}
	return user, nil
}

// FindByUsername fetches a user by username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	var role string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, username, email, password_hash, role, created_at
		 FROM users WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	user.Role = Role(role)
	return &user, nil
}

var _ Repository = (*PGRepository)(nil)
