package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// User is a registered account.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	LastSeen     time.Time
}

// UserRepository manages account rows.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a user repository backed by db.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, email, password_hash, created_at, last_seen`

// GetByName retrieves a user by account name.
// Returns nil, nil when no such user exists.
func (r *UserRepository) GetByName(ctx context.Context, name string) (*User, error) {
	name = strings.ToLower(name)
	var u User
	err := r.db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = $1`, name,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %q: %w", name, err)
	}
	return &u, nil
}

// GetByEmail retrieves a user by email address.
// Returns nil, nil when no such user exists.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(email)
	var u User
	err := r.db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email %q: %w", email, err)
	}
	return &u, nil
}

// Create inserts a new account and returns the stored row.
func (r *UserRepository) Create(ctx context.Context, name, email, passwordHash string) (*User, error) {
	name = strings.ToLower(name)
	email = strings.ToLower(email)
	var u User
	err := r.db.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING `+userColumns,
		name, email, passwordHash,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("creating user %q: %w", name, err)
	}
	return &u, nil
}

// UpdatePassword replaces the stored password hash for name.
func (r *UserRepository) UpdatePassword(ctx context.Context, name, passwordHash string) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1 WHERE name = $2`,
		passwordHash, strings.ToLower(name),
	)
	if err != nil {
		return fmt.Errorf("updating password for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating password for %q: no such user", name)
	}
	return nil
}

// TouchLastSeen records account activity.
func (r *UserRepository) TouchLastSeen(ctx context.Context, name string) error {
	_, err := r.db.pool.Exec(ctx,
		`UPDATE users SET last_seen = now() WHERE name = $1`,
		strings.ToLower(name),
	)
	if err != nil {
		return fmt.Errorf("touching last seen for %q: %w", name, err)
	}
	return nil
}
