// Package users manages marketplace account profiles.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when no account matches the lookup
var ErrUserNotFound = errors.New("user not found")

// User is a marketplace account
type User struct {
	ID          string    `json:"id" db:"id"`
	Username    string    `json:"username" db:"username"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Email       string    `json:"email,omitempty" db:"email"`
	Bio         string    `json:"bio" db:"bio"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Public strips fields that only the account holder may see
func (u *User) Public() *User {
	out := *u
	out.Email = ""
	return &out
}

// UpdateProfileRequest changes the caller's own profile
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
}

// Service provides account operations
type Service struct {
	db *sql.DB
}

// NewService creates a new users service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const userColumns = "id, username, display_name, email, bio, created_at, updated_at"

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.Bio, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// Get fetches an account by ID
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

// GetByUsername fetches an account by username
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username)
	return scanUser(row)
}

// UpdateProfile updates the account's own profile fields
func (s *Service) UpdateProfile(ctx context.Context, id string, req *UpdateProfileRequest) (*User, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET display_name = $2, bio = $3, updated_at = $4 WHERE id = $1",
		id, req.DisplayName, req.Bio, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return nil, ErrUserNotFound
	}
	return s.Get(ctx, id)
}
