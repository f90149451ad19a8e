package storage

import (
	"context"
	"time"
)

// User is an account record that bearer tokens are issued for.
type User struct {
	ID           string
	Email        string
	PasswordHash string //nolint:gosec // stored hash, never a plaintext credential
	Roles        []string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStore is the storage interface for account lookups.
type UserStore interface {
	// Lifecycle
	Close() error
	Ping(ctx context.Context) error

	// Users
	UpsertUser(ctx context.Context, u *User) error
	// GetUserByEmail returns nil, nil when no user matches.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	DeleteUser(ctx context.Context, email string) error
	ListUsers(ctx context.Context) ([]User, error)
}
