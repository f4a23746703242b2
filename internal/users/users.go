// Package users provides a thin directory of trading accounts.
//
// The directory exists so trade and listing operations can verify that a
// referenced party is a real, active account, and so notifications can be
// addressed to a stable user ID. It deliberately carries no credentials:
// authentication is out of scope and callers identify themselves via the
// X-User-ID header.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mdade/swapvault/internal/idgen"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("user already exists")
	ErrInvalidName   = errors.New("display name is required")
	ErrSuspended     = errors.New("user is suspended")
)

// Status represents the state of a user account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// User is a trading account.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RegisterRequest contains the parameters for registering a user.
type RegisterRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	List(ctx context.Context, limit int) ([]*User, error)
}

// Service manages the user directory.
type Service struct {
	store Store
}

// NewService creates a user directory service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a new active user.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, ErrInvalidName
	}

	u := &User{
		ID:          idgen.WithPrefix("usr_"),
		DisplayName: name,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit users.
func (s *Service) List(ctx context.Context, limit int) ([]*User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// RequireActive returns the user if it exists and is active.
func (s *Service) RequireActive(ctx context.Context, id string) (*User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != StatusActive {
		return nil, ErrSuspended
	}
	return u, nil
}
