// Package auth implements consultant login and registration as a thin
// lookup-and-compare over the store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atendolive/atendo/backend/internal/model/user"
	"github.com/atendolive/atendo/backend/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("user already exists")
)

type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Login verifies credentials and returns the user without its password.
func (s *Service) Login(ctx context.Context, email, password string) (user.User, error) {
	record, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return user.User{}, fmt.Errorf("login lookup: %w", err)
	}

	// Plain comparison, matching the deployment this replaces. Hashing
	// belongs in the store migration that introduces it.
	if record.Password != password {
		return user.User{}, ErrInvalidCredentials
	}
	return record.User, nil
}

// Register creates a consultant account. The default role is
// consultant unless the caller asks for admin.
func (s *Service) Register(ctx context.Context, email, password, name string, role user.Role) (user.User, error) {
	if role == "" {
		role = user.RoleConsultant
	}
	now := time.Now().UTC()
	record := user.WithPassword{
		User: user.User{
			ID:        uuid.NewString(),
			Email:     email,
			Name:      name,
			Role:      role,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Password: password,
	}

	err := s.store.CreateUser(ctx, record)
	if errors.Is(err, storage.ErrEmailTaken) {
		return user.User{}, ErrEmailTaken
	}
	if err != nil {
		return user.User{}, fmt.Errorf("register: %w", err)
	}
	return record.User, nil
}
