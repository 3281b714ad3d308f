// Package users exposes consultant account management. Passwords are
// stripped before anything leaves this package.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/atendolive/atendo/backend/internal/model/user"
	"github.com/atendolive/atendo/backend/internal/storage"
)

var ErrUserNotFound = errors.New("user not found")

type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

func (s *Service) ListUsers(ctx context.Context) ([]user.User, error) {
	records, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]user.User, 0, len(records))
	for _, record := range records {
		out = append(out, record.User)
	}
	return out, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (user.User, error) {
	record, err := s.store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	return record.User, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, upd storage.UserUpdate) (user.User, error) {
	record, err := s.store.UpdateUser(ctx, id, upd)
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("update user: %w", err)
	}
	return record.User, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	err := s.store.DeleteUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
