// Package storage defines the persistence contract the services
// consume. Backends are interchangeable; which one runs is decided by
// the DATABASE_TYPE configuration at startup.
package storage

import (
	"context"
	"errors"

	"github.com/atendolive/atendo/backend/internal/model/chat"
	"github.com/atendolive/atendo/backend/internal/model/user"
)

var (
	// ErrNotFound is returned when a session, message owner or user
	// id does not resolve to a record.
	ErrNotFound = errors.New("record not found")

	// ErrEmailTaken is returned by CreateUser when the email is
	// already registered.
	ErrEmailTaken = errors.New("email already registered")
)

// SessionUpdate is a partial session mutation. Nil fields are left
// untouched. Backends apply the whole update atomically and bump
// UpdatedAt, so concurrent callers cannot lose each other's writes.
type SessionUpdate struct {
	Client *chat.Client
	Status *chat.Status
}

// UserUpdate is a partial user mutation; nil fields are untouched.
type UserUpdate struct {
	Email    *string
	Name     *string
	Password *string
	Role     *user.Role
}

// SettingsUpdate is a partial runtime-settings mutation.
type SettingsUpdate struct {
	ChatTTLMinutes    *int
	WarnBeforeMinutes *int
}

// Store is the durable source of truth for sessions, users and the
// runtime settings. All methods may fail with a backend I/O error;
// lookups fail with ErrNotFound for unknown ids. AppendMessage must be
// atomic with the session's UpdatedAt bump.
type Store interface {
	CreateSession(ctx context.Context, session chat.Session) error
	GetSession(ctx context.Context, id string) (chat.Session, error)
	ListSessions(ctx context.Context) ([]chat.Session, error)
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) (chat.Session, error)
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error)

	CreateUser(ctx context.Context, u user.WithPassword) error
	GetUser(ctx context.Context, id string) (user.WithPassword, error)
	GetUserByEmail(ctx context.Context, email string) (user.WithPassword, error)
	ListUsers(ctx context.Context) ([]user.WithPassword, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (user.WithPassword, error)
	DeleteUser(ctx context.Context, id string) error

	GetSettings(ctx context.Context) (user.Settings, error)
	UpdateSettings(ctx context.Context, upd SettingsUpdate) (user.Settings, error)

	Close() error
}
