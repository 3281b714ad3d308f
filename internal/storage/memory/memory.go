// Package memory provides a map-backed store. It is the default for
// tests and works fine for single-node deployments that accept losing
// history on restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/atendolive/atendo/backend/internal/model/chat"
	"github.com/atendolive/atendo/backend/internal/model/user"
	"github.com/atendolive/atendo/backend/internal/storage"
)

// Store keeps everything in maps behind one mutex. Every write holds
// the lock for the full read-modify-write, so partial updates and
// appends cannot race each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	users    map[string]user.WithPassword
	settings user.Settings
}

// New returns an empty store seeded with default settings.
func New() *Store {
	return &Store{
		sessions: make(map[string]chat.Session),
		users:    make(map[string]user.WithPassword),
		settings: user.DefaultSettings(time.Now().UTC()),
	}
}

func (s *Store) CreateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, storage.ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) ListSessions(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, cloneSession(session))
	}
	return out, nil
}

func (s *Store) UpdateSession(_ context.Context, id string, upd storage.SessionUpdate) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, storage.ErrNotFound
	}
	if upd.Client != nil {
		session.Client = session.Client.Merge(*upd.Client)
	}
	if upd.Status != nil {
		session.Status = *upd.Status
	}
	session.UpdatedAt = time.Now().UTC()
	s.sessions[id] = session
	return cloneSession(session), nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) AppendMessage(_ context.Context, sessionID string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = session
	return nil
}

func (s *Store) GetMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	msgs := make([]chat.Message, len(session.Messages))
	copy(msgs, session.Messages)
	return msgs, nil
}

func (s *Store) CreateUser(_ context.Context, u user.WithPassword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return storage.ErrEmailTaken
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.WithPassword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return user.WithPassword{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.WithPassword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.WithPassword{}, storage.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]user.WithPassword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]user.WithPassword, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, id string, upd storage.UserUpdate) (user.WithPassword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.WithPassword{}, storage.ErrNotFound
	}
	applyUserUpdate(&u, upd)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) GetSettings(_ context.Context) (user.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, upd storage.SettingsUpdate) (user.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upd.ChatTTLMinutes != nil {
		s.settings.ChatTTLMinutes = *upd.ChatTTLMinutes
	}
	if upd.WarnBeforeMinutes != nil {
		s.settings.WarnBeforeMinutes = *upd.WarnBeforeMinutes
	}
	s.settings.UpdatedAt = time.Now().UTC()
	return s.settings, nil
}

func (s *Store) Close() error { return nil }

func cloneSession(session chat.Session) chat.Session {
	msgs := make([]chat.Message, len(session.Messages))
	copy(msgs, session.Messages)
	session.Messages = msgs
	return session
}

func applyUserUpdate(u *user.WithPassword, upd storage.UserUpdate) {
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Password != nil {
		u.Password = *upd.Password
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
}

var _ storage.Store = (*Store)(nil)
