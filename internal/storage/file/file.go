// Package file persists the whole database as one JSON document on
// disk, the same shape the original deployment used. State lives in
// memory; every write rewrites the file through a temp-file rename so
// a crash never leaves a half-written document.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atendolive/atendo/backend/internal/model/chat"
	"github.com/atendolive/atendo/backend/internal/model/user"
	"github.com/atendolive/atendo/backend/internal/storage"
)

type document struct {
	Chats    []chat.Session      `json:"chats"`
	Users    []user.WithPassword `json:"users"`
	Settings user.Settings       `json:"config"`
}

// Store serializes all access behind one mutex; the read-modify-write
// of a partial update therefore cannot lose a concurrent append.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  document
}

// Open loads the document at path, creating it with defaults when it
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.doc = document{Settings: user.DefaultSettings(time.Now().UTC())}
		if err := s.flush(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := json.Unmarshal(raw, &s.doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if s.doc.Settings.ChatTTLMinutes == 0 {
			s.doc.Settings = user.DefaultSettings(time.Now().UTC())
		}
	}
	return s, nil
}

// flush writes the document atomically. Callers hold the write lock.
func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) sessionIndex(id string) int {
	for i := range s.doc.Chats {
		if s.doc.Chats[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) userIndex(id string) int {
	for i := range s.doc.Users {
		if s.doc.Users[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) CreateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Chats = append(s.doc.Chats, session)
	return s.flush()
}

func (s *Store) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.sessionIndex(id)
	if i < 0 {
		return chat.Session{}, storage.ErrNotFound
	}
	return cloneSession(s.doc.Chats[i]), nil
}

func (s *Store) ListSessions(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Session, 0, len(s.doc.Chats))
	for i := range s.doc.Chats {
		out = append(out, cloneSession(s.doc.Chats[i]))
	}
	return out, nil
}

func (s *Store) UpdateSession(_ context.Context, id string, upd storage.SessionUpdate) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.sessionIndex(id)
	if i < 0 {
		return chat.Session{}, storage.ErrNotFound
	}
	if upd.Client != nil {
		s.doc.Chats[i].Client = s.doc.Chats[i].Client.Merge(*upd.Client)
	}
	if upd.Status != nil {
		s.doc.Chats[i].Status = *upd.Status
	}
	s.doc.Chats[i].UpdatedAt = time.Now().UTC()
	if err := s.flush(); err != nil {
		return chat.Session{}, err
	}
	return cloneSession(s.doc.Chats[i]), nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.sessionIndex(id)
	if i < 0 {
		return storage.ErrNotFound
	}
	s.doc.Chats = append(s.doc.Chats[:i], s.doc.Chats[i+1:]...)
	return s.flush()
}

func (s *Store) AppendMessage(_ context.Context, sessionID string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.sessionIndex(sessionID)
	if i < 0 {
		return storage.ErrNotFound
	}
	s.doc.Chats[i].Messages = append(s.doc.Chats[i].Messages, msg)
	s.doc.Chats[i].UpdatedAt = time.Now().UTC()
	return s.flush()
}

func (s *Store) GetMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.sessionIndex(sessionID)
	if i < 0 {
		return nil, storage.ErrNotFound
	}
	msgs := make([]chat.Message, len(s.doc.Chats[i].Messages))
	copy(msgs, s.doc.Chats[i].Messages)
	return msgs, nil
}

func (s *Store) CreateUser(_ context.Context, u user.WithPassword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Users {
		if strings.EqualFold(s.doc.Users[i].Email, u.Email) {
			return storage.ErrEmailTaken
		}
	}
	s.doc.Users = append(s.doc.Users, u)
	return s.flush()
}

func (s *Store) GetUser(_ context.Context, id string) (user.WithPassword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.userIndex(id)
	if i < 0 {
		return user.WithPassword{}, storage.ErrNotFound
	}
	return s.doc.Users[i], nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.WithPassword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.doc.Users {
		if strings.EqualFold(s.doc.Users[i].Email, email) {
			return s.doc.Users[i], nil
		}
	}
	return user.WithPassword{}, storage.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]user.WithPassword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]user.WithPassword, len(s.doc.Users))
	copy(out, s.doc.Users)
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, id string, upd storage.UserUpdate) (user.WithPassword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.userIndex(id)
	if i < 0 {
		return user.WithPassword{}, storage.ErrNotFound
	}
	u := &s.doc.Users[i]
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
	u.UpdatedAt = time.Now().UTC()
	if err := s.flush(); err != nil {
		return user.WithPassword{}, err
	}
	return *u, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.userIndex(id)
	if i < 0 {
		return storage.ErrNotFound
	}
	s.doc.Users = append(s.doc.Users[:i], s.doc.Users[i+1:]...)
	return s.flush()
}

func (s *Store) GetSettings(_ context.Context) (user.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, upd storage.SettingsUpdate) (user.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upd.ChatTTLMinutes != nil {
		s.doc.Settings.ChatTTLMinutes = *upd.ChatTTLMinutes
	}
	if upd.WarnBeforeMinutes != nil {
		s.doc.Settings.WarnBeforeMinutes = *upd.WarnBeforeMinutes
	}
	s.doc.Settings.UpdatedAt = time.Now().UTC()
	if err := s.flush(); err != nil {
		return user.Settings{}, err
	}
	return s.doc.Settings, nil
}

func (s *Store) Close() error { return nil }

func cloneSession(session chat.Session) chat.Session {
	msgs := make([]chat.Message, len(session.Messages))
	copy(msgs, session.Messages)
	session.Messages = msgs
	return session
}

var _ storage.Store = (*Store)(nil)
