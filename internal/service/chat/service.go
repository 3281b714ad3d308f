// Package chat owns the session lifecycle: creation, message appends,
// client metadata updates and the one-way active->closed transition.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/atendolive/atendo/backend/internal/model/chat"
	"github.com/atendolive/atendo/backend/internal/storage"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is closed")
	ErrInvalidSender   = errors.New("invalid sender")
	ErrEmptyContent    = errors.New("message content is empty")
)

// Service implements the session operations on top of a Store.
type Service struct {
	store storage.Store

	// closeMu serializes CloseSession so the active->closed transition
	// is observed exactly once even when the monitor and a consultant
	// close the same session concurrently. Single-instance assumption:
	// one Service per process, one process per deployment.
	closeMu sync.Mutex
}

// NewService wraps the given store.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// CreateSession provisions a fresh active session. Ids are generated
// here, so creation cannot collide and always succeeds barring I/O.
func (s *Service) CreateSession(ctx context.Context, client model.Client) (model.Session, error) {
	now := time.Now().UTC()
	session := model.Session{
		ID:        uuid.NewString(),
		Client:    client,
		Messages:  []model.Message{},
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (model.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns a snapshot of all sessions. Ordering is
// whatever the backend yields.
func (s *Service) ListSessions(ctx context.Context) ([]model.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateClientInfo merges the provided client fields into the session
// record and bumps UpdatedAt.
func (s *Service) UpdateClientInfo(ctx context.Context, id string, client model.Client) (model.Session, error) {
	session, err := s.store.UpdateSession(ctx, id, storage.SessionUpdate{Client: &client})
	if errors.Is(err, storage.ErrNotFound) {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("update client: %w", err)
	}
	return session, nil
}

// AppendMessage stores a new message on an active session. Messages to
// closed or unknown sessions are rejected, never silently dropped.
func (s *Service) AppendMessage(ctx context.Context, sessionID, content string, sender model.Sender) (model.Message, error) {
	if !sender.Valid() {
		return model.Message{}, ErrInvalidSender
	}
	if content == "" {
		return model.Message{}, ErrEmptyContent
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return model.Message{}, err
	}
	if !session.Active() {
		return model.Message{}, ErrSessionClosed
	}

	msg := model.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, sessionID, msg); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Message{}, ErrSessionNotFound
		}
		return model.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// GetMessages returns the ordered history for a session.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	msgs, err := s.store.GetMessages(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return msgs, nil
}

// DeleteSession removes the session record and its history.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	err := s.store.DeleteSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CloseSession transitions the session to closed. The returned bool
// reports whether the transition happened on this call; closing an
// already-closed session still bumps UpdatedAt but reports false so
// callers do not re-broadcast the closure.
func (s *Service) CloseSession(ctx context.Context, id string) (model.Session, bool, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	current, err := s.GetSession(ctx, id)
	if err != nil {
		return model.Session{}, false, err
	}
	transitioned := current.Active()

	status := model.StatusClosed
	session, err := s.store.UpdateSession(ctx, id, storage.SessionUpdate{Status: &status})
	if errors.Is(err, storage.ErrNotFound) {
		return model.Session{}, false, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("close session: %w", err)
	}
	return session, transitioned, nil
}
