// Package redisstore backs the storage contract with Redis. Message
// history rides an RPUSH-only list, which makes appends atomic on the
// server, and partial updates go through WATCH-based compare-and-swap,
// so concurrent writers cannot lose each other's changes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/atendolive/atendo/backend/internal/model/chat"
	"github.com/atendolive/atendo/backend/internal/model/user"
	"github.com/atendolive/atendo/backend/internal/storage"
)

const (
	sessionKeyPattern  = "chat:%s"
	messagesKeyPattern = "chat:%s:messages"
	sessionSetKey      = "chats"
	userKeyPattern     = "user:%s"
	emailKeyPattern    = "useremail:%s"
	userSetKey         = "users"
	settingsKey        = "settings"

	casRetries = 5
)

// Config carries the connection parameters for Open.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store implements storage.Store on a single Redis instance.
type Store struct {
	client *redis.Client
}

// Open connects and verifies the instance is reachable.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client}, nil
}

func sessionKey(id string) string  { return fmt.Sprintf(sessionKeyPattern, id) }
func messagesKey(id string) string { return fmt.Sprintf(messagesKeyPattern, id) }
func userKey(id string) string     { return fmt.Sprintf(userKeyPattern, id) }
func emailKey(email string) string {
	return fmt.Sprintf(emailKeyPattern, strings.ToLower(email))
}

// sessionRecord is the stored shape; messages live in their own list.
type sessionRecord struct {
	ID        string      `json:"id"`
	Client    chat.Client `json:"client"`
	Status    chat.Status `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (s *Store) CreateSession(ctx context.Context, session chat.Session) error {
	rec := sessionRecord{
		ID:        session.ID,
		Client:    session.Client,
		Status:    session.Status,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), raw, 0)
		pipe.SAdd(ctx, sessionSetKey, session.ID)
		return nil
	})
	return err
}

func (s *Store) getRecord(ctx context.Context, id string) (sessionRecord, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return sessionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return sessionRecord{}, err
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return sessionRecord{}, err
	}
	return rec, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (chat.Session, error) {
	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return chat.Session{}, err
	}
	msgs, err := s.GetMessages(ctx, id)
	if err != nil {
		return chat.Session{}, err
	}
	return chat.Session{
		ID:        rec.ID,
		Client:    rec.Client,
		Messages:  msgs,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]chat.Session, error) {
	ids, err := s.client.SMembers(ctx, sessionSetKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]chat.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, upd storage.SessionUpdate) (chat.Session, error) {
	var updated sessionRecord

	apply := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, sessionKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec sessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return err
		}
		if upd.Client != nil {
			rec.Client = rec.Client.Merge(*upd.Client)
		}
		if upd.Status != nil {
			rec.Status = *upd.Status
		}
		rec.UpdatedAt = time.Now().UTC()

		next, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(id), next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = rec
		return nil
	}

	if err := s.watch(ctx, apply, sessionKey(id)); err != nil {
		return chat.Session{}, err
	}
	msgs, err := s.GetMessages(ctx, id)
	if err != nil {
		return chat.Session{}, err
	}
	return chat.Session{
		ID:        updated.ID,
		Client:    updated.Client,
		Messages:  msgs,
		Status:    updated.Status,
		CreatedAt: updated.CreatedAt,
		UpdatedAt: updated.UpdatedAt,
	}, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, sessionKey(id), messagesKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return s.client.SRem(ctx, sessionSetKey, id).Err()
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	apply := func(tx *redis.Tx) error {
		blob, err := tx.Get(ctx, sessionKey(sessionID)).Result()
		if errors.Is(err, redis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec sessionRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		next, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, messagesKey(sessionID), raw)
			pipe.Set(ctx, sessionKey(sessionID), next, 0)
			return nil
		})
		return err
	}
	return s.watch(ctx, apply, sessionKey(sessionID))
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if err := s.client.Get(ctx, sessionKey(sessionID)).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	raws, err := s.client.LRange(ctx, messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(raws))
	for _, raw := range raws {
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// watch retries the CAS transaction a few times before giving up.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < casRetries; i++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, u user.WithPassword) error {
	ok, err := s.client.SetNX(ctx, emailKey(u.Email), u.ID, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrEmailTaken
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(u.ID), raw, 0)
		pipe.SAdd(ctx, userSetKey, u.ID)
		return nil
	})
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (user.WithPassword, error) {
	raw, err := s.client.Get(ctx, userKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return user.WithPassword{}, storage.ErrNotFound
	}
	if err != nil {
		return user.WithPassword{}, err
	}
	var u user.WithPassword
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return user.WithPassword{}, err
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.WithPassword, error) {
	id, err := s.client.Get(ctx, emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return user.WithPassword{}, storage.ErrNotFound
	}
	if err != nil {
		return user.WithPassword{}, err
	}
	return s.GetUser(ctx, id)
}

func (s *Store) ListUsers(ctx context.Context) ([]user.WithPassword, error) {
	ids, err := s.client.SMembers(ctx, userSetKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]user.WithPassword, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd storage.UserUpdate) (user.WithPassword, error) {
	var updated user.WithPassword

	apply := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, userKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		var u user.WithPassword
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return err
		}
		oldEmail := u.Email
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

		next, err := json.Marshal(u)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey(id), next, 0)
			if !strings.EqualFold(oldEmail, u.Email) {
				pipe.Del(ctx, emailKey(oldEmail))
				pipe.Set(ctx, emailKey(u.Email), id, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = u
		return nil
	}

	if err := s.watch(ctx, apply, userKey(id)); err != nil {
		return user.WithPassword{}, err
	}
	return updated, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKey(id), emailKey(u.Email))
		pipe.SRem(ctx, userSetKey, id)
		return nil
	})
	return err
}

func (s *Store) GetSettings(ctx context.Context) (user.Settings, error) {
	raw, err := s.client.Get(ctx, settingsKey).Result()
	if errors.Is(err, redis.Nil) {
		settings := user.DefaultSettings(time.Now().UTC())
		blob, merr := json.Marshal(settings)
		if merr != nil {
			return user.Settings{}, merr
		}
		if err := s.client.SetNX(ctx, settingsKey, blob, 0).Err(); err != nil {
			return user.Settings{}, err
		}
		return settings, nil
	}
	if err != nil {
		return user.Settings{}, err
	}
	var settings user.Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return user.Settings{}, err
	}
	return settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, upd storage.SettingsUpdate) (user.Settings, error) {
	var updated user.Settings

	apply := func(tx *redis.Tx) error {
		settings, err := s.GetSettings(ctx)
		if err != nil {
			return err
		}
		if upd.ChatTTLMinutes != nil {
			settings.ChatTTLMinutes = *upd.ChatTTLMinutes
		}
		if upd.WarnBeforeMinutes != nil {
			settings.WarnBeforeMinutes = *upd.WarnBeforeMinutes
		}
		settings.UpdatedAt = time.Now().UTC()

		raw, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, settingsKey, raw, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = settings
		return nil
	}

	if err := s.watch(ctx, apply, settingsKey); err != nil {
		return user.Settings{}, err
	}
	return updated, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ storage.Store = (*Store)(nil)
