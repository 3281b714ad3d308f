// Package postgres backs the storage contract with PostgreSQL through
// gorm. Appends and partial updates run inside transactions that take
// a FOR UPDATE lock on the session row, so concurrent writers are
// serialized per session instead of racing a read-then-write.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/atendolive/atendo/backend/internal/model/chat"
	"github.com/atendolive/atendo/backend/internal/model/user"
	"github.com/atendolive/atendo/backend/internal/storage"
)

type sessionRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	ClientName      string
	ClientBirthDate string
	ClientLocation  string
	Status          string `gorm:"size:16;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (sessionRecord) TableName() string { return "chats" }

type messageRecord struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"uniqueIndex;size:64"`
	SessionID string `gorm:"size:64;index"`
	Content   string
	Sender    string `gorm:"size:16"`
	Timestamp time.Time
}

func (messageRecord) TableName() string { return "messages" }

type userRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Email     string `gorm:"uniqueIndex;size:255"`
	Name      string
	Password  string
	Role      string `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userRecord) TableName() string { return "users" }

type settingsRecord struct {
	ID                int `gorm:"primaryKey"`
	ChatTTLMinutes    int
	WarnBeforeMinutes int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (settingsRecord) TableName() string { return "settings" }

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *gorm.DB
}

// Open connects, migrates the schema and seeds default settings.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&sessionRecord{}, &messageRecord{}, &userRecord{}, &settingsRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	defaults := user.DefaultSettings(time.Now().UTC())
	seed := settingsRecord{
		ID:                1,
		ChatTTLMinutes:    defaults.ChatTTLMinutes,
		WarnBeforeMinutes: defaults.WarnBeforeMinutes,
		CreatedAt:         defaults.CreatedAt,
		UpdatedAt:         defaults.UpdatedAt,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return &Store{db: db}, nil
}

func toSessionRecord(s chat.Session) sessionRecord {
	return sessionRecord{
		ID:              s.ID,
		ClientName:      s.Client.Name,
		ClientBirthDate: s.Client.BirthDate,
		ClientLocation:  s.Client.Location,
		Status:          string(s.Status),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (r sessionRecord) toSession(msgs []chat.Message) chat.Session {
	return chat.Session{
		ID: r.ID,
		Client: chat.Client{
			Name:      r.ClientName,
			BirthDate: r.ClientBirthDate,
			Location:  r.ClientLocation,
		},
		Messages:  msgs,
		Status:    chat.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r messageRecord) toMessage() chat.Message {
	return chat.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Content:   r.Content,
		Sender:    chat.Sender(r.Sender),
		Timestamp: r.Timestamp,
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) CreateSession(ctx context.Context, session chat.Session) error {
	rec := toSessionRecord(session)
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *Store) GetSession(ctx context.Context, id string) (chat.Session, error) {
	var rec sessionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return chat.Session{}, notFound(err)
	}
	msgs, err := s.messagesFor(ctx, s.db, id)
	if err != nil {
		return chat.Session{}, err
	}
	return rec.toSession(msgs), nil
}

func (s *Store) ListSessions(ctx context.Context) ([]chat.Session, error) {
	var recs []sessionRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]chat.Session, 0, len(recs))
	for _, rec := range recs {
		msgs, err := s.messagesFor(ctx, s.db, rec.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.toSession(msgs))
	}
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, upd storage.SessionUpdate) (chat.Session, error) {
	var result chat.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec sessionRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err)
		}

		changes := map[string]interface{}{"updated_at": time.Now().UTC()}
		if upd.Client != nil {
			merged := chat.Client{
				Name:      rec.ClientName,
				BirthDate: rec.ClientBirthDate,
				Location:  rec.ClientLocation,
			}.Merge(*upd.Client)
			changes["client_name"] = merged.Name
			changes["client_birth_date"] = merged.BirthDate
			changes["client_location"] = merged.Location
		}
		if upd.Status != nil {
			changes["status"] = string(*upd.Status)
		}
		if err := tx.Model(&sessionRecord{}).Where("id = ?", id).Updates(changes).Error; err != nil {
			return err
		}
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		msgs, err := s.messagesFor(ctx, tx, id)
		if err != nil {
			return err
		}
		result = rec.toSession(msgs)
		return nil
	})
	if err != nil {
		return chat.Session{}, err
	}
	return result, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&sessionRecord{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return tx.Delete(&messageRecord{}, "session_id = ?", id).Error
	})
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec sessionRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&rec, "id = ?", sessionID).Error; err != nil {
			return notFound(err)
		}
		row := messageRecord{
			ID:        msg.ID,
			SessionID: sessionID,
			Content:   msg.Content,
			Sender:    string(msg.Sender),
			Timestamp: msg.Timestamp,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&sessionRecord{}).Where("id = ?", sessionID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&sessionRecord{}).
		Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, storage.ErrNotFound
	}
	return s.messagesFor(ctx, s.db, sessionID)
}

func (s *Store) messagesFor(ctx context.Context, tx *gorm.DB, sessionID string) ([]chat.Message, error) {
	var rows []messageRecord
	if err := tx.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	return msgs, nil
}

func toUserRecord(u user.WithPassword) userRecord {
	return userRecord{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Password:  u.Password,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (r userRecord) toUser() user.WithPassword {
	return user.WithPassword{
		User: user.User{
			ID:        r.ID,
			Email:     r.Email,
			Name:      r.Name,
			Role:      user.Role(r.Role),
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		Password: r.Password,
	}
}

func (s *Store) CreateUser(ctx context.Context, u user.WithPassword) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&userRecord{}).
		Where("lower(email) = lower(?)", u.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return storage.ErrEmailTaken
	}
	rec := toUserRecord(u)
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *Store) GetUser(ctx context.Context, id string) (user.WithPassword, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return user.WithPassword{}, notFound(err)
	}
	return rec.toUser(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.WithPassword, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).
		First(&rec, "lower(email) = lower(?)", email).Error; err != nil {
		return user.WithPassword{}, notFound(err)
	}
	return rec.toUser(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.WithPassword, error) {
	var recs []userRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]user.WithPassword, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toUser())
	}
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd storage.UserUpdate) (user.WithPassword, error) {
	var result user.WithPassword
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec userRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		changes := map[string]interface{}{"updated_at": time.Now().UTC()}
		if upd.Email != nil {
			changes["email"] = *upd.Email
		}
		if upd.Name != nil {
			changes["name"] = *upd.Name
		}
		if upd.Password != nil {
			changes["password"] = *upd.Password
		}
		if upd.Role != nil {
			changes["role"] = string(*upd.Role)
		}
		if err := tx.Model(&userRecord{}).Where("id = ?", id).Updates(changes).Error; err != nil {
			return err
		}
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		result = rec.toUser()
		return nil
	})
	if err != nil {
		return user.WithPassword{}, err
	}
	return result, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&userRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context) (user.Settings, error) {
	var rec settingsRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = 1").Error; err != nil {
		return user.Settings{}, notFound(err)
	}
	return user.Settings{
		ChatTTLMinutes:    rec.ChatTTLMinutes,
		WarnBeforeMinutes: rec.WarnBeforeMinutes,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}, nil
}

func (s *Store) UpdateSettings(ctx context.Context, upd storage.SettingsUpdate) (user.Settings, error) {
	var result user.Settings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec settingsRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&rec, "id = 1").Error; err != nil {
			return notFound(err)
		}
		changes := map[string]interface{}{"updated_at": time.Now().UTC()}
		if upd.ChatTTLMinutes != nil {
			changes["chat_ttl_minutes"] = *upd.ChatTTLMinutes
		}
		if upd.WarnBeforeMinutes != nil {
			changes["warn_before_minutes"] = *upd.WarnBeforeMinutes
		}
		if err := tx.Model(&settingsRecord{}).Where("id = 1").Updates(changes).Error; err != nil {
			return err
		}
		if err := tx.First(&rec, "id = 1").Error; err != nil {
			return notFound(err)
		}
		result = user.Settings{
			ChatTTLMinutes:    rec.ChatTTLMinutes,
			WarnBeforeMinutes: rec.WarnBeforeMinutes,
			CreatedAt:         rec.CreatedAt,
			UpdatedAt:         rec.UpdatedAt,
		}
		return nil
	})
	if err != nil {
		return user.Settings{}, err
	}
	return result, nil
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

var _ storage.Store = (*Store)(nil)
