// Package settings reads and updates the runtime configuration record
// the idle-expiry monitor consumes. Values live in the store, so
// updates take effect on the next sweep without a restart.
package settings

import (
	"context"
	"fmt"

	"github.com/atendolive/atendo/backend/internal/model/user"
	"github.com/atendolive/atendo/backend/internal/storage"
)

type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

func (s *Service) Get(ctx context.Context) (user.Settings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return user.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (s *Service) Update(ctx context.Context, upd storage.SettingsUpdate) (user.Settings, error) {
	if upd.ChatTTLMinutes != nil && *upd.ChatTTLMinutes <= 0 {
		return user.Settings{}, fmt.Errorf("chatTTL must be positive, got %d", *upd.ChatTTLMinutes)
	}
	if upd.WarnBeforeMinutes != nil && *upd.WarnBeforeMinutes < 0 {
		return user.Settings{}, fmt.Errorf("warnBefore must not be negative, got %d", *upd.WarnBeforeMinutes)
	}
	settings, err := s.store.UpdateSettings(ctx, upd)
	if err != nil {
		return user.Settings{}, fmt.Errorf("update settings: %w", err)
	}
	return settings, nil
}
