// Package monitor sweeps active sessions on a fixed interval, warns
// the ones about to expire and force-closes the ones past their idle
// budget. One monitor instance runs per process; its warned-set is
// plain memory and is forgotten on restart, which at a TTL measured
// in minutes only risks a repeated warning.
package monitor

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atendolive/atendo/backend/internal/metrics"
	model "github.com/atendolive/atendo/backend/internal/model/chat"
	chatservice "github.com/atendolive/atendo/backend/internal/service/chat"
	settingsservice "github.com/atendolive/atendo/backend/internal/service/settings"
)

// Notifier is the slice of the hub the monitor needs: a warning
// broadcast and the closure path that fans out chatClosed.
type Notifier interface {
	EmitClosingWarning(sessionID string, minutesRemaining int)
	CloseSession(ctx context.Context, sessionID string) (model.Session, error)
}

// Monitor owns the warned-set and the sweep loop.
type Monitor struct {
	chats    *chatservice.Service
	settings *settingsservice.Service
	notifier Notifier
	interval time.Duration
	log      *logrus.Entry

	// now is swapped out by tests.
	now func() time.Time

	// warned holds ids already given their one pre-expiry warning for
	// the current idle period. Only the sweep goroutine touches it.
	warned map[string]struct{}
}

// New builds a monitor; call Run to start sweeping.
func New(chats *chatservice.Service, settings *settingsservice.Service, notifier Notifier, interval time.Duration, log *logrus.Logger) *Monitor {
	return &Monitor{
		chats:    chats,
		settings: settings,
		notifier: notifier,
		interval: interval,
		log:      log.WithField("component", "monitor"),
		now:      time.Now,
		warned:   make(map[string]struct{}),
	}
}

// Run sweeps until the context is cancelled. Sweeps execute on the
// ticker goroutine one at a time; a slow sweep makes the ticker drop
// ticks rather than queue them, so there is no backlog.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.WithField("interval", m.interval).Info("idle-expiry monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info("idle-expiry monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evaluates every session once. Failures are logged and never
// escape: a broken store read ends the sweep early, a failure on one
// session does not stop the others, and the next tick retries it all.
func (m *Monitor) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("sweep panicked")
		}
	}()

	settings, err := m.settings.Get(ctx)
	if err != nil {
		m.log.WithError(err).Error("sweep: reading settings failed")
		return
	}
	sessions, err := m.chats.ListSessions(ctx)
	if err != nil {
		m.log.WithError(err).Error("sweep: listing sessions failed")
		return
	}

	ttl := time.Duration(settings.ChatTTLMinutes) * time.Minute
	warnBefore := time.Duration(settings.WarnBeforeMinutes) * time.Minute

	for _, session := range sessions {
		if err := m.evaluate(ctx, session, ttl, warnBefore); err != nil {
			metrics.MonitorTickErrors.Inc()
			m.log.WithError(err).WithField("session", session.ID).
				Error("sweep: session evaluation failed")
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, session model.Session, ttl, warnBefore time.Duration) error {
	if !session.Active() {
		delete(m.warned, session.ID)
		return nil
	}

	idle := m.now().Sub(session.UpdatedAt)
	remaining := ttl - idle

	switch {
	case idle >= ttl:
		if _, err := m.notifier.CloseSession(ctx, session.ID); err != nil {
			return err
		}
		delete(m.warned, session.ID)
		metrics.SessionsAutoClosed.Inc()
		m.log.WithFields(logrus.Fields{
			"session": session.ID,
			"idle":    idle.Round(time.Second),
		}).Info("session closed after idle timeout")

	case remaining <= warnBefore:
		if _, ok := m.warned[session.ID]; ok {
			return nil
		}
		m.warned[session.ID] = struct{}{}
		minutes := int(math.Ceil(remaining.Minutes()))
		m.notifier.EmitClosingWarning(session.ID, minutes)
		metrics.ExpiryWarnings.Inc()
		m.log.WithFields(logrus.Fields{
			"session":   session.ID,
			"remaining": minutes,
		}).Info("expiry warning sent")

	default:
		// Fresh activity pushed the session out of the warning window;
		// forget the old warning so the next idle period gets its own.
		delete(m.warned, session.ID)
	}
	return nil
}
