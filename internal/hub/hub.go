// Package hub tracks which live connections belong to which session
// room and fans events out to them. It owns no message history; joins
// always re-fetch history through the session service.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/atendolive/atendo/backend/internal/metrics"
	model "github.com/atendolive/atendo/backend/internal/model/chat"
	chatservice "github.com/atendolive/atendo/backend/internal/service/chat"
)

// Hub is safe for concurrent use. Broadcast delivery is best-effort:
// a member that cannot take the event right now is skipped and the
// drop is counted, no error reaches the caller.
type Hub struct {
	chats *chatservice.Service
	log   *logrus.Entry

	mu    sync.RWMutex
	rooms map[string]map[string]Conn
	conns map[string]Conn

	// ordersMu guards orders; each entry serializes join-with-history
	// and append-with-broadcast for one session, which is what makes
	// history-then-live delivery gapless and duplicate-free.
	ordersMu sync.Mutex
	orders   map[string]*sync.Mutex
}

// New builds a hub over the given session service.
func New(chats *chatservice.Service, log *logrus.Logger) *Hub {
	return &Hub{
		chats:  chats,
		log:    log.WithField("component", "hub"),
		rooms:  make(map[string]map[string]Conn),
		conns:  make(map[string]Conn),
		orders: make(map[string]*sync.Mutex),
	}
}

// order returns the per-session ordering mutex, creating it lazily.
func (h *Hub) order(sessionID string) *sync.Mutex {
	h.ordersMu.Lock()
	defer h.ordersMu.Unlock()
	mu, ok := h.orders[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		h.orders[sessionID] = mu
	}
	return mu
}

// Register makes a connection known to the hub. It belongs to no room
// until it joins one.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID()]; ok {
		return
	}
	h.conns[conn.ID()] = conn
	metrics.Connections.Inc()
	h.log.WithField("conn", conn.ID()).Debug("connection registered")
}

// Unregister removes the connection from every room and forgets it.
// It is the required cleanup path for both orderly and abnormal
// disconnects, and is safe to call more than once.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	h.leaveAllLocked(connID)
	delete(h.conns, connID)
	metrics.Connections.Dec()
	h.log.WithField("conn", connID).Debug("connection unregistered")
}

// Join adds the connection to a room. Idempotent.
func (h *Hub) Join(conn Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(conn, room)
}

func (h *Hub) joinLocked(conn Conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		h.rooms[room] = members
	}
	members[conn.ID()] = conn
}

// Leave removes the connection from one room.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, room)
}

func (h *Hub) leaveLocked(connID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// LeaveAll removes the connection from every room it joined.
func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveAllLocked(connID)
}

func (h *Hub) leaveAllLocked(connID string) {
	for room := range h.rooms {
		h.leaveLocked(connID, room)
	}
}

// Broadcast sends the event to every current member of the room.
// Fire-and-forget: members that went away or cannot take the event
// are skipped and counted in the dropped-sends metric.
func (h *Hub) Broadcast(room, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.rooms[room] {
		h.deliver(conn, event, payload)
	}
}

func (h *Hub) deliver(conn Conn, event string, payload interface{}) {
	if err := conn.Send(event, payload); err != nil {
		metrics.SendsDropped.WithLabelValues(event).Inc()
		h.log.WithFields(logrus.Fields{
			"conn":  conn.ID(),
			"event": event,
		}).Warn("dropped send")
		return
	}
	metrics.EventsDelivered.WithLabelValues(event).Inc()
}

// JoinSession puts the connection into the session's room after
// delivering the full history to it alone. While the per-session
// ordering lock is held no live message can be appended or fanned
// out, so the joiner sees history first and every later message
// exactly once.
func (h *Hub) JoinSession(ctx context.Context, conn Conn, sessionID string) error {
	mu := h.order(sessionID)
	mu.Lock()
	defer mu.Unlock()

	msgs, err := h.chats.GetMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliver(conn, EventChatHistory, msgs)
	h.joinLocked(conn, sessionID)
	return nil
}

// JoinObservers adds the connection to the observers room and hands it
// the current session list.
func (h *Hub) JoinObservers(ctx context.Context, conn Conn) error {
	sessions, err := h.chats.ListSessions(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(conn, RoomObservers)
	h.deliver(conn, EventAllChats, sessions)
	return nil
}

// SendMessage persists the message, then fans it out to the session
// room and tells observers the session changed. Sends for one session
// are serialized; different sessions interleave freely.
func (h *Hub) SendMessage(ctx context.Context, sessionID, content string, sender model.Sender) (model.Message, error) {
	mu := h.order(sessionID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := h.chats.AppendMessage(ctx, sessionID, content, sender)
	if err != nil {
		return model.Message{}, err
	}

	h.Broadcast(sessionID, EventNewMessage, msg)
	h.Broadcast(RoomObservers, EventChatUpdate, ChatUpdatePayload{
		SessionID: sessionID,
		Message:   msg,
	})
	return msg, nil
}

// UpdateClient persists new client metadata and notifies observers.
func (h *Hub) UpdateClient(ctx context.Context, sessionID string, client model.Client) (model.Session, error) {
	session, err := h.chats.UpdateClientInfo(ctx, sessionID, client)
	if err != nil {
		return model.Session{}, err
	}
	h.Broadcast(RoomObservers, EventClientUpdated, session)
	return session, nil
}

// CloseSession closes the session and, only when this call actually
// performed the active->closed transition, broadcasts the closure to
// the session room and observers. Re-closing stays silent.
func (h *Hub) CloseSession(ctx context.Context, sessionID string) (model.Session, error) {
	session, transitioned, err := h.chats.CloseSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if transitioned {
		h.Broadcast(sessionID, EventChatClosed, session)
		h.Broadcast(RoomObservers, EventChatClosed, session)
	}
	return session, nil
}

// EmitClosingWarning notifies the session room and observers that the
// session is about to expire.
func (h *Hub) EmitClosingWarning(sessionID string, minutesRemaining int) {
	h.Broadcast(sessionID, EventChatClosingWarning, ClosingWarningPayload{
		SessionID:        sessionID,
		MinutesRemaining: minutesRemaining,
		Message: fmt.Sprintf("This chat will close automatically in %d minute(s) due to inactivity.",
			minutesRemaining),
	})
	h.Broadcast(RoomObservers, EventChatClosingWarning, ClosingWarningPayload{
		SessionID:        sessionID,
		MinutesRemaining: minutesRemaining,
		Message: fmt.Sprintf("Chat %s will close in %d minute(s) due to inactivity.",
			sessionID, minutesRemaining),
	})
}

// GetSession answers the synchronous get-session request.
func (h *Hub) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	return h.chats.GetSession(ctx, sessionID)
}

// ListSessions answers the synchronous list-sessions request.
func (h *Hub) ListSessions(ctx context.Context) ([]model.Session, error) {
	return h.chats.ListSessions(ctx)
}
