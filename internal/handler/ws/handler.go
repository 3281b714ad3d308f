// Package ws is the realtime endpoint. One long-lived websocket per
// party; inbound frames are JSON envelopes {event, data} dispatched to
// the hub, outbound frames mirror the same shape.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/atendolive/atendo/backend/internal/hub"
	model "github.com/atendolive/atendo/backend/internal/model/chat"
	chatservice "github.com/atendolive/atendo/backend/internal/service/chat"
)

// Client-to-server event names.
const (
	eventJoinChat        = "joinChat"
	eventSendMessage     = "sendMessage"
	eventUpdateClient    = "updateClient"
	eventJoinConsultants = "joinConsultants"
	eventGetChat         = "getChat"
	eventGetAllChats     = "getAllChats"
	eventCloseChat       = "closeChat"

	eventChat  = "chat"
	eventError = "error"
)

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type Handler struct {
	hub      *hub.Hub
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func New(h *hub.Hub, log *logrus.Logger) *Handler {
	return &Handler{
		hub: h,
		log: log.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade failed")
		return
	}

	conn := newConn(socket)
	h.hub.Register(conn)
	go conn.writeLoop()

	// Cleanup runs for orderly closes and abnormal drops alike.
	defer func() {
		h.hub.Unregister(conn.ID())
		conn.close()
		_ = socket.Close()
	}()

	h.log.WithField("conn", conn.ID()).Debug("connection opened")

	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundEnvelope
		if err := socket.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.WithField("conn", conn.ID()).WithError(err).Warn("read error")
			}
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(pongWait))

		h.dispatch(r.Context(), conn, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *wsConn, msg inboundEnvelope) {
	switch msg.Event {
	case eventJoinChat:
		h.handleJoinChat(ctx, conn, msg.Data)
	case eventSendMessage:
		h.handleSendMessage(ctx, conn, msg.Data)
	case eventUpdateClient:
		h.handleUpdateClient(ctx, conn, msg.Data)
	case eventJoinConsultants:
		if err := h.hub.JoinObservers(ctx, conn); err != nil {
			h.replyError(conn, err)
		}
	case eventGetChat:
		h.handleGetChat(ctx, conn, msg.Data)
	case eventGetAllChats:
		sessions, err := h.hub.ListSessions(ctx)
		if err != nil {
			h.replyError(conn, err)
			return
		}
		h.reply(conn, hub.EventAllChats, sessions)
	case eventCloseChat:
		h.handleCloseChat(ctx, conn, msg.Data)
	default:
		h.replyBadRequest(conn, fmt.Sprintf("unsupported event: %q", msg.Event))
	}
}

func (h *Handler) handleJoinChat(ctx context.Context, conn *wsConn, raw json.RawMessage) {
	sessionID, err := decodeSessionID(raw)
	if err != nil {
		h.replyBadRequest(conn, err.Error())
		return
	}
	if err := h.hub.JoinSession(ctx, conn, sessionID); err != nil {
		h.replyError(conn, err)
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, conn *wsConn, raw json.RawMessage) {
	var payload struct {
		SessionID string       `json:"chatId"`
		Content   string       `json:"content"`
		Sender    model.Sender `json:"sender"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.replyBadRequest(conn, "malformed sendMessage payload")
		return
	}
	if payload.SessionID == "" {
		h.replyBadRequest(conn, "chatId is required")
		return
	}
	if !payload.Sender.Valid() {
		h.replyBadRequest(conn, fmt.Sprintf("unknown sender %q", payload.Sender))
		return
	}

	msg, err := h.hub.SendMessage(ctx, payload.SessionID, payload.Content, payload.Sender)
	if err != nil {
		h.replyError(conn, err)
		return
	}
	h.reply(conn, hub.EventMessageSent, msg)
}

func (h *Handler) handleUpdateClient(ctx context.Context, conn *wsConn, raw json.RawMessage) {
	var payload struct {
		SessionID string       `json:"chatId"`
		Client    model.Client `json:"client"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.replyBadRequest(conn, "malformed updateClient payload")
		return
	}
	if payload.SessionID == "" {
		h.replyBadRequest(conn, "chatId is required")
		return
	}

	session, err := h.hub.UpdateClient(ctx, payload.SessionID, payload.Client)
	if err != nil {
		h.replyError(conn, err)
		return
	}
	h.reply(conn, hub.EventClientUpdated, session)
}

func (h *Handler) handleGetChat(ctx context.Context, conn *wsConn, raw json.RawMessage) {
	sessionID, err := decodeSessionID(raw)
	if err != nil {
		h.replyBadRequest(conn, err.Error())
		return
	}
	session, err := h.hub.GetSession(ctx, sessionID)
	if err != nil {
		h.replyError(conn, err)
		return
	}
	h.reply(conn, eventChat, session)
}

func (h *Handler) handleCloseChat(ctx context.Context, conn *wsConn, raw json.RawMessage) {
	sessionID, err := decodeSessionID(raw)
	if err != nil {
		h.replyBadRequest(conn, err.Error())
		return
	}
	session, err := h.hub.CloseSession(ctx, sessionID)
	if err != nil {
		h.replyError(conn, err)
		return
	}
	h.reply(conn, hub.EventChatClosed, session)
}

// decodeSessionID accepts both a bare JSON string and {"chatId": ...},
// the two shapes frontends have historically sent.
func decodeSessionID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, nil
	}
	var payload struct {
		SessionID string `json:"chatId"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.SessionID != "" {
		return payload.SessionID, nil
	}
	return "", errors.New("chatId is required")
}

func (h *Handler) reply(conn *wsConn, event string, payload interface{}) {
	if err := conn.Send(event, payload); err != nil {
		h.log.WithFields(logrus.Fields{
			"conn":  conn.ID(),
			"event": event,
		}).Warn("reply dropped")
	}
}

func (h *Handler) replyBadRequest(conn *wsConn, message string) {
	h.reply(conn, eventError, errorPayload{Message: "bad request: " + message})
}

func (h *Handler) replyError(conn *wsConn, err error) {
	switch {
	case errors.Is(err, chatservice.ErrSessionNotFound):
		h.reply(conn, eventError, errorPayload{Message: "chat not found"})
	case errors.Is(err, chatservice.ErrSessionClosed):
		h.reply(conn, eventError, errorPayload{Message: "chat is closed"})
	case errors.Is(err, chatservice.ErrInvalidSender), errors.Is(err, chatservice.ErrEmptyContent):
		h.reply(conn, eventError, errorPayload{Message: "bad request: " + err.Error()})
	default:
		h.log.WithError(err).Error("websocket operation failed")
		h.reply(conn, eventError, errorPayload{Message: "internal error"})
	}
}
