package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/atendolive/atendo/backend/internal/handler"
	"github.com/atendolive/atendo/backend/internal/hub"
	model "github.com/atendolive/atendo/backend/internal/model/chat"
	authservice "github.com/atendolive/atendo/backend/internal/service/auth"
	chatservice "github.com/atendolive/atendo/backend/internal/service/chat"
	settingsservice "github.com/atendolive/atendo/backend/internal/service/settings"
	usersservice "github.com/atendolive/atendo/backend/internal/service/users"
	"github.com/atendolive/atendo/backend/internal/storage/memory"
)

type serverEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *chatservice.Service) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	store := memory.New()
	chats := chatservice.NewService(store)

	router := handler.NewRouter(handler.Services{
		Chats:    chats,
		Auth:     authservice.NewService(store),
		Users:    usersservice.NewService(store),
		Settings: settingsservice.NewService(store),
		Hub:      hub.New(chats, log),
	}, log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, chats
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	if err := conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func expectEvent(t *testing.T, conn *websocket.Conn, want string) serverEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev serverEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("waiting for %q: %v", want, err)
	}
	if ev.Event != want {
		t.Fatalf("event = %q, want %q (data: %s)", ev.Event, want, ev.Data)
	}
	return ev
}

func decodeInto(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

// TestSupportConversationEndToEnd walks the whole flow: a visitor opens
// a chat and writes, a consultant comes online, picks the chat up and
// answers, and the visitor receives the answer live.
func TestSupportConversationEndToEnd(t *testing.T) {
	srv, chats := newTestServer(t)
	ctx := context.Background()

	session, err := chats.CreateSession(ctx, model.Client{Name: "Ana"})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	client := dial(t, srv)
	send(t, client, "joinChat", session.ID)

	ev := expectEvent(t, client, "chatHistory")
	var history []model.Message
	decodeInto(t, ev.Data, &history)
	if len(history) != 0 {
		t.Fatalf("fresh chat history = %+v", history)
	}

	send(t, client, "sendMessage", map[string]string{
		"chatId":  session.ID,
		"content": "hello",
		"sender":  "client",
	})

	// Room fan-out reaches the sender too, then the ack follows.
	ev = expectEvent(t, client, "newMessage")
	var msg model.Message
	decodeInto(t, ev.Data, &msg)
	if msg.Content != "hello" || msg.Sender != model.SenderClient || msg.SessionID != session.ID {
		t.Fatalf("broadcast message = %+v", msg)
	}
	expectEvent(t, client, "messageSent")

	consultant := dial(t, srv)
	send(t, consultant, "joinConsultants", nil)

	ev = expectEvent(t, consultant, "allChats")
	var sessions []model.Session
	decodeInto(t, ev.Data, &sessions)
	if len(sessions) != 1 || sessions[0].ID != session.ID {
		t.Fatalf("allChats = %+v", sessions)
	}

	send(t, consultant, "joinChat", map[string]string{"chatId": session.ID})
	ev = expectEvent(t, consultant, "chatHistory")
	decodeInto(t, ev.Data, &history)
	if len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("consultant history = %+v", history)
	}

	send(t, consultant, "sendMessage", map[string]string{
		"chatId":  session.ID,
		"content": "hi, how can I help?",
		"sender":  "consultant",
	})

	// The consultant sits in both rooms: room fan-out, observer update,
	// then the ack, all from the same dispatch.
	expectEvent(t, consultant, "newMessage")
	expectEvent(t, consultant, "chatUpdate")
	expectEvent(t, consultant, "messageSent")

	ev = expectEvent(t, client, "newMessage")
	decodeInto(t, ev.Data, &msg)
	if msg.Content != "hi, how can I help?" || msg.Sender != model.SenderConsultant {
		t.Fatalf("client received %+v", msg)
	}
}

func TestCloseChatOverWebsocket(t *testing.T) {
	srv, chats := newTestServer(t)
	ctx := context.Background()

	session, err := chats.CreateSession(ctx, model.Client{})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	client := dial(t, srv)
	send(t, client, "joinChat", session.ID)
	expectEvent(t, client, "chatHistory")

	send(t, client, "closeChat", session.ID)

	// Once from the room broadcast, once as the direct reply.
	ev := expectEvent(t, client, "chatClosed")
	var closed model.Session
	decodeInto(t, ev.Data, &closed)
	if closed.Status != model.StatusClosed {
		t.Fatalf("broadcast session status = %s", closed.Status)
	}
	expectEvent(t, client, "chatClosed")

	send(t, client, "sendMessage", map[string]string{
		"chatId":  session.ID,
		"content": "too late",
		"sender":  "client",
	})
	ev = expectEvent(t, client, "error")
	var perr struct {
		Message string `json:"message"`
	}
	decodeInto(t, ev.Data, &perr)
	if perr.Message != "chat is closed" {
		t.Fatalf("error message = %q", perr.Message)
	}
}

func TestUnknownChatAndUnknownEvent(t *testing.T) {
	srv, _ := newTestServer(t)

	conn := dial(t, srv)
	send(t, conn, "joinChat", "missing")
	ev := expectEvent(t, conn, "error")
	var perr struct {
		Message string `json:"message"`
	}
	decodeInto(t, ev.Data, &perr)
	if perr.Message != "chat not found" {
		t.Fatalf("error message = %q", perr.Message)
	}

	send(t, conn, "teleport", nil)
	ev = expectEvent(t, conn, "error")
	decodeInto(t, ev.Data, &perr)
	if !strings.HasPrefix(perr.Message, "bad request:") {
		t.Fatalf("error message = %q", perr.Message)
	}
}

func TestGetChatReturnsSnapshot(t *testing.T) {
	srv, chats := newTestServer(t)
	ctx := context.Background()

	session, err := chats.CreateSession(ctx, model.Client{Name: "Rui"})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if _, err := chats.AppendMessage(ctx, session.ID, "hello", model.SenderClient); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}

	conn := dial(t, srv)
	send(t, conn, "getChat", session.ID)

	ev := expectEvent(t, conn, "chat")
	var got model.Session
	decodeInto(t, ev.Data, &got)
	if got.ID != session.ID || got.Client.Name != "Rui" || len(got.Messages) != 1 {
		t.Fatalf("chat snapshot = %+v", got)
	}
}
