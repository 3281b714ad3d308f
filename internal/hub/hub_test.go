package hub_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atendolive/atendo/backend/internal/hub"
	model "github.com/atendolive/atendo/backend/internal/model/chat"
	chatservice "github.com/atendolive/atendo/backend/internal/service/chat"
	"github.com/atendolive/atendo/backend/internal/storage/memory"
)

type capturedEvent struct {
	Event   string
	Payload interface{}
}

type fakeConn struct {
	id   string
	fail bool

	mu     sync.Mutex
	events []capturedEvent
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload interface{}) error {
	if c.fail {
		return hub.ErrSendBlocked
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) captured() []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]capturedEvent, len(c.events))
	copy(out, c.events)
	return out
}

func newHub() (*hub.Hub, *chatservice.Service) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	svc := chatservice.NewService(memory.New())
	return hub.New(svc, log), svc
}

func eventNames(events []capturedEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Event
	}
	return names
}

func TestBroadcastReachesOnlyRoomMembers(t *testing.T) {
	h, _ := newHub()
	inRoom := &fakeConn{id: "a"}
	outside := &fakeConn{id: "b"}
	h.Register(inRoom)
	h.Register(outside)
	h.Join(inRoom, "room-1")

	h.Broadcast("room-1", "ping", "payload")

	if got := inRoom.captured(); len(got) != 1 || got[0].Event != "ping" {
		t.Fatalf("member events = %v", eventNames(got))
	}
	if got := outside.captured(); len(got) != 0 {
		t.Fatalf("non-member received %v", eventNames(got))
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	h, _ := newHub()
	conn := &fakeConn{id: "a"}
	h.Register(conn)
	h.Join(conn, "room-1")
	h.Join(conn, "room-1")

	h.Broadcast("room-1", "ping", nil)
	if got := conn.captured(); len(got) != 1 {
		t.Fatalf("double join delivered %d events, want 1", len(got))
	}
}

func TestLeaveAndUnregisterStopDelivery(t *testing.T) {
	h, _ := newHub()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	h.Register(a)
	h.Register(b)
	h.Join(a, "room-1")
	h.Join(a, hub.RoomObservers)
	h.Join(b, "room-1")

	h.Leave(a.ID(), "room-1")
	h.Broadcast("room-1", "ping", nil)
	if got := a.captured(); len(got) != 0 {
		t.Fatalf("left member still received %v", eventNames(got))
	}

	// Unregister covers abnormal disconnects: membership must vanish
	// everywhere without an explicit leave per room.
	h.Unregister(a.ID())
	h.Broadcast(hub.RoomObservers, "ping", nil)
	if got := a.captured(); len(got) != 0 {
		t.Fatalf("unregistered member still received %v", eventNames(got))
	}
	if got := b.captured(); len(got) != 1 {
		t.Fatalf("remaining member got %d events, want 1", len(got))
	}
}

func TestBroadcastSkipsBlockedConnections(t *testing.T) {
	h, _ := newHub()
	healthy := &fakeConn{id: "a"}
	blocked := &fakeConn{id: "b", fail: true}
	h.Register(healthy)
	h.Register(blocked)
	h.Join(healthy, "room-1")
	h.Join(blocked, "room-1")

	h.Broadcast("room-1", "ping", nil)

	if got := healthy.captured(); len(got) != 1 {
		t.Fatalf("healthy member got %d events, want 1", len(got))
	}
}

func TestSendMessageFansOutToRoomAndObservers(t *testing.T) {
	h, svc := newHub()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, model.Client{})

	client := &fakeConn{id: "client"}
	observer := &fakeConn{id: "observer"}
	h.Register(client)
	h.Register(observer)
	h.Join(client, session.ID)
	h.Join(observer, hub.RoomObservers)

	msg, err := h.SendMessage(ctx, session.ID, "hello", model.SenderClient)
	if err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}

	clientEvents := client.captured()
	if len(clientEvents) != 1 || clientEvents[0].Event != hub.EventNewMessage {
		t.Fatalf("client events = %v", eventNames(clientEvents))
	}

	observerEvents := observer.captured()
	if len(observerEvents) != 1 || observerEvents[0].Event != hub.EventChatUpdate {
		t.Fatalf("observer events = %v", eventNames(observerEvents))
	}
	update, ok := observerEvents[0].Payload.(hub.ChatUpdatePayload)
	if !ok {
		t.Fatalf("observer payload type %T", observerEvents[0].Payload)
	}
	if update.SessionID != session.ID || update.Message.ID != msg.ID {
		t.Fatalf("observer payload = %+v", update)
	}
}

func TestSendMessageToUnknownSessionFails(t *testing.T) {
	h, _ := newHub()
	_, err := h.SendMessage(context.Background(), "missing", "hi", model.SenderClient)
	if !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestJoinSessionDeliversHistoryFirst(t *testing.T) {
	h, svc := newHub()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, model.Client{})

	if _, err := h.SendMessage(ctx, session.ID, "hello", model.SenderClient); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}

	joiner := &fakeConn{id: "consultant"}
	h.Register(joiner)
	if err := h.JoinSession(ctx, joiner, session.ID); err != nil {
		t.Fatalf("JoinSession err: %v", err)
	}

	events := joiner.captured()
	if len(events) != 1 || events[0].Event != hub.EventChatHistory {
		t.Fatalf("joiner events = %v", eventNames(events))
	}
	history, ok := events[0].Payload.([]model.Message)
	if !ok {
		t.Fatalf("history payload type %T", events[0].Payload)
	}
	if len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("history = %+v", history)
	}
}

func TestJoinSessionUnknownSession(t *testing.T) {
	h, _ := newHub()
	joiner := &fakeConn{id: "x"}
	h.Register(joiner)
	err := h.JoinSession(context.Background(), joiner, "missing")
	if !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

// TestHistoryThenLiveOrdering races a joiner against a stream of
// sends and checks the joiner's view: the historical batch comes
// first, and history plus live messages reconstruct the full sequence
// with no gap and no duplicate.
func TestHistoryThenLiveOrdering(t *testing.T) {
	h, svc := newHub()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, model.Client{})

	const total = 60

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			if _, err := h.SendMessage(ctx, session.ID, fmt.Sprintf("m-%03d", i), model.SenderClient); err != nil {
				t.Errorf("SendMessage err: %v", err)
				return
			}
		}
	}()

	// Join somewhere in the middle of the stream.
	time.Sleep(time.Millisecond)
	joiner := &fakeConn{id: "joiner"}
	h.Register(joiner)
	if err := h.JoinSession(ctx, joiner, session.ID); err != nil {
		t.Fatalf("JoinSession err: %v", err)
	}
	<-done

	events := joiner.captured()
	if len(events) == 0 || events[0].Event != hub.EventChatHistory {
		t.Fatalf("first event = %v, want chatHistory", eventNames(events))
	}

	var seen []string
	history := events[0].Payload.([]model.Message)
	for _, msg := range history {
		seen = append(seen, msg.Content)
	}
	for _, ev := range events[1:] {
		if ev.Event != hub.EventNewMessage {
			t.Fatalf("unexpected event %q after history", ev.Event)
		}
		seen = append(seen, ev.Payload.(model.Message).Content)
	}

	if len(seen) != total {
		t.Fatalf("joiner saw %d messages, want %d", len(seen), total)
	}
	for i, content := range seen {
		if want := fmt.Sprintf("m-%03d", i); content != want {
			t.Fatalf("position %d = %q, want %q", i, content, want)
		}
	}
}

func TestCloseSessionBroadcastsOnlyOnce(t *testing.T) {
	h, svc := newHub()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, model.Client{})

	member := &fakeConn{id: "member"}
	observer := &fakeConn{id: "observer"}
	h.Register(member)
	h.Register(observer)
	h.Join(member, session.ID)
	h.Join(observer, hub.RoomObservers)

	if _, err := h.CloseSession(ctx, session.ID); err != nil {
		t.Fatalf("CloseSession err: %v", err)
	}
	if _, err := h.CloseSession(ctx, session.ID); err != nil {
		t.Fatalf("second CloseSession err: %v", err)
	}

	if got := member.captured(); len(got) != 1 || got[0].Event != hub.EventChatClosed {
		t.Fatalf("member events = %v", eventNames(got))
	}
	if got := observer.captured(); len(got) != 1 || got[0].Event != hub.EventChatClosed {
		t.Fatalf("observer events = %v", eventNames(got))
	}
}

func TestUpdateClientNotifiesObservers(t *testing.T) {
	h, svc := newHub()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, model.Client{Name: "Ana"})

	observer := &fakeConn{id: "observer"}
	h.Register(observer)
	h.Join(observer, hub.RoomObservers)

	updated, err := h.UpdateClient(ctx, session.ID, model.Client{Location: "Porto"})
	if err != nil {
		t.Fatalf("UpdateClient err: %v", err)
	}
	if updated.Client.Name != "Ana" || updated.Client.Location != "Porto" {
		t.Fatalf("client = %+v", updated.Client)
	}

	events := observer.captured()
	if len(events) != 1 || events[0].Event != hub.EventClientUpdated {
		t.Fatalf("observer events = %v", eventNames(events))
	}
}

func TestEmitClosingWarningPayload(t *testing.T) {
	h, svc := newHub()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, model.Client{})

	member := &fakeConn{id: "member"}
	observer := &fakeConn{id: "observer"}
	h.Register(member)
	h.Register(observer)
	h.Join(member, session.ID)
	h.Join(observer, hub.RoomObservers)

	h.EmitClosingWarning(session.ID, 1)

	memberEvents := member.captured()
	if len(memberEvents) != 1 || memberEvents[0].Event != hub.EventChatClosingWarning {
		t.Fatalf("member events = %v", eventNames(memberEvents))
	}
	warning := memberEvents[0].Payload.(hub.ClosingWarningPayload)
	if warning.SessionID != session.ID || warning.MinutesRemaining != 1 || warning.Message == "" {
		t.Fatalf("warning payload = %+v", warning)
	}
	if got := observer.captured(); len(got) != 1 {
		t.Fatalf("observer events = %v", eventNames(got))
	}
}
