package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	chathandler "github.com/atendolive/atendo/backend/internal/handler/chat"
	model "github.com/atendolive/atendo/backend/internal/model/chat"
	chatservice "github.com/atendolive/atendo/backend/internal/service/chat"
	"github.com/atendolive/atendo/backend/internal/storage/memory"
)

func newRouter() (http.Handler, *chatservice.Service) {
	svc := chatservice.NewService(memory.New())
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		chathandler.New(svc).RegisterRoutes(api)
	})
	return r, svc
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateChat(t *testing.T) {
	router, _ := newRouter()

	rec := doRequest(t, router, http.MethodPost, "/api/chats", `{"client":{"name":"Ana"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var session model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if session.ID == "" || session.Status != model.StatusActive || session.Client.Name != "Ana" {
		t.Fatalf("created session = %+v", session)
	}
}

func TestCreateChatAcceptsEmptyBody(t *testing.T) {
	router, _ := newRouter()
	rec := doRequest(t, router, http.MethodPost, "/api/chats", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCreateChatRejectsMalformedBody(t *testing.T) {
	router, _ := newRouter()
	rec := doRequest(t, router, http.MethodPost, "/api/chats", `{"client":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetAndListChats(t *testing.T) {
	router, svc := newRouter()
	session, err := svc.CreateSession(context.Background(), model.Client{Name: "Rui"})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	rec := doRequest(t, router, http.MethodGet, "/api/chats/"+session.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != session.ID || got.Client.Name != "Rui" {
		t.Fatalf("got session = %+v", got)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/chats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var sessions []model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("listed %d sessions, want 1", len(sessions))
	}

	rec = doRequest(t, router, http.MethodGet, "/api/chats/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing chat status = %d, want 404", rec.Code)
	}
}

func TestDeleteChat(t *testing.T) {
	router, svc := newRouter()
	session, err := svc.CreateSession(context.Background(), model.Client{})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	rec := doRequest(t, router, http.MethodDelete, "/api/chats/"+session.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/chats/"+session.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", rec.Code)
	}

	rec = doRequest(t, router, http.MethodDelete, "/api/chats/"+session.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}
