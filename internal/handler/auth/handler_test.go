package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	authhandler "github.com/atendolive/atendo/backend/internal/handler/auth"
	"github.com/atendolive/atendo/backend/internal/model/user"
	authservice "github.com/atendolive/atendo/backend/internal/service/auth"
	"github.com/atendolive/atendo/backend/internal/storage/memory"
)

func newRouter() http.Handler {
	svc := authservice.NewService(memory.New())
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		authhandler.New(svc).RegisterRoutes(api)
	})
	return r
}

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	router := newRouter()

	rec := post(t, router, "/api/auth/register", `{"email":"ana@example.com","password":"secret","name":"Ana"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var registered struct {
		User user.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &registered); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if registered.User.ID == "" || registered.User.Role != user.RoleConsultant {
		t.Fatalf("registered user = %+v", registered.User)
	}

	rec = post(t, router, "/api/auth/login", `{"email":"ana@example.com","password":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"password"`) {
		t.Fatal("login response leaks the password field")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router := newRouter()
	post(t, router, "/api/auth/register", `{"email":"ana@example.com","password":"secret","name":"Ana"}`)

	rec := post(t, router, "/api/auth/login", `{"email":"ana@example.com","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	rec = post(t, router, "/api/auth/login", `{"email":"nobody@example.com","password":"secret"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user status = %d, want 401", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	router := newRouter()

	rec := post(t, router, "/api/auth/register", `{"email":"","password":"secret","name":"Ana"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing email status = %d, want 400", rec.Code)
	}

	post(t, router, "/api/auth/register", `{"email":"ana@example.com","password":"secret","name":"Ana"}`)
	rec = post(t, router, "/api/auth/register", `{"email":"ana@example.com","password":"other","name":"Ana2"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate email status = %d, want 400", rec.Code)
	}
}
