package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/store"
)

// fakeRunner records started sessions instead of launching runs.
type fakeRunner struct {
	mu      sync.Mutex
	started []string
}

func (f *fakeRunner) Start(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID)
}

func (f *fakeRunner) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func newTestApp(t *testing.T) (*store.Store, *fakeRunner, *httptest.Server) {
	t.Helper()

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	seedUser(t, s, "admin", "admin@example.com", "adminpass", model.UserRoleAdmin, true)
	seedUser(t, s, "alice", "alice@example.com", "alicepass", model.UserRoleUser, true)
	seedUser(t, s, "bob", "bob@example.com", "bobpass", model.UserRoleUser, false)
	seedUser(t, s, "dup1", "dup@example.com", "duppass", model.UserRoleUser, true)
	seedUser(t, s, "dup2", "dup@example.com", "duppass", model.UserRoleUser, true)

	runner := &fakeRunner{}
	h := New(s, runner, Config{SecureCookies: false})

	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return s, runner, srv
}

func seedUser(t *testing.T, s *store.Store, username, email, password string, role model.UserRole, active bool) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	id, err := s.CreateUser(model.User{
		Username: username, Email: email,
		PasswordHash: string(hash), Role: role, Active: active,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

// client wraps an http.Client with a cookie jar and CSRF bookkeeping.
type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &client{t: t, base: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) csrfToken() string {
	u, _ := url.Parse(c.base)
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == "csrf_token" {
			return ck.Value
		}
	}
	return ""
}

func (c *client) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if method != http.MethodGet && method != http.MethodHead {
		if token := c.csrfToken(); token != "" {
			req.Header.Set("X-CSRF-Token", token)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *client) login(login, password string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, "/api/login", map[string]string{
		"login": login, "password": password,
	})
}

func (c *client) mustLogin(login, password string) {
	c.t.Helper()
	resp := c.login(login, password)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", login, resp.StatusCode)
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func validSettings() map[string]any {
	return map[string]any{
		"difficulty":       "Medium",
		"experience":       "1-3 Years",
		"num_questions":    10,
		"coding_languages": "Go",
		"mcq_format":       true,
	}
}

func TestLogin(t *testing.T) {
	_, _, srv := newTestApp(t)

	t.Run("by username", func(t *testing.T) {
		c := newClient(t, srv)
		resp := c.login("alice", "alicepass")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d", resp.StatusCode)
		}
		body := decode[map[string]any](t, resp)
		if body["username"] != "alice" {
			t.Errorf("unexpected user payload: %v", body)
		}
		if _, leaked := body["password_hash"]; leaked {
			t.Error("password hash must not be serialized")
		}
		if c.csrfToken() == "" {
			t.Error("expected CSRF cookie after login")
		}
	})

	t.Run("by email ignoring case", func(t *testing.T) {
		c := newClient(t, srv)
		resp := c.login("ALICE@EXAMPLE.COM", "alicepass")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		c := newClient(t, srv)
		resp := c.login("alice", "wrong")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		c := newClient(t, srv)
		resp := c.login("nobody", "whatever")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("inactive account", func(t *testing.T) {
		c := newClient(t, srv)
		resp := c.login("bob", "bobpass")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("shared email blocked", func(t *testing.T) {
		c := newClient(t, srv)
		resp := c.login("dup@example.com", "duppass")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status %d", resp.StatusCode)
		}

		// Each account remains reachable by username.
		resp = c.login("dup1", "duppass")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status %d", resp.StatusCode)
		}
	})
}

func TestAuthRequired(t *testing.T) {
	_, _, srv := newTestApp(t)
	c := newClient(t, srv)

	resp := c.do(http.MethodGet, "/api/settings", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without session, got %d", resp.StatusCode)
	}
}

func TestCSRFProtection(t *testing.T) {
	_, _, srv := newTestApp(t)
	c := newClient(t, srv)
	c.mustLogin("alice", "alicepass")

	t.Run("missing header", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/logout", nil)
		resp, err := c.http.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403 without CSRF header, got %d", resp.StatusCode)
		}
	})

	t.Run("mismatched header", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/logout", nil)
		req.Header.Set("X-CSRF-Token", "not-the-token")
		resp, err := c.http.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403 with wrong CSRF token, got %d", resp.StatusCode)
		}
	})

	t.Run("matching header", func(t *testing.T) {
		resp := c.do(http.MethodPut, "/api/settings", validSettings())
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("expected 204 with matching CSRF token, got %d", resp.StatusCode)
		}
	})
}

func TestSettings(t *testing.T) {
	_, _, srv := newTestApp(t)
	c := newClient(t, srv)
	c.mustLogin("alice", "alicepass")

	t.Run("get before save", func(t *testing.T) {
		resp := c.do(http.MethodGet, "/api/settings", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("invalid config rejected with field errors", func(t *testing.T) {
		bad := validSettings()
		bad["general_topic"] = true // both scopes set
		resp := c.do(http.MethodPut, "/api/settings", bad)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
		body := decode[map[string]map[string]string](t, resp)
		if body["errors"]["coding_languages"] == "" {
			t.Errorf("expected coding_languages error, got %v", body)
		}
	})

	t.Run("save and read back", func(t *testing.T) {
		resp := c.do(http.MethodPut, "/api/settings", validSettings())
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}

		resp = c.do(http.MethodGet, "/api/settings", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		cfg := decode[model.ExamConfig](t, resp)
		if cfg.Difficulty != model.DifficultyMedium || cfg.NumQuestions != 10 {
			t.Errorf("unexpected config: %+v", cfg)
		}
	})
}

func TestExamLifecycle(t *testing.T) {
	s, runner, srv := newTestApp(t)
	c := newClient(t, srv)
	c.mustLogin("alice", "alicepass")

	t.Run("start without settings", func(t *testing.T) {
		resp := c.do(http.MethodPost, "/api/exam/start", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	resp := c.do(http.MethodPut, "/api/settings", validSettings())
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("save settings: %d", resp.StatusCode)
	}

	var sessionID string
	t.Run("start launches run", func(t *testing.T) {
		resp := c.do(http.MethodPost, "/api/exam/start", nil)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", resp.StatusCode)
		}
		body := decode[map[string]string](t, resp)
		sessionID = body["session_id"]
		if sessionID == "" {
			t.Fatal("expected session_id")
		}
		ids := runner.startedIDs()
		if len(ids) != 1 || ids[0] != sessionID {
			t.Errorf("runner saw %v, want [%s]", ids, sessionID)
		}
	})

	t.Run("status while pending", func(t *testing.T) {
		resp := c.do(http.MethodGet, "/api/exam/"+sessionID+"/status", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		body := decode[map[string]string](t, resp)
		if body["status"] != string(model.StatusPending) {
			t.Errorf("expected PENDING, got %q", body["status"])
		}
		if body["html"] != "" {
			t.Error("no markup expected before completion")
		}
	})

	t.Run("status after completion includes markup", func(t *testing.T) {
		if err := s.FinishSession(sessionID, model.StatusCompleted, "<div>exam</div>"); err != nil {
			t.Fatalf("FinishSession: %v", err)
		}
		resp := c.do(http.MethodGet, "/api/exam/"+sessionID+"/status", nil)
		body := decode[map[string]string](t, resp)
		if body["status"] != string(model.StatusCompleted) || body["html"] != "<div>exam</div>" {
			t.Errorf("unexpected status payload: %v", body)
		}
	})

	t.Run("foreign session invisible", func(t *testing.T) {
		other := newClient(t, srv)
		other.mustLogin("dup1", "duppass")
		resp := other.do(http.MethodGet, "/api/exam/"+sessionID+"/status", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 for foreign session, got %d", resp.StatusCode)
		}
	})

	t.Run("sessions list", func(t *testing.T) {
		resp := c.do(http.MethodGet, "/api/exam/sessions", nil)
		sessions := decode[[]model.ExamSession](t, resp)
		if len(sessions) != 1 || sessions[0].ID != sessionID {
			t.Errorf("unexpected sessions: %+v", sessions)
		}
	})
}

func TestCancelExam(t *testing.T) {
	s, _, srv := newTestApp(t)
	c := newClient(t, srv)
	c.mustLogin("alice", "alicepass")

	resp := c.do(http.MethodPut, "/api/settings", validSettings())
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/api/exam/start", nil)
	sessionID := decode[map[string]string](t, resp)["session_id"]

	t.Run("cancel own session", func(t *testing.T) {
		resp := c.do(http.MethodPost, "/api/exam/"+sessionID+"/cancel", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}
		status, _ := s.GetSessionStatus(sessionID)
		if status != model.StatusCancelled {
			t.Errorf("expected CANCELLED, got %q", status)
		}
	})

	t.Run("cancel again", func(t *testing.T) {
		resp := c.do(http.MethodPost, "/api/exam/"+sessionID+"/cancel", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 for terminal session, got %d", resp.StatusCode)
		}
	})

	t.Run("cancel unknown session", func(t *testing.T) {
		resp := c.do(http.MethodPost, "/api/exam/no-such-id/cancel", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})
}

func TestAdminUsers(t *testing.T) {
	_, _, srv := newTestApp(t)

	t.Run("forbidden for regular users", func(t *testing.T) {
		c := newClient(t, srv)
		c.mustLogin("alice", "alicepass")
		resp := c.do(http.MethodGet, "/api/admin/users", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403, got %d", resp.StatusCode)
		}
	})

	admin := newClient(t, srv)
	admin.mustLogin("admin", "adminpass")

	t.Run("list users", func(t *testing.T) {
		resp := admin.do(http.MethodGet, "/api/admin/users", nil)
		users := decode[[]model.User](t, resp)
		if len(users) != 5 {
			t.Errorf("expected 5 users, got %d", len(users))
		}
	})

	var createdID int64
	t.Run("create user", func(t *testing.T) {
		resp := admin.do(http.MethodPost, "/api/admin/users", map[string]string{
			"username": "carol", "email": "carol@example.com", "password": "carolpass",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d", resp.StatusCode)
		}
		createdID = decode[map[string]int64](t, resp)["id"]
		if createdID == 0 {
			t.Fatal("expected new user id")
		}

		// The new account can log in right away.
		c := newClient(t, srv)
		c.mustLogin("carol", "carolpass")
	})

	t.Run("reject missing password", func(t *testing.T) {
		resp := admin.do(http.MethodPost, "/api/admin/users", map[string]string{"username": "noone"})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("reject unknown role", func(t *testing.T) {
		resp := admin.do(http.MethodPost, "/api/admin/users", map[string]string{
			"username": "eve", "password": "evepass", "role": "owner",
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("cannot delete own account", func(t *testing.T) {
		resp := admin.do(http.MethodDelete, "/api/admin/users/1", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("delete another user", func(t *testing.T) {
		resp := admin.do(http.MethodDelete, "/api/admin/users/"+strconv.FormatInt(createdID, 10), nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("expected 204, got %d", resp.StatusCode)
		}
	})
}

func TestProfile(t *testing.T) {
	_, _, srv := newTestApp(t)
	c := newClient(t, srv)
	c.mustLogin("alice", "alicepass")

	t.Run("get", func(t *testing.T) {
		resp := c.do(http.MethodGet, "/api/profile", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		body := decode[map[string]any](t, resp)
		if body["username"] != "alice" {
			t.Errorf("unexpected profile: %v", body)
		}
	})

	t.Run("empty username rejected", func(t *testing.T) {
		resp := c.do(http.MethodPut, "/api/profile", map[string]string{
			"username": "   ", "email": "alice@example.com",
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("taken username rejected ignoring case", func(t *testing.T) {
		resp := c.do(http.MethodPut, "/api/profile", map[string]string{
			"username": "ADMIN", "email": "alice@example.com",
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("expected 409, got %d", resp.StatusCode)
		}
	})

	t.Run("update username and email", func(t *testing.T) {
		resp := c.do(http.MethodPut, "/api/profile", map[string]string{
			"username": "alicia", "email": "alicia@example.com",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		body := decode[map[string]any](t, resp)
		if body["username"] != "alicia" || body["email"] != "alicia@example.com" {
			t.Errorf("unexpected profile: %v", body)
		}

		// The new username works for login; the password is untouched.
		fresh := newClient(t, srv)
		fresh.mustLogin("alicia", "alicepass")
	})

	t.Run("keeping own username allowed", func(t *testing.T) {
		resp := c.do(http.MethodPut, "/api/profile", map[string]string{
			"username": "alicia", "email": "final@example.com",
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
	})
}

func TestLogout(t *testing.T) {
	_, _, srv := newTestApp(t)
	c := newClient(t, srv)
	c.mustLogin("alice", "alicepass")

	resp := c.do(http.MethodPost, "/api/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/api/settings", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
}
