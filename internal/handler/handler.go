package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/store"
)

// Runner launches a generation run for a session and returns
// immediately; completion is observed by polling the session status.
type Runner interface {
	Start(sessionID string)
}

// Config holds runtime handler parameters.
type Config struct {
	SecureCookies bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	runner Runner
	config Config
}

// New creates a new Handler.
func New(s *store.Store, r Runner, cfg Config) *Handler {
	return &Handler{store: s, runner: r, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.csrfMiddleware)

		r.Post("/api/logout", h.handleLogout)

		r.Get("/api/profile", h.handleGetProfile)
		r.Put("/api/profile", h.handleUpdateProfile)

		r.Get("/api/settings", h.handleGetSettings)
		r.Put("/api/settings", h.handleSaveSettings)

		r.Get("/api/exam/sessions", h.handleListSessions)
		r.Post("/api/exam/start", h.handleStartExam)
		r.Post("/api/exam/{sessionID}/cancel", h.handleCancelExam)
		r.Get("/api/exam/{sessionID}/status", h.handleExamStatus)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/api/admin/users", h.handleListUsers)
			r.Post("/api/admin/users", h.handleCreateUser)
			r.Delete("/api/admin/users/{userID}", h.handleDeleteUser)
		})
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// handleGetSettings returns the user's saved exam configuration.
func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	cfg, err := h.store.GetConfig(user.ID)
	if err != nil {
		slog.Error("get config", "user_id", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if cfg == nil {
		respondError(w, http.StatusNotFound, "no saved exam configuration")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// handleSaveSettings validates and upserts the user's exam configuration.
func (h *Handler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var cfg model.ExamConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.UserID = user.ID

	if err := model.ValidateConfig(cfg); err != nil {
		if fields := model.ValidationErrors(err); fields != nil {
			respondJSON(w, http.StatusBadRequest, map[string]any{"errors": fields})
			return
		}
		respondError(w, http.StatusBadRequest, "invalid configuration")
		return
	}

	if err := h.store.SaveConfig(cfg); err != nil {
		slog.Error("save config", "user_id", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// handleStartExam snapshots the user's saved configuration into a new
// session, launches the generation run, and returns the session id.
func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	cfg, err := h.store.GetConfig(user.ID)
	if err != nil {
		slog.Error("get config", "user_id", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if cfg == nil {
		respondError(w, http.StatusBadRequest, "no saved exam configuration")
		return
	}

	sessionID, err := h.store.CreateSession(user.ID, *cfg)
	if err != nil {
		slog.Error("create session", "user_id", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.runner.Start(sessionID)

	slog.Info("started generation run", "session_id", sessionID, "user_id", user.ID)
	respondJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

// handleCancelExam flags a running session as cancelled. The worker
// observes the flag at its next loop boundary.
func (h *Handler) handleCancelExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	ok, err := h.store.CancelSession(sessionID, user.ID)
	if err != nil {
		slog.Error("cancel session", "session_id", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	slog.Info("session cancelled", "session_id", sessionID, "user_id", user.ID)
	respondJSON(w, http.StatusNoContent, nil)
}

type statusResponse struct {
	Status model.SessionStatus `json:"status"`
	HTML   string              `json:"html,omitempty"`
}

// handleExamStatus reports the session's current status; the result
// markup is included only once the run has completed.
func (h *Handler) handleExamStatus(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.store.GetSessionForUser(sessionID, user.ID)
	if err != nil {
		slog.Error("get session", "session_id", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	resp := statusResponse{Status: sess.Status}
	if sess.Status == model.StatusCompleted {
		resp.HTML = sess.ResultHTML
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListSessions returns the user's sessions, newest first.
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	sessions, err := h.store.ListSessionsForUser(user.ID)
	if err != nil {
		slog.Error("list sessions", "user_id", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}
