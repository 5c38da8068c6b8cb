package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stridehq/stride/internal/api/middleware"
	"github.com/stridehq/stride/internal/orchestrator"
	"github.com/stridehq/stride/internal/session"
	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/pkg/models"
)

// Handlers carries the pipeline dependencies for the HTTP surface.
type Handlers struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Store
	store    store.Store
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(orch *orchestrator.Orchestrator, sessions *session.Store, st store.Store) *Handlers {
	return &Handlers{orch: orch, sessions: sessions, store: st}
}

// ── Health ──────────────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"service": "stride-assistant",
	})
}

// ── Assistant ───────────────────────────────────────────────

type queryBody struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Query runs one assistant query. Exhausted rate limits answer 429 with
// retry guidance; everything else the pipeline absorbs into a fallback.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	req := &models.QueryRequest{
		SessionID:  body.SessionID,
		UserID:     middleware.GetUserID(r.Context()),
		TenantID:   middleware.GetTenantID(r.Context()),
		Query:      body.Query,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}

	resp, decision, err := h.orch.Handle(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !decision.Allowed {
		retrySecs := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retrySecs < 1 {
			retrySecs = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retrySecs))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		w.Header().Set("X-RateLimit-Window", decision.Window)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "rate limit exceeded",
			"retry_after_seconds": retrySecs,
			"window":              decision.Window,
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteSession removes a conversation session. Idempotent: deleting an
// expired or unknown session answers 204 as well.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Only the owner may delete a live session; a vanished one deletes
	// trivially for anyone.
	if sess, found, err := h.sessions.Get(r.Context(), sessionID); err == nil && found {
		if sess.UserID != middleware.GetUserID(r.Context()) {
			writeError(w, http.StatusForbidden, "not your session")
			return
		}
	}

	if err := h.sessions.Delete(r.Context(), sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("delete session failed")
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Reminders ───────────────────────────────────────────────

type reminderBody struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Message    string    `json:"message"`
	RemindAt   time.Time `json:"remind_at"`
	CreatedVia string    `json:"created_via"`
}

// CreateReminder accepts a remind_at in the past: the reminder is simply due
// on the next sweep.
func (h *Handlers) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var body reminderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Message == "" || body.RemindAt.IsZero() {
		writeError(w, http.StatusBadRequest, "message and remind_at are required")
		return
	}

	via := models.ReminderOrigin(body.CreatedVia)
	switch via {
	case models.ReminderViaChat, models.ReminderViaUI, models.ReminderViaAPI:
	default:
		via = models.ReminderViaAPI
	}

	rem := &models.Reminder{
		ID:         uuid.New().String(),
		UserID:     middleware.GetUserID(r.Context()),
		EntityType: body.EntityType,
		EntityID:   body.EntityID,
		Message:    body.Message,
		RemindAt:   body.RemindAt.UTC(),
		CreatedVia: via,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateReminder(r.Context(), rem); err != nil {
		log.Error().Err(err).Msg("create reminder failed")
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (h *Handlers) ListReminders(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListReminders(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		log.Error().Err(err).Msg("list reminders failed")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if list == nil {
		list = []models.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": list})
}

func (h *Handlers) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reminderID")
	err := h.store.DeleteReminder(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error().Err(err).Str("reminder_id", id).Msg("delete reminder failed")
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Notifications ───────────────────────────────────────────

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListNotifications(r.Context(), middleware.GetUserID(r.Context()), 0)
	if err != nil {
		log.Error().Err(err).Msg("list notifications failed")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	err := h.store.MarkNotificationRead(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error().Err(err).Str("notification_id", id).Msg("mark notification read failed")
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) NotificationHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	history, err := h.store.ListNotificationHistory(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("notification_id", id).Msg("list notification history failed")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if history == nil {
		history = []models.NotificationHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// ── Helpers ─────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
