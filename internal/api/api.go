// Package api is the HTTP surface for scheduling, listing and cancelling
// email jobs. No queue logic lives here; it maps requests onto the
// scheduler service and domain errors onto status codes.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/sendlater/internal/auth"
	"github.com/you/sendlater/internal/domain"
	"github.com/you/sendlater/internal/scheduler"
	"github.com/you/sendlater/internal/store"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc      *scheduler.Service
	messages scheduler.MessageStore
	jwt      *auth.JWT
	log      *zap.Logger
	health   []Pinger
}

func NewHandler(svc *scheduler.Service, messages scheduler.MessageStore, jwt *auth.JWT, log *zap.Logger, health ...Pinger) *Handler {
	return &Handler{svc: svc, messages: messages, jwt: jwt, log: log, health: health}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwt))
		r.Post("/", h.enqueue)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.cancel)
	})
	return r
}

type enqueueRequest struct {
	To      []string  `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	DueAt   time.Time `json:"due_at"`
}

type jobResponse struct {
	domain.JobSummary
	To      []string `json:"to,omitempty"`
	Subject string   `json:"subject,omitempty"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.To) == 0 || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "to and subject are required")
		return
	}

	j, err := h.svc.Enqueue(r.Context(), owner, scheduler.Request{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
		DueAt:   req.DueAt,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j.Summary())
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())

	f := store.ListFilter{Status: domain.Status(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	summaries, err := h.svc.List(r.Context(), owner, f)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// get joins the job's status with its stored message content.
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())

	j, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := jobResponse{JobSummary: j.Summary()}
	if m, err := h.messages.GetMessage(r.Context(), j.MessageID); err == nil {
		resp.To = m.To
		resp.Subject = m.Subject
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())

	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"), owner); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.health {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSchedule):
		writeError(w, http.StatusUnprocessableEntity, "due_at is too far in the past")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "not your job")
	case errors.Is(err, domain.ErrNotCancelable):
		writeError(w, http.StatusConflict, "job is not pending")
	default:
		h.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
