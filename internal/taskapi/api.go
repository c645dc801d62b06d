// Package taskapi exposes triage sessions over HTTP as JSON.
package taskapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/taskdesk/internal/triage"
)

// maxBodyBytes bounds command payloads; they are all tiny.
const maxBodyBytes = 64 << 10

// SessionService defines the triage operations taskapi needs.
type SessionService interface {
	Open(ctx context.Context) (string, *triage.RefreshResult, error)
	Close(ctx context.Context, id string) error
	Refresh(ctx context.Context, id string) (*triage.RefreshResult, error)
	Do(id string, fn func(*triage.Session) error) error
	MarkComplete(ctx context.Context, id, taskID string) error
	ApproveAIAction(ctx context.Context, id, taskID string) error
	SuggestDraft(ctx context.Context, id string) (string, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    SessionService
}

// New creates a new API handler.
func New(logger log.Logger, svc SessionService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("session service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. mw wraps only the API
// routes, so callers can guard them without guarding health endpoints.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)

		r.Post("/sessions", a.handleOpen)
		r.Route("/sessions/{sid}", func(r chi.Router) {
			r.Get("/", a.handleGetSession)
			r.Delete("/", a.handleClose)
			r.Post("/refresh", a.handleRefresh)

			r.Get("/views/{view}", a.handleGetView)
			r.Put("/view", a.handleSelectView)
			r.Put("/selection", a.handleSelectTask)

			r.Post("/tasks/{tid}/complete", a.handleComplete)
			r.Put("/tasks/{tid}/owner", a.handleSetOwner)
			r.Post("/tasks/{tid}/approve", a.handleApprove)
			r.Get("/tasks/{tid}/history/{n}", a.handleHistory)

			r.Put("/draft", a.handleSetDraft)
			r.Post("/draft/toggle", a.handleToggleDraft)
			r.Post("/draft/suggest", a.handleSuggestDraft)
		})
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, triage.ErrSessionNotFound),
		errors.Is(err, triage.ErrUnknownTask),
		errors.Is(err, triage.ErrUnknownView):
		return http.StatusNotFound
	case errors.Is(err, triage.ErrApprovalFailed),
		errors.Is(err, triage.ErrDraftFailed):
		return http.StatusBadGateway
	case errors.Is(err, triage.ErrNotApprovable),
		errors.Is(err, triage.ErrNoSelection),
		errors.Is(err, triage.ErrSelectionChanged):
		return http.StatusConflict
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, triage.ErrNoDrafter):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged; client
// mistakes are not.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, kv...)
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
