package taskapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/taskdesk/internal/commdetail"
	"github.com/linnemanlabs/taskdesk/internal/triage"
)

// errBadHistoryIndex is returned for history indexes that are out of range.
var errBadHistoryIndex = errors.New("history entry not found")

// sessionResponse is the state of a session as returned by most endpoints.
type sessionResponse struct {
	ID            string                 `json:"id"`
	ActiveView    triage.View            `json:"active_view"`
	Counts        map[triage.View]int    `json:"counts"`
	Selected      *triage.AggregatedTask `json:"selected"`
	Draft         triage.DraftBuffer     `json:"draft"`
	Completed     int                    `json:"completed"`
	FailedSources []triage.SourceTag     `json:"failed_sources,omitempty"`
}

type viewResponse struct {
	View  triage.View             `json:"view"`
	Count int                     `json:"count"`
	Tasks []triage.AggregatedTask `json:"tasks"`
}

type draftResponse struct {
	Text string `json:"text"`
}

type selectViewRequest struct {
	View triage.View `json:"view"`
}

type selectTaskRequest struct {
	TaskID string `json:"task_id"`
}

type ownerRequest struct {
	Role string `json:"role"`
}

type draftRequest struct {
	Text string `json:"text"`
}

func snapshotOf(id string, s *triage.Session) sessionResponse {
	return sessionResponse{
		ID:         id,
		ActiveView: s.ActiveView(),
		Counts:     s.Counts(),
		Selected:   s.Selected(),
		Draft:      s.Draft(),
		Completed:  s.CompletedCount(),
	}
}

func sessionID(r *http.Request) string {
	id := chi.URLParam(r, "sid")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("taskdesk.session.id", id))
	return id
}

// respond runs fn on the session and writes the resulting session state.
func (a *API) respond(w http.ResponseWriter, r *http.Request, status int, fn func(*triage.Session) error) {
	id := sessionID(r)
	var resp sessionResponse
	err := a.svc.Do(id, func(s *triage.Session) error {
		if fn != nil {
			if err := fn(s); err != nil {
				return err
			}
		}
		resp = snapshotOf(id, s)
		return nil
	})
	if err != nil {
		a.fail(w, r, err, "session command failed", "session_id", id)
		return
	}
	writeJSON(w, status, resp)
}

func (a *API) handleOpen(w http.ResponseWriter, r *http.Request) {
	id, rr, err := a.svc.Open(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to open session")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("taskdesk.session.id", id),
		attribute.Int("taskdesk.sources.failed", len(rr.Failed)),
	)

	var resp sessionResponse
	if err := a.svc.Do(id, func(s *triage.Session) error {
		resp = snapshotOf(id, s)
		return nil
	}); err != nil {
		a.fail(w, r, err, "failed to read new session", "session_id", id)
		return
	}
	resp.FailedSources = rr.Failed

	w.Header().Set("Location", "/api/v1/sessions/"+id)
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK, nil)
}

func (a *API) handleClose(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := a.svc.Close(r.Context(), id); err != nil {
		a.fail(w, r, err, "failed to close session", "session_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	rr, err := a.svc.Refresh(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "refresh failed", "session_id", id)
		return
	}

	var resp sessionResponse
	if err := a.svc.Do(id, func(s *triage.Session) error {
		resp = snapshotOf(id, s)
		return nil
	}); err != nil {
		a.fail(w, r, err, "failed to read refreshed session", "session_id", id)
		return
	}
	resp.FailedSources = rr.Failed
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetView(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	v := triage.View(chi.URLParam(r, "view"))
	if !v.Valid() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %q", triage.ErrUnknownView, v))
		return
	}

	var resp viewResponse
	err := a.svc.Do(id, func(s *triage.Session) error {
		tasks := s.View(v)
		resp = viewResponse{View: v, Count: len(tasks), Tasks: tasks}
		return nil
	})
	if err != nil {
		a.fail(w, r, err, "failed to read view", "session_id", id, "view", v)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSelectView(w http.ResponseWriter, r *http.Request) {
	var req selectViewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a.respond(w, r, http.StatusOK, func(s *triage.Session) error {
		return s.SelectView(req.View)
	})
}

func (a *API) handleSelectTask(w http.ResponseWriter, r *http.Request) {
	var req selectTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a.respond(w, r, http.StatusOK, func(s *triage.Session) error {
		return s.SelectTask(req.TaskID)
	})
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	taskID := chi.URLParam(r, "tid")
	if err := a.svc.MarkComplete(r.Context(), id, taskID); err != nil {
		a.fail(w, r, err, "failed to complete task", "session_id", id, "task_id", taskID)
		return
	}
	a.respond(w, r, http.StatusOK, nil)
}

func (a *API) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	taskID := chi.URLParam(r, "tid")
	a.respond(w, r, http.StatusOK, func(s *triage.Session) error {
		return s.SetOwnerRole(taskID, req.Role)
	})
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	taskID := chi.URLParam(r, "tid")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("taskdesk.task.id", taskID))

	if err := a.svc.ApproveAIAction(r.Context(), id, taskID); err != nil {
		a.fail(w, r, err, "approval failed", "session_id", id, "task_id", taskID)
		return
	}
	a.respond(w, r, http.StatusOK, nil)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	taskID := chi.URLParam(r, "tid")
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "history index must be an integer")
		return
	}

	var detail commdetail.Detail
	err = a.svc.Do(id, func(s *triage.Session) error {
		t, ok := s.Task(taskID)
		if !ok {
			return fmt.Errorf("%w: %q", triage.ErrUnknownTask, taskID)
		}
		if n < 0 || n >= len(t.CommunicationHistory) {
			return errBadHistoryIndex
		}
		detail = commdetail.Format(t.CommunicationHistory[n], t.SubjectName())
		return nil
	})
	if errors.Is(err, errBadHistoryIndex) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		a.fail(w, r, err, "failed to read history", "session_id", id, "task_id", taskID)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleSetDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a.respond(w, r, http.StatusOK, func(s *triage.Session) error {
		return s.SetDraftText(req.Text)
	})
}

func (a *API) handleToggleDraft(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK, func(s *triage.Session) error {
		return s.ToggleEditing()
	})
}

func (a *API) handleSuggestDraft(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	text, err := a.svc.SuggestDraft(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "draft suggestion failed", "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Text: text})
}
