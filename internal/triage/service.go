package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrSessionNotFound is returned for session ids that were never opened or are closed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoDrafter is returned by SuggestDraft when no drafter is configured.
	ErrNoDrafter = errors.New("draft suggestions are not configured")

	// ErrDraftFailed wraps errors from the drafter.
	ErrDraftFailed = errors.New("draft suggestion failed")

	// ErrSelectionChanged is returned by SuggestDraft when another task was opened
	// while the suggestion was being generated. The suggestion is dropped.
	ErrSelectionChanged = errors.New("selection changed while drafting")
)

// Drafter proposes an outbound message for a task.
type Drafter interface {
	SuggestDraft(ctx context.Context, task *AggregatedTask) (string, error)
}

// RefreshResult is the outcome of one refresh pass on a session.
type RefreshResult struct {
	Applied bool
	Failed  []SourceTag
}

type sessionEntry struct {
	mu sync.Mutex
	s  *Session
}

// Service is the business boundary for triage sessions. It owns every open session
// and runs each command on a session to completion before the next.
//
// Collaborator calls run without the session lock held. Their results are checked
// against the session again before they are applied.
type Service struct {
	aggregator *Aggregator
	approver   Approver
	drafter    Drafter
	logger     log.Logger
	metrics    *Metrics

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewService creates a new triage service. approver, drafter and metrics may be nil.
func NewService(aggregator *Aggregator, approver Approver, drafter Drafter, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		aggregator: aggregator,
		approver:   approver,
		drafter:    drafter,
		logger:     logger,
		metrics:    metrics,
		sessions:   make(map[string]*sessionEntry),
	}
}

// Open creates a session, loads it from every source and returns its id. Source
// failures never fail Open; the session just starts with fewer tasks.
func (s *Service) Open(ctx context.Context) (string, *RefreshResult, error) {
	id := ulid.Make().String()

	s.mu.Lock()
	s.sessions[id] = &sessionEntry{s: NewSession(s.approver)}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsOpen.Inc()
	}

	rr, err := s.Refresh(ctx, id)
	if err != nil {
		s.drop(id)
		return "", nil, err
	}

	s.logger.Info(ctx, "triage session opened",
		"session_id", id,
		"applied", rr.Applied,
		"failed_sources", len(rr.Failed),
	)
	return id, rr, nil
}

// Close ends a session. A refresh still in flight for it is discarded on arrival.
func (s *Service) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	e.mu.Lock()
	completed := e.s.CompletedCount()
	e.s.Close()
	e.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsOpen.Dec()
	}
	s.logger.Info(ctx, "triage session closed", "session_id", id, "completed", completed)
	return nil
}

// Refresh re-queries every source for a session. The session is unlocked while the
// adapters run, so commands keep working; the result is applied only if no newer
// refresh started and the session is still open.
func (s *Service) Refresh(ctx context.Context, id string) (*RefreshResult, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	gen := e.s.BeginRefresh()
	e.mu.Unlock()

	snap := s.aggregator.Fetch(ctx)

	// a cancelled pass fails every source; applying it would empty the session
	if err := ctx.Err(); err != nil {
		s.logger.Warn(ctx, "refresh cancelled, keeping current tasks", "session_id", id, "generation", gen)
		return nil, fmt.Errorf("refresh: %w", err)
	}

	e.mu.Lock()
	applied := e.s.Apply(gen, snap)
	e.mu.Unlock()

	if !applied {
		s.logger.Warn(ctx, "discarding stale refresh result", "session_id", id, "generation", gen)
		if s.metrics != nil {
			s.metrics.StaleRefreshesTotal.Inc()
		}
	}

	return &RefreshResult{Applied: applied, Failed: snap.Failed}, nil
}

// Do runs fn with exclusive access to a session.
func (s *Service) Do(id string, fn func(*Session) error) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.Closed() {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fn(e.s)
}

// MarkComplete completes a task on a session.
func (s *Service) MarkComplete(ctx context.Context, id, taskID string) error {
	return s.Do(id, func(sess *Session) error {
		t, ok := sess.Task(taskID)
		wasLive := ok && sess.completed.IsLive(taskID)
		if err := sess.MarkComplete(taskID); err != nil {
			return err
		}
		if wasLive {
			s.logger.Info(ctx, "task completed", "session_id", id, "task_id", taskID, "source", t.SourceTag)
			if s.metrics != nil {
				s.metrics.CompletionsTotal.WithLabelValues(string(t.SourceTag)).Inc()
			}
		}
		return nil
	})
}

// ApproveAIAction approves a pending AI action through the approval collaborator and
// completes the task when it succeeds. A refresh landing during the call may have
// renumbered the ai-pending tasks, so the task is only completed if it still refers to
// the approved action.
func (s *Service) ApproveAIAction(ctx context.Context, id, taskID string) error {
	var ref string
	if err := s.Do(id, func(sess *Session) error {
		var err error
		ref, err = sess.approvalRef(taskID)
		return err
	}); err != nil {
		return err
	}

	err := s.approve(ctx, ref)
	if s.metrics != nil {
		s.metrics.ApprovalsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	}
	if err != nil {
		s.logger.Error(ctx, err, "ai action approval failed", "session_id", id, "task_id", taskID)
		return err
	}

	var completed bool
	err = s.Do(id, func(sess *Session) error {
		t, ok := sess.Task(taskID)
		if !ok || t.SourceRef != ref || !sess.completed.IsLive(taskID) {
			return nil
		}
		completed = true
		return sess.MarkComplete(taskID)
	})
	if err != nil {
		// approved upstream but the session went away
		s.logger.Warn(ctx, "ai action approved after session closed", "session_id", id, "task_id", taskID, "action_id", ref)
		return err
	}

	if completed && s.metrics != nil {
		s.metrics.CompletionsTotal.WithLabelValues(string(SourceAIPending)).Inc()
	}
	s.logger.Info(ctx, "ai action approved", "session_id", id, "task_id", taskID, "action_id", ref)
	return nil
}

func (s *Service) approve(ctx context.Context, ref string) error {
	if s.approver == nil {
		return fmt.Errorf("%w: no approver configured", ErrApprovalFailed)
	}
	if err := s.approver.Approve(ctx, ref); err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	return nil
}

// SuggestDraft asks the drafter for a message for the open task and puts it in the
// draft buffer. Like any draft text it is not saved anywhere. If another task was
// opened in the meantime the suggestion is dropped with ErrSelectionChanged.
func (s *Service) SuggestDraft(ctx context.Context, id string) (string, error) {
	var task *AggregatedTask
	err := s.Do(id, func(sess *Session) error {
		task = sess.Selected()
		if task == nil {
			return ErrNoSelection
		}
		if s.drafter == nil {
			return ErrNoDrafter
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	text, err := s.drafter.SuggestDraft(ctx, task)
	if s.metrics != nil {
		s.metrics.DraftSuggestions.WithLabelValues(outcomeLabel(err)).Inc()
	}
	if err != nil {
		s.logger.Error(ctx, err, "draft suggestion failed", "session_id", id, "task_id", task.ID)
		return "", fmt.Errorf("%w: %w", ErrDraftFailed, err)
	}

	err = s.Do(id, func(sess *Session) error {
		if sess.Draft().TaskID != task.ID {
			return fmt.Errorf("%w: drafted for %q", ErrSelectionChanged, task.ID)
		}
		return sess.SetDraftText(text)
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Len returns the number of open sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// drop forgets a session without logging a close; used when Open fails half way.
func (s *Service) drop(id string) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.s.Close()
	e.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionsOpen.Dec()
	}
}

func (s *Service) entry(id string) (*sessionEntry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}
