package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"
)

type mockDrafter struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []string
}

func (m *mockDrafter) SuggestDraft(_ context.Context, task *AggregatedTask) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, task.ID)
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

func newTestService(t *testing.T, b *fakeBackend, approver Approver, drafter Drafter) (*Service, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	agg := NewAggregator(SourcesFrom(b), time.Second, log.Nop(), m.Hooks())
	return NewService(agg, approver, drafter, log.Nop(), m), reg
}

// metricValue sums every sample of a counter or gauge family whose labels include want.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestService_OpenLoadsTasks(t *testing.T) {
	t.Parallel()

	svc, reg := newTestService(t, newFakeBackend(testSnapshot()), &mockApprover{}, nil)

	id, rr, err := svc.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if id == "" {
		t.Fatal("Open returned empty id")
	}
	if !rr.Applied || len(rr.Failed) != 0 {
		t.Errorf("RefreshResult = %+v, want applied with no failures", rr)
	}

	var count int
	var selected string
	err = svc.Do(id, func(s *Session) error {
		count = s.Count(ViewOutstanding)
		selected = selectedID(s)
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if count != 9 {
		t.Errorf("outstanding = %d, want 9", count)
	}
	if selected != "manual-priority-0" {
		t.Errorf("selected = %q, want manual-priority-0", selected)
	}
	if svc.Len() != 1 {
		t.Errorf("Len = %d, want 1", svc.Len())
	}
	if got := metricValue(t, reg, "taskdesk_sessions_open", nil); got != 1 {
		t.Errorf("sessions_open = %v, want 1", got)
	}
}

func TestService_OpenSurvivesSourceFailures(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	b.errs[SourceManual] = errors.New("500")
	b.errs[SourceRetention] = errors.New("timeout")
	svc, reg := newTestService(t, b, nil, nil)

	id, rr, err := svc.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(rr.Failed) != 2 {
		t.Errorf("Failed = %v, want 2 sources", rr.Failed)
	}

	_ = svc.Do(id, func(s *Session) error {
		if got := s.Count(ViewOutstanding); got != 6 {
			t.Errorf("outstanding = %d, want 6", got)
		}
		return nil
	})

	if got := metricValue(t, reg, "taskdesk_source_fetches_total", map[string]string{"outcome": "error"}); got != 2 {
		t.Errorf("failed fetches = %v, want 2", got)
	}
}

func TestService_CloseRemovesSession(t *testing.T) {
	t.Parallel()

	svc, reg := newTestService(t, newFakeBackend(testSnapshot()), nil, nil)
	ctx := context.Background()

	id, _, err := svc.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := svc.Close(ctx, id); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := svc.Do(id, func(*Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Do after Close err = %v, want ErrSessionNotFound", err)
	}
	if _, err := svc.Refresh(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Refresh after Close err = %v, want ErrSessionNotFound", err)
	}
	if err := svc.Close(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Close err = %v, want ErrSessionNotFound", err)
	}
	if got := metricValue(t, reg, "taskdesk_sessions_open", nil); got != 0 {
		t.Errorf("sessions_open = %v, want 0", got)
	}
}

func TestService_RefreshAfterCloseIsDiscarded(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	svc, reg := newTestService(t, b, nil, nil)
	ctx := context.Background()

	id, _, err := svc.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	b.mu.Lock()
	b.delay[SourceManual] = 300 * time.Millisecond
	b.mu.Unlock()

	done := make(chan *RefreshResult, 1)
	go func() {
		rr, err := svc.Refresh(ctx, id)
		if err != nil {
			t.Errorf("Refresh: %v", err)
		}
		done <- rr
	}()

	time.Sleep(50 * time.Millisecond)
	if err := svc.Close(ctx, id); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case rr := <-done:
		if rr != nil && rr.Applied {
			t.Error("refresh applied to a closed session")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not return")
	}

	if got := metricValue(t, reg, "taskdesk_stale_refreshes_total", nil); got != 1 {
		t.Errorf("stale_refreshes_total = %v, want 1", got)
	}
}

func TestService_CommandsRunWhileRefreshInFlight(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	svc, _ := newTestService(t, b, nil, nil)
	ctx := context.Background()

	id, _, err := svc.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	b.mu.Lock()
	b.delay[SourceMessages] = 300 * time.Millisecond
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Refresh(ctx, id)
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	if err := svc.MarkComplete(ctx, id, "manual-priority-0"); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("MarkComplete blocked %v behind the refresh", elapsed)
	}
	<-done

	// completion persists through the refresh that was in flight
	_ = svc.Do(id, func(s *Session) error {
		for _, task := range s.View(ViewOutstanding) {
			if task.ID == "manual-priority-0" {
				t.Error("completed task reappeared after refresh")
			}
		}
		return nil
	})
}

func TestService_MarkCompleteCountsOnce(t *testing.T) {
	t.Parallel()

	svc, reg := newTestService(t, newFakeBackend(testSnapshot()), nil, nil)
	ctx := context.Background()

	id, _, _ := svc.Open(ctx)
	for range 3 {
		if err := svc.MarkComplete(ctx, id, "lead-alert-0"); err != nil {
			t.Fatalf("MarkComplete: %v", err)
		}
	}
	if err := svc.MarkComplete(ctx, id, "lead-alert-99"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("unknown task err = %v, want ErrUnknownTask", err)
	}

	if got := metricValue(t, reg, "taskdesk_completions_total", map[string]string{"source": "lead-alert"}); got != 1 {
		t.Errorf("completions_total = %v, want 1", got)
	}
}

func TestService_ApproveAIAction(t *testing.T) {
	t.Parallel()

	approver := &mockApprover{}
	svc, reg := newTestService(t, newFakeBackend(testSnapshot()), approver, nil)
	ctx := context.Background()

	id, _, _ := svc.Open(ctx)
	if err := svc.ApproveAIAction(ctx, id, "ai-pending-0"); err != nil {
		t.Fatalf("ApproveAIAction: %v", err)
	}
	if len(approver.approved) != 1 || approver.approved[0] != "a-1" {
		t.Errorf("approved = %v, want [a-1]", approver.approved)
	}
	if got := metricValue(t, reg, "taskdesk_ai_approvals_total", map[string]string{"outcome": "success"}); got != 1 {
		t.Errorf("approvals success = %v, want 1", got)
	}

	if err := svc.ApproveAIAction(ctx, id, "ai-waiting-0"); !errors.Is(err, ErrNotApprovable) {
		t.Errorf("waiting action err = %v, want ErrNotApprovable", err)
	}
}

func TestService_ApproveAIActionFailure(t *testing.T) {
	t.Parallel()

	approver := &mockApprover{err: errors.New("approvals service down")}
	svc, reg := newTestService(t, newFakeBackend(testSnapshot()), approver, nil)
	ctx := context.Background()

	id, _, _ := svc.Open(ctx)
	err := svc.ApproveAIAction(ctx, id, "ai-pending-0")
	if !errors.Is(err, ErrApprovalFailed) {
		t.Fatalf("err = %v, want ErrApprovalFailed", err)
	}

	_ = svc.Do(id, func(s *Session) error {
		if s.CompletedCount() != 0 {
			t.Errorf("CompletedCount = %d, want 0", s.CompletedCount())
		}
		return nil
	})
	if got := metricValue(t, reg, "taskdesk_ai_approvals_total", map[string]string{"outcome": "error"}); got != 1 {
		t.Errorf("approvals error = %v, want 1", got)
	}
}

func TestService_SuggestDraft(t *testing.T) {
	t.Parallel()

	drafter := &mockDrafter{text: "Hi Dana, quick update on the appraisal."}
	svc, _ := newTestService(t, newFakeBackend(testSnapshot()), nil, drafter)
	ctx := context.Background()

	id, _, _ := svc.Open(ctx)
	text, err := svc.SuggestDraft(ctx, id)
	if err != nil {
		t.Fatalf("SuggestDraft: %v", err)
	}
	if text != drafter.text {
		t.Errorf("text = %q, want %q", text, drafter.text)
	}
	if len(drafter.calls) != 1 || drafter.calls[0] != "manual-priority-0" {
		t.Errorf("drafter calls = %v", drafter.calls)
	}

	_ = svc.Do(id, func(s *Session) error {
		if d := s.Draft(); d.Text != drafter.text {
			t.Errorf("draft text = %q, want suggestion", d.Text)
		}
		return nil
	})
}

func TestService_SuggestDraftErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no drafter", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, newFakeBackend(testSnapshot()), nil, nil)
		id, _, _ := svc.Open(ctx)
		if _, err := svc.SuggestDraft(ctx, id); !errors.Is(err, ErrNoDrafter) {
			t.Errorf("err = %v, want ErrNoDrafter", err)
		}
	})

	t.Run("no selection", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, newFakeBackend(&Snapshot{}), nil, &mockDrafter{text: "x"})
		id, _, _ := svc.Open(ctx)
		if _, err := svc.SuggestDraft(ctx, id); !errors.Is(err, ErrNoSelection) {
			t.Errorf("err = %v, want ErrNoSelection", err)
		}
	})

	t.Run("drafter error keeps draft", func(t *testing.T) {
		t.Parallel()
		svc, reg := newTestService(t, newFakeBackend(testSnapshot()), nil, &mockDrafter{err: errors.New("rate limited")})
		id, _, _ := svc.Open(ctx)
		if _, err := svc.SuggestDraft(ctx, id); err == nil {
			t.Fatal("expected error")
		}
		_ = svc.Do(id, func(s *Session) error {
			if d := s.Draft(); d.Text != "Hi, checking on the appraisal." {
				t.Errorf("draft text = %q, want original", d.Text)
			}
			return nil
		})
		if got := metricValue(t, reg, "taskdesk_draft_suggestions_total", map[string]string{"outcome": "error"}); got != 1 {
			t.Errorf("draft_suggestions error = %v, want 1", got)
		}
	})
}

func TestService_UnknownSession(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, newFakeBackend(testSnapshot()), nil, nil)
	ctx := context.Background()

	if err := svc.MarkComplete(ctx, "nope", "manual-priority-0"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("MarkComplete err = %v", err)
	}
	if err := svc.ApproveAIAction(ctx, "nope", "ai-pending-0"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ApproveAIAction err = %v", err)
	}
	if _, err := svc.SuggestDraft(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SuggestDraft err = %v", err)
	}
}

func TestService_CancelledRefreshKeepsTasks(t *testing.T) {
	t.Parallel()

	svc, reg := newTestService(t, newFakeBackend(testSnapshot()), nil, nil)
	id, _, err := svc.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := svc.Do(id, func(s *Session) error { return s.SelectTask("manual-priority-1") }); err != nil {
		t.Fatalf("SelectTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Refresh(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("Refresh err = %v, want context.Canceled", err)
	}

	_ = svc.Do(id, func(s *Session) error {
		if got := s.Count(ViewOutstanding); got != 9 {
			t.Errorf("outstanding = %d, want 9", got)
		}
		if got := selectedID(s); got != "manual-priority-1" {
			t.Errorf("selected = %q, want manual-priority-1", got)
		}
		return nil
	})
	if got := metricValue(t, reg, "taskdesk_stale_refreshes_total", nil); got != 0 {
		t.Errorf("stale_refreshes = %v, want 0", got)
	}
}

func TestService_OpenWithCancelledContext(t *testing.T) {
	t.Parallel()

	svc, reg := newTestService(t, newFakeBackend(testSnapshot()), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := svc.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Open err = %v, want context.Canceled", err)
	}
	if svc.Len() != 0 {
		t.Errorf("Len = %d, want 0", svc.Len())
	}
	if got := metricValue(t, reg, "taskdesk_sessions_open", nil); got != 0 {
		t.Errorf("sessions_open = %v, want 0", got)
	}
}

func TestService_SuggestDraftFailureIsWrapped(t *testing.T) {
	t.Parallel()

	cause := errors.New("overloaded")
	svc, _ := newTestService(t, newFakeBackend(testSnapshot()), nil, &mockDrafter{err: cause})
	id, _, _ := svc.Open(context.Background())

	_, err := svc.SuggestDraft(context.Background(), id)
	if !errors.Is(err, ErrDraftFailed) || !errors.Is(err, cause) {
		t.Errorf("err = %v, want ErrDraftFailed wrapping the drafter error", err)
	}
}

// blockingDrafter hands control back to the test while a suggestion is in flight.
type blockingDrafter struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDrafter) SuggestDraft(ctx context.Context, _ *AggregatedTask) (string, error) {
	close(d.started)
	select {
	case <-d.release:
		return "late suggestion", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestService_SuggestDraftDoesNotBlockCommands(t *testing.T) {
	t.Parallel()

	d := &blockingDrafter{started: make(chan struct{}), release: make(chan struct{})}
	svc, _ := newTestService(t, newFakeBackend(testSnapshot()), nil, d)
	id, _, _ := svc.Open(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := svc.SuggestDraft(context.Background(), id)
		errc <- err
	}()
	<-d.started

	// the session stays usable while the drafter runs
	if err := svc.Do(id, func(s *Session) error { return s.SelectTask("manual-priority-1") }); err != nil {
		t.Fatalf("SelectTask during draft: %v", err)
	}
	close(d.release)

	if err := <-errc; !errors.Is(err, ErrSelectionChanged) {
		t.Fatalf("err = %v, want ErrSelectionChanged", err)
	}
	_ = svc.Do(id, func(s *Session) error {
		if d := s.Draft(); d.TaskID != "manual-priority-1" || d.Text != "" {
			t.Errorf("draft = %+v, want untouched buffer of manual-priority-1", d)
		}
		return nil
	})
}

// sessionTouchingApprover runs a command on the session from inside Approve.
type sessionTouchingApprover struct {
	svc *Service
	id  string
	err error
}

func (a *sessionTouchingApprover) Approve(context.Context, string) error {
	a.err = a.svc.Do(a.id, func(s *Session) error { return s.SelectView(ViewAIApproval) })
	return nil
}

func TestService_ApproveAIActionReleasesSession(t *testing.T) {
	t.Parallel()

	approver := &sessionTouchingApprover{}
	svc, _ := newTestService(t, newFakeBackend(testSnapshot()), approver, nil)
	id, _, _ := svc.Open(context.Background())
	approver.svc, approver.id = svc, id

	done := make(chan error, 1)
	go func() { done <- svc.ApproveAIAction(context.Background(), id, "ai-pending-0") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ApproveAIAction: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ApproveAIAction held the session lock across the approver call")
	}
	if approver.err != nil {
		t.Errorf("command inside Approve: %v", approver.err)
	}

	_ = svc.Do(id, func(s *Session) error {
		if s.CompletedCount() != 1 || s.Count(ViewAIApproval) != 1 {
			t.Errorf("completed = %d, ai view = %d", s.CompletedCount(), s.Count(ViewAIApproval))
		}
		if got := selectedID(s); got != "ai-waiting-0" {
			t.Errorf("selected = %q, want ai-waiting-0", got)
		}
		return nil
	})
}

// renumberingApprover swaps the backend contents so the next refresh puts a different
// action at ai-pending-0, then refreshes the session before returning.
type renumberingApprover struct {
	svc *Service
	b   *fakeBackend
	id  string
}

func (a *renumberingApprover) Approve(ctx context.Context, _ string) error {
	snap := testSnapshot()
	snap.AIPending = []AIAction{{ID: "a-9", ActionType: "send_follow_up", Description: "Newer action"}}
	a.b.mu.Lock()
	a.b.snap = snap
	a.b.mu.Unlock()
	_, err := a.svc.Refresh(ctx, a.id)
	return err
}

func TestService_ApproveAIActionSkipsRenumberedTask(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	approver := &renumberingApprover{b: b}
	svc, _ := newTestService(t, b, approver, nil)
	id, _, _ := svc.Open(context.Background())
	approver.svc, approver.id = svc, id

	if err := svc.ApproveAIAction(context.Background(), id, "ai-pending-0"); err != nil {
		t.Fatalf("ApproveAIAction: %v", err)
	}
	_ = svc.Do(id, func(s *Session) error {
		if s.CompletedCount() != 0 {
			t.Errorf("CompletedCount = %d, want 0: a-9 was never approved", s.CompletedCount())
		}
		return nil
	})
}
