// Package memsource serves every triage source from an in-memory fixture.
// Suitable for dev/testing.
package memsource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/linnemanlabs/taskdesk/internal/triage"
)

// Fixture is the full set of records the source serves. It is also the on-disk
// JSON format read by Load.
type Fixture struct {
	Manual     []triage.ManualTask     `json:"manual_tasks"`
	LoanIssues []triage.LoanIssue      `json:"loan_issues"`
	AIPending  []triage.AIAction       `json:"ai_pending"`
	AIWaiting  []triage.AIAction       `json:"ai_waiting"`
	Retention  []triage.RetentionAlert `json:"retention_alerts"`
	LeadAlerts []triage.LeadAlert      `json:"lead_alerts"`
	Messages   []triage.Message        `json:"messages"`
}

// Source holds a fixture in memory. It implements triage.Backend and, so that
// dev mode can exercise approvals end to end, triage.Approver.
type Source struct {
	mu sync.RWMutex
	f  Fixture
}

// New initializes a Source with a copy of f.
func New(f Fixture) *Source {
	s := &Source{}
	s.Replace(f)
	return s
}

// Load reads a JSON fixture file.
func Load(path string) (*Source, error) {
	b, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return New(f), nil
}

// Replace swaps the served records.
func (s *Source) Replace(f Fixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f = Fixture{
		Manual:     slices.Clone(f.Manual),
		LoanIssues: slices.Clone(f.LoanIssues),
		AIPending:  slices.Clone(f.AIPending),
		AIWaiting:  slices.Clone(f.AIWaiting),
		Retention:  slices.Clone(f.Retention),
		LeadAlerts: slices.Clone(f.LeadAlerts),
		Messages:   slices.Clone(f.Messages),
	}
}

// GetPrioritizedTasks implements triage.ManualTaskSource.
func (s *Source) GetPrioritizedTasks(ctx context.Context) ([]triage.ManualTask, error) {
	return read(ctx, s, func(f *Fixture) []triage.ManualTask { return f.Manual })
}

// GetLoanIssues implements triage.LoanIssueSource.
func (s *Source) GetLoanIssues(ctx context.Context) ([]triage.LoanIssue, error) {
	return read(ctx, s, func(f *Fixture) []triage.LoanIssue { return f.LoanIssues })
}

// GetPendingAIActions implements triage.PendingAIActionSource.
func (s *Source) GetPendingAIActions(ctx context.Context) ([]triage.AIAction, error) {
	return read(ctx, s, func(f *Fixture) []triage.AIAction { return f.AIPending })
}

// GetWaitingAIActions implements triage.WaitingAIActionSource.
func (s *Source) GetWaitingAIActions(ctx context.Context) ([]triage.AIAction, error) {
	return read(ctx, s, func(f *Fixture) []triage.AIAction { return f.AIWaiting })
}

// GetRetentionAlerts implements triage.RetentionAlertSource.
func (s *Source) GetRetentionAlerts(ctx context.Context) ([]triage.RetentionAlert, error) {
	return read(ctx, s, func(f *Fixture) []triage.RetentionAlert { return f.Retention })
}

// GetLeadAlerts implements triage.LeadAlertSource.
func (s *Source) GetLeadAlerts(ctx context.Context) ([]triage.LeadAlert, error) {
	return read(ctx, s, func(f *Fixture) []triage.LeadAlert { return f.LeadAlerts })
}

// GetUnreadMessages implements triage.MessageSource. Read messages are filtered out
// here the same way the CRM does.
func (s *Source) GetUnreadMessages(ctx context.Context) ([]triage.Message, error) {
	all, err := read(ctx, s, func(f *Fixture) []triage.Message { return f.Messages })
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(m triage.Message) bool { return !m.Unread }), nil
}

// Approve implements triage.Approver by moving the action out of the pending list.
func (s *Source) Approve(_ context.Context, actionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.f.AIPending, func(a triage.AIAction) bool { return a.ID == actionID })
	if i < 0 {
		return fmt.Errorf("ai action %q is not pending", actionID)
	}
	s.f.AIPending = slices.Delete(s.f.AIPending, i, i+1)
	return nil
}

// read returns a copy so callers never share the fixture's backing arrays.
func read[R any](ctx context.Context, s *Source, field func(*Fixture) []R) ([]R, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(field(&s.f)), nil
}
