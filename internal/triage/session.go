package triage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownView is returned when a command names a view that does not exist.
	ErrUnknownView = errors.New("unknown view")

	// ErrUnknownTask is returned when a command names a task that is not addressable.
	ErrUnknownTask = errors.New("unknown task")

	// ErrNoSelection is returned by draft commands when no task is open.
	ErrNoSelection = errors.New("no task selected")

	// ErrNotApprovable is returned when approval is requested for a task that is not
	// an AI action pending approval.
	ErrNotApprovable = errors.New("task is not an AI action pending approval")

	// ErrApprovalFailed wraps errors from the approval collaborator.
	ErrApprovalFailed = errors.New("approval failed")
)

// Approver forwards approval of an AI action to the system that owns AI actions.
type Approver interface {
	Approve(ctx context.Context, actionID string) error
}

// Session is the triage state of one open task list. It is not safe for concurrent
// use; Service serialises access. Commands that name something that does not exist
// return an error and leave the session untouched.
type Session struct {
	approver Approver

	tasks     []AggregatedTask
	completed *CompletionSet
	owners    map[string]string

	active   View
	selected string
	draft    DraftBuffer

	generation uint64
	loaded     bool
	closed     bool
}

// NewSession creates an empty session on the outstanding view. approver may be nil,
// in which case every approval fails.
func NewSession(approver Approver) *Session {
	return &Session{
		approver:  approver,
		tasks:     []AggregatedTask{},
		completed: NewCompletionSet(),
		owners:    make(map[string]string),
		active:    ViewOutstanding,
	}
}

// BeginRefresh starts a refresh pass and returns its generation. Only the snapshot of
// the most recent pass can be applied.
func (s *Session) BeginRefresh() uint64 {
	s.generation++
	return s.generation
}

// Apply installs a snapshot fetched for generation gen. It reports false, and changes
// nothing, when the session was closed or a newer refresh began in the meantime.
func (s *Session) Apply(gen uint64, snap *Snapshot) bool {
	if s.closed || gen != s.generation {
		return false
	}

	tasks := Normalize(snap)
	for i := range tasks {
		if role, ok := s.owners[tasks[i].ID]; ok {
			tasks[i].OwnerRole = role
		}
	}
	s.tasks = tasks

	if !s.loaded {
		s.loaded = true
		s.resetSelection()
		return true
	}

	// keep the open task if the refresh did not take it out of the current view
	if s.selected != "" && s.indexInView(s.selected) >= 0 {
		return true
	}
	s.resetSelection()
	return true
}

// Load applies a snapshot synchronously.
func (s *Session) Load(snap *Snapshot) {
	s.Apply(s.BeginRefresh(), snap)
}

// Close ends the session. Snapshots still in flight are discarded when they arrive.
func (s *Session) Close() {
	s.closed = true
	s.generation++
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed
}

// Loaded reports whether any snapshot has been applied.
func (s *Session) Loaded() bool {
	return s.loaded
}

// ActiveView returns the current tab.
func (s *Session) ActiveView() View {
	return s.active
}

// View returns the live tasks of a view in normalized order.
func (s *Session) View(v View) []AggregatedTask {
	return Compute(v, s.completed.Live(s.tasks))
}

// Count returns the badge count of a view. It is always len(View(v)).
func (s *Session) Count(v View) int {
	return len(s.View(v))
}

// Counts returns the badge count of every view.
func (s *Session) Counts() map[View]int {
	live := s.completed.Live(s.tasks)
	out := make(map[View]int, len(viewTags))
	for _, v := range Views() {
		out[v] = len(Compute(v, live))
	}
	return out
}

// Task returns a copy of a task by id, completed or not.
func (s *Session) Task(id string) (*AggregatedTask, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return nil, false
	}
	t := s.tasks[i]
	return &t, true
}

// Selected returns a copy of the open task, or nil when the active view is empty.
func (s *Session) Selected() *AggregatedTask {
	if s.selected == "" {
		return nil
	}
	t, _ := s.Task(s.selected)
	return t
}

// Draft returns the draft buffer of the open task.
func (s *Session) Draft() DraftBuffer {
	return s.draft
}

// CompletedCount returns how many tasks were completed in this session.
func (s *Session) CompletedCount() int {
	return s.completed.Len()
}

// SelectView switches tab and opens the first task of the new tab.
func (s *Session) SelectView(v View) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownView, v)
	}
	s.active = v
	s.resetSelection()
	return nil
}

// SelectTask opens a task of the active view.
func (s *Session) SelectTask(id string) error {
	if s.indexInView(id) < 0 {
		return fmt.Errorf("%w: %q not in view %s", ErrUnknownTask, id, s.active)
	}
	s.setSelection(id)
	return nil
}

// MarkComplete removes a task from every view for the rest of the session. Completing
// the open task opens its successor in the active view, or its predecessor when it was
// last. Completing an already completed task is a no-op.
func (s *Session) MarkComplete(id string) error {
	if s.indexOf(id) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	if !s.completed.IsLive(id) {
		return nil
	}

	// neighbours come from the list as it stood before removal
	before := s.View(s.active)
	s.completed.Add(id)

	if id != s.selected {
		return nil
	}

	next := ""
	for i := range before {
		if before[i].ID != id {
			continue
		}
		switch {
		case i+1 < len(before):
			next = before[i+1].ID
		case i > 0:
			next = before[i-1].ID
		}
		break
	}
	s.setSelection(next)
	return nil
}

// SetOwnerRole reassigns a task. The assignment survives refreshes.
func (s *Session) SetOwnerRole(id, role string) error {
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	s.owners[id] = role
	s.tasks[i].OwnerRole = role
	return nil
}

// SetDraftText replaces the open task's draft text. The text is scratch state: it is
// never saved and is lost when another task is opened.
func (s *Session) SetDraftText(text string) error {
	if s.selected == "" {
		return ErrNoSelection
	}
	s.draft.Text = text
	return nil
}

// ToggleEditing flips the draft between edit and view mode without touching its text.
func (s *Session) ToggleEditing() error {
	if s.selected == "" {
		return ErrNoSelection
	}
	s.draft.Editing = !s.draft.Editing
	return nil
}

// ApproveAIAction asks the approver to approve a pending AI action and, when it
// succeeds, completes the task. A failed approval leaves the session unchanged.
func (s *Session) ApproveAIAction(ctx context.Context, id string) error {
	ref, err := s.approvalRef(id)
	if err != nil {
		return err
	}
	if s.approver == nil {
		return fmt.Errorf("%w: no approver configured", ErrApprovalFailed)
	}
	if err := s.approver.Approve(ctx, ref); err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	return s.MarkComplete(id)
}

// approvalRef returns the native action id of a live ai-pending task.
func (s *Session) approvalRef(id string) (string, error) {
	i := s.indexOf(id)
	if i < 0 || !s.completed.IsLive(id) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	t := &s.tasks[i]
	if t.SourceTag != SourceAIPending {
		return "", fmt.Errorf("%w: %q", ErrNotApprovable, id)
	}
	return t.SourceRef, nil
}

func (s *Session) resetSelection() {
	view := s.View(s.active)
	if len(view) == 0 {
		s.setSelection("")
		return
	}
	s.setSelection(view[0].ID)
}

// setSelection moves the pointer. The draft is rebuilt only when the pointer changes.
func (s *Session) setSelection(id string) {
	if id == s.selected {
		return
	}
	s.selected = id
	s.draft = DraftBuffer{TaskID: id}
	if t, ok := s.Task(id); ok && t.AIDraftMessage != nil {
		s.draft.Text = *t.AIDraftMessage
	}
}

func (s *Session) indexOf(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) indexInView(id string) int {
	view := s.View(s.active)
	for i := range view {
		if view[i].ID == id {
			return i
		}
	}
	return -1
}
