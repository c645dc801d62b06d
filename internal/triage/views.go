package triage

import "slices"

// View names a tab of the task queue.
type View string

const (
	ViewOutstanding    View = "outstanding"
	ViewAIApproval     View = "ai-approval"
	ViewReconciliation View = "reconciliation"
	ViewMessages       View = "messages"
	ViewRetention      View = "retention"
)

// viewTags maps each view onto the sources it shows. A nil entry means every source.
var viewTags = map[View][]SourceTag{
	ViewOutstanding:    nil,
	ViewAIApproval:     {SourceAIPending, SourceAIWaiting},
	ViewReconciliation: {SourceMilestoneRisk},
	ViewMessages:       {SourceMessages},
	ViewRetention:      {SourceRetention},
}

// Views returns every view in tab order.
func Views() []View {
	return []View{ViewOutstanding, ViewAIApproval, ViewReconciliation, ViewMessages, ViewRetention}
}

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	_, ok := viewTags[v]
	return ok
}

// Compute returns the tasks of live that belong to view, in their original order.
// Unknown views select nothing.
func Compute(view View, live []AggregatedTask) []AggregatedTask {
	tags, ok := viewTags[view]
	if !ok {
		return []AggregatedTask{}
	}
	out := make([]AggregatedTask, 0, len(live))
	for i := range live {
		if tags == nil || slices.Contains(tags, live[i].SourceTag) {
			out = append(out, live[i])
		}
	}
	return out
}

// CompletionSet records completed task ids for a session. It only grows.
type CompletionSet struct {
	ids map[string]struct{}
}

// NewCompletionSet returns an empty set.
func NewCompletionSet() *CompletionSet {
	return &CompletionSet{ids: make(map[string]struct{})}
}

// Add marks id complete and reports whether it was newly added.
func (c *CompletionSet) Add(id string) bool {
	if _, ok := c.ids[id]; ok {
		return false
	}
	c.ids[id] = struct{}{}
	return true
}

// IsLive reports whether id has not been completed.
func (c *CompletionSet) IsLive(id string) bool {
	_, done := c.ids[id]
	return !done
}

// Len returns the number of completed ids.
func (c *CompletionSet) Len() int {
	return len(c.ids)
}

// Live filters tasks down to those not completed, preserving order.
func (c *CompletionSet) Live(tasks []AggregatedTask) []AggregatedTask {
	out := make([]AggregatedTask, 0, len(tasks))
	for i := range tasks {
		if c.IsLive(tasks[i].ID) {
			out = append(out, tasks[i])
		}
	}
	return out
}
