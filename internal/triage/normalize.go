package triage

import (
	"strconv"
	"strings"
	"time"
)

var sourceIcons = map[SourceTag]string{
	SourceManual:        "📌",
	SourceMilestoneRisk: "⚠️",
	SourceAIPending:     "🤖",
	SourceAIWaiting:     "⏳",
	SourceRetention:     "💛",
	SourceLeadAlert:     "🎯",
	SourceMessages:      "✉️",
}

var defaultOwnerRoles = map[SourceTag]string{
	SourceManual:        "loan-officer",
	SourceMilestoneRisk: "processor",
	SourceAIPending:     "loan-officer",
	SourceAIWaiting:     "loan-officer",
	SourceRetention:     "loan-officer",
	SourceLeadAlert:     "loan-officer",
	SourceMessages:      "assistant",
}

// DefaultOwnerRole returns the role a task from the given source is assigned to before
// anyone reassigns it.
func DefaultOwnerRole(tag SourceTag) string {
	return defaultOwnerRoles[tag]
}

// TaskID builds the composite identity of the index-th record of a source.
func TaskID(tag SourceTag, index int) string {
	return string(tag) + "-" + strconv.Itoa(index)
}

// Normalize merges a snapshot into one task list. Sources are concatenated in fixed
// precedence order and each keeps its own internal order; urgency plays no part.
func Normalize(s *Snapshot) []AggregatedTask {
	if s == nil {
		return []AggregatedTask{}
	}

	out := make([]AggregatedTask, 0,
		len(s.Manual)+len(s.LoanIssues)+len(s.AIPending)+len(s.AIWaiting)+
			len(s.Retention)+len(s.LeadAlerts)+len(s.Messages))

	for i := range s.Manual {
		out = append(out, fromManualTask(i, &s.Manual[i]))
	}
	for i := range s.LoanIssues {
		out = append(out, fromLoanIssue(i, &s.LoanIssues[i]))
	}
	for i := range s.AIPending {
		out = append(out, fromAIAction(SourceAIPending, i, &s.AIPending[i]))
	}
	for i := range s.AIWaiting {
		out = append(out, fromAIAction(SourceAIWaiting, i, &s.AIWaiting[i]))
	}
	for i := range s.Retention {
		out = append(out, fromRetentionAlert(i, &s.Retention[i]))
	}
	for i := range s.LeadAlerts {
		out = append(out, fromLeadAlert(i, &s.LeadAlerts[i]))
	}
	// index is the position in the adapter's collection, read messages just leave gaps
	for i := range s.Messages {
		if !s.Messages[i].Unread {
			continue
		}
		out = append(out, fromMessage(i, &s.Messages[i]))
	}

	return out
}

func newTask(tag SourceTag, index int, ref string) AggregatedTask {
	return AggregatedTask{
		ID:                   TaskID(tag, index),
		SourceTag:            tag,
		SourceIcon:           sourceIcons[tag],
		SourceRef:            ref,
		OwnerRole:            defaultOwnerRoles[tag],
		CommunicationHistory: []CommunicationRecord{},
		Urgency:              UrgencyMedium,
	}
}

func fromManualTask(i int, m *ManualTask) AggregatedTask {
	t := newTask(SourceManual, i, m.ID)
	t.Title = m.Title
	t.Subject = optString(m.Borrower)
	t.StageLabel = m.Stage
	t.Urgency = parseUrgency(m.Priority, UrgencyMedium)
	t.SuggestedAction = optString(m.SuggestedAction)
	t.AIDraftMessage = optString(m.DraftMessage)
	t.CommunicationHistory = copyHistory(m.History)
	t.CreatedAt = optTime(m.CreatedAt)
	t.PreferredContactChannel = parseChannel(m.ContactMethod)
	return t
}

func fromLoanIssue(i int, l *LoanIssue) AggregatedTask {
	t := newTask(SourceMilestoneRisk, i, l.ID)
	t.Title = l.Issue
	if l.LoanNumber != "" {
		t.Title = "Loan " + l.LoanNumber + ": " + l.Issue
	}
	t.Subject = optString(l.BorrowerName)
	t.StageLabel = l.Milestone
	t.Urgency = parseUrgency(l.Severity, UrgencyMedium)
	t.SuggestedAction = optString(l.Recommendation)
	t.CreatedAt = optTime(l.DetectedAt)
	return t
}

func fromAIAction(tag SourceTag, i int, a *AIAction) AggregatedTask {
	t := newTask(tag, i, a.ID)
	t.Title = a.Description
	t.Subject = optString(a.ClientName)
	t.Urgency = parseUrgency(a.Priority, UrgencyMedium)
	t.AIDraftMessage = optString(a.DraftContent)
	t.CommunicationHistory = copyHistory(a.History)
	t.CreatedAt = optTime(a.CreatedAt)
	t.PreferredContactChannel = parseChannel(a.Channel)

	if tag == SourceAIWaiting {
		t.StageLabel = "Waiting on input"
		t.SuggestedAction = optString(a.Question)
	} else {
		t.StageLabel = "Pending approval"
		t.SuggestedAction = optString(humanize(a.ActionType))
	}
	return t
}

func fromRetentionAlert(i int, r *RetentionAlert) AggregatedTask {
	t := newTask(SourceRetention, i, r.ID)
	t.Title = r.Message
	if t.Title == "" {
		t.Title = humanize(r.AlertType)
	}
	t.Subject = optString(r.ClientName)
	t.StageLabel = humanize(r.AlertType)
	t.Urgency = parseUrgency(r.Urgency, UrgencyLow)
	t.SuggestedAction = optString(r.SuggestedOutreach)
	t.AIDraftMessage = optString(r.DraftMessage)
	t.CommunicationHistory = copyHistory(r.History)
	t.CreatedAt = optTime(r.CreatedAt)
	t.PreferredContactChannel = parseChannel(r.PreferredChannel)
	return t
}

func fromLeadAlert(i int, l *LeadAlert) AggregatedTask {
	t := newTask(SourceLeadAlert, i, l.ID)
	t.Title = l.Reason
	t.Subject = optString(l.LeadName)
	t.StageLabel = humanize(l.Status)
	t.Urgency = parseUrgency(l.Priority, UrgencyMedium)
	t.CreatedAt = optTime(l.CreatedAt)
	return t
}

func fromMessage(i int, m *Message) AggregatedTask {
	t := newTask(SourceMessages, i, m.ID)
	t.Title = m.Subject
	if t.Title == "" {
		t.Title = "New message from " + m.From
	}
	t.Subject = optString(m.From)
	t.StageLabel = "Unread"
	t.SuggestedAction = optString(m.Preview)
	t.CreatedAt = optTime(m.ReceivedAt)
	t.PreferredContactChannel = parseChannel(m.Channel)
	return t
}

// parseUrgency maps free-text priority and severity values onto the urgency enum.
func parseUrgency(s string, def Urgency) Urgency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "urgent":
		return UrgencyCritical
	case "high":
		return UrgencyHigh
	case "medium", "normal", "warning":
		return UrgencyMedium
	case "low", "info":
		return UrgencyLow
	default:
		return def
	}
}

func parseChannel(s string) *Channel {
	var c Channel
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		c = ChannelEmail
	case "phone", "call":
		c = ChannelPhone
	case "text", "sms":
		c = ChannelText
	default:
		return nil
	}
	return &c
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func copyHistory(h []CommunicationRecord) []CommunicationRecord {
	out := make([]CommunicationRecord, len(h))
	copy(out, h)
	return out
}

// humanize turns snake_case identifiers like "rate_drop" into "Rate drop".
func humanize(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
