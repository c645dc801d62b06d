package triage

import "time"

// Urgency is the display priority of an aggregated task. It is never used for ordering.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// SourceTag identifies which adapter produced a task. It doubles as the id prefix.
type SourceTag string

const (
	// SourceManual is the hand-maintained priority list
	SourceManual SourceTag = "manual-priority"

	// SourceMilestoneRisk is loan milestone risk alerts
	SourceMilestoneRisk SourceTag = "milestone-risk"

	// SourceAIPending is AI actions waiting for approval
	SourceAIPending SourceTag = "ai-pending"

	// SourceAIWaiting is AI actions blocked on human input
	SourceAIWaiting SourceTag = "ai-waiting"

	// SourceRetention is client-for-life retention alerts
	SourceRetention SourceTag = "client-for-life"

	// SourceLeadAlert is lead follow-up alerts
	SourceLeadAlert SourceTag = "lead-alert"

	// SourceMessages is unread inbound messages
	SourceMessages SourceTag = "message"
)

// sourceOrder is the fixed merge precedence used by Normalize.
var sourceOrder = []SourceTag{
	SourceManual,
	SourceMilestoneRisk,
	SourceAIPending,
	SourceAIWaiting,
	SourceRetention,
	SourceLeadAlert,
	SourceMessages,
}

// SourceTags returns the source tags in merge precedence order.
func SourceTags() []SourceTag {
	out := make([]SourceTag, len(sourceOrder))
	copy(out, sourceOrder)
	return out
}

// Channel is a contact channel for communication records and preferred contact.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
	ChannelText  Channel = "text"
)

// CommunicationRecord is one past contact with the task's subject. Adapters produce
// these and nothing downstream mutates them.
type CommunicationRecord struct {
	Date    time.Time `json:"date"`
	Channel Channel   `json:"type"`
	Subject string    `json:"subject"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// AggregatedTask is the canonical record every source is normalized into.
type AggregatedTask struct {
	ID                      string                `json:"id"`
	Title                   string                `json:"title"`
	Subject                 *string               `json:"subject"`
	StageLabel              string                `json:"stage_label"`
	Urgency                 Urgency               `json:"urgency"`
	SourceTag               SourceTag             `json:"source_tag"`
	SourceIcon              string                `json:"source_icon"`
	SourceRef               string                `json:"source_ref,omitempty"`
	SuggestedAction         *string               `json:"suggested_action"`
	AIDraftMessage          *string               `json:"ai_draft_message"`
	CommunicationHistory    []CommunicationRecord `json:"communication_history"`
	CreatedAt               *time.Time            `json:"created_at"`
	PreferredContactChannel *Channel              `json:"preferred_contact_channel"`
	OwnerRole               string                `json:"owner_role"`
}

// SubjectName returns the subject or an empty string.
func (t *AggregatedTask) SubjectName() string {
	if t.Subject == nil {
		return ""
	}
	return *t.Subject
}

// DraftBuffer is scratch state for the open task's outbound message. Nothing saves it:
// changing the selection throws the text away.
type DraftBuffer struct {
	TaskID  string `json:"task_id,omitempty"`
	Text    string `json:"text"`
	Editing bool   `json:"editing"`
}
