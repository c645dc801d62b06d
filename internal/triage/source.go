package triage

import (
	"context"
	"time"
)

// ManualTask is an entry on the loan officer's hand-maintained priority list.
type ManualTask struct {
	ID              string                `json:"id"`
	Title           string                `json:"title"`
	Borrower        string                `json:"borrower,omitempty"`
	Stage           string                `json:"stage,omitempty"`
	Priority        string                `json:"priority,omitempty"`
	SuggestedAction string                `json:"suggested_action,omitempty"`
	DraftMessage    string                `json:"draft_message,omitempty"`
	ContactMethod   string                `json:"contact_method,omitempty"`
	History         []CommunicationRecord `json:"history,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// LoanIssue is a risk detected on a loan milestone.
type LoanIssue struct {
	ID             string    `json:"id"`
	LoanNumber     string    `json:"loan_number"`
	BorrowerName   string    `json:"borrower_name,omitempty"`
	Milestone      string    `json:"milestone,omitempty"`
	Issue          string    `json:"issue"`
	Severity       string    `json:"severity,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	DetectedAt     time.Time `json:"detected_at"`
}

// AIAction is an action proposed by the AI engine. The same shape is used for actions
// pending approval and actions waiting on human input.
type AIAction struct {
	ID           string                `json:"id"`
	ActionType   string                `json:"action_type"`
	Description  string                `json:"description"`
	ClientName   string                `json:"client_name,omitempty"`
	Priority     string                `json:"priority,omitempty"`
	Question     string                `json:"question,omitempty"`
	DraftContent string                `json:"draft_content,omitempty"`
	Channel      string                `json:"channel,omitempty"`
	History      []CommunicationRecord `json:"history,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// RetentionAlert flags a past client who is due for outreach.
type RetentionAlert struct {
	ID                string                `json:"id"`
	ClientName        string                `json:"client_name"`
	AlertType         string                `json:"alert_type"`
	Message           string                `json:"message,omitempty"`
	Urgency           string                `json:"urgency,omitempty"`
	SuggestedOutreach string                `json:"suggested_outreach,omitempty"`
	DraftMessage      string                `json:"draft_message,omitempty"`
	PreferredChannel  string                `json:"preferred_channel,omitempty"`
	History           []CommunicationRecord `json:"history,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// LeadAlert flags a lead that needs follow-up.
type LeadAlert struct {
	ID        string    `json:"id"`
	LeadName  string    `json:"lead_name"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status,omitempty"`
	Priority  string    `json:"priority,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is an inbound message notification. Only unread messages become tasks.
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Unread     bool      `json:"unread"`
	ReceivedAt time.Time `json:"received_at"`
}

// Each source adapter is a single fetch. A nil adapter contributes no records.
type (
	ManualTaskSource interface {
		GetPrioritizedTasks(ctx context.Context) ([]ManualTask, error)
	}
	LoanIssueSource interface {
		GetLoanIssues(ctx context.Context) ([]LoanIssue, error)
	}
	PendingAIActionSource interface {
		GetPendingAIActions(ctx context.Context) ([]AIAction, error)
	}
	WaitingAIActionSource interface {
		GetWaitingAIActions(ctx context.Context) ([]AIAction, error)
	}
	RetentionAlertSource interface {
		GetRetentionAlerts(ctx context.Context) ([]RetentionAlert, error)
	}
	LeadAlertSource interface {
		GetLeadAlerts(ctx context.Context) ([]LeadAlert, error)
	}
	MessageSource interface {
		GetUnreadMessages(ctx context.Context) ([]Message, error)
	}
)

// Backend is implemented by adapters that serve every source from one place.
type Backend interface {
	ManualTaskSource
	LoanIssueSource
	PendingAIActionSource
	WaitingAIActionSource
	RetentionAlertSource
	LeadAlertSource
	MessageSource
}

// Sources wires one adapter per source slot.
type Sources struct {
	Manual     ManualTaskSource
	LoanIssues LoanIssueSource
	AIPending  PendingAIActionSource
	AIWaiting  WaitingAIActionSource
	Retention  RetentionAlertSource
	LeadAlerts LeadAlertSource
	Messages   MessageSource
}

// SourcesFrom fills every slot from a single backend.
func SourcesFrom(b Backend) Sources {
	return Sources{
		Manual:     b,
		LoanIssues: b,
		AIPending:  b,
		AIWaiting:  b,
		Retention:  b,
		LeadAlerts: b,
		Messages:   b,
	}
}

// Snapshot holds the raw collections of one refresh pass.
type Snapshot struct {
	Manual     []ManualTask
	LoanIssues []LoanIssue
	AIPending  []AIAction
	AIWaiting  []AIAction
	Retention  []RetentionAlert
	LeadAlerts []LeadAlert
	Messages   []Message

	// Failed lists the sources that contributed nothing because their fetch failed.
	Failed []SourceTag
}
