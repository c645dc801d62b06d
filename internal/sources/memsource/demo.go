package memsource

import (
	"time"

	"github.com/linnemanlabs/taskdesk/internal/triage"
)

// Demo returns a small book of business with at least one record per source,
// anchored on now. Used when the server runs in memory mode without a fixture file.
func Demo(now time.Time) Fixture {
	day := 24 * time.Hour
	return Fixture{
		Manual: []triage.ManualTask{
			{
				ID: "mt-101", Title: "Collect updated pay stubs", Borrower: "Jordan Avery", Stage: "Processing",
				Priority: "high", SuggestedAction: "Email the borrower a document request",
				DraftMessage:  "Hi Jordan, could you send your two most recent pay stubs so we can keep underwriting on track?",
				ContactMethod: "email", CreatedAt: now.Add(-2 * day),
				History: []triage.CommunicationRecord{
					{Date: now.Add(-3 * day), Channel: triage.ChannelEmail, Subject: "Document checklist", Status: "sent", Message: "Attached is the checklist for your file."},
					{Date: now.Add(-1 * day), Channel: triage.ChannelPhone, Subject: "Status call", Status: "completed", Message: "Borrower said stubs are coming this week."},
				},
			},
			{ID: "mt-102", Title: "Review title commitment", Borrower: "Priya Natarajan", Stage: "Title", Priority: "medium", CreatedAt: now.Add(-day)},
		},
		LoanIssues: []triage.LoanIssue{
			{
				ID: "li-7", LoanNumber: "104882", BorrowerName: "Marcus Bell", Milestone: "Underwriting",
				Issue: "Rate lock expires in 3 days", Severity: "critical",
				Recommendation: "Request a lock extension or push for clear to close", DetectedAt: now.Add(-4 * time.Hour),
			},
		},
		AIPending: []triage.AIAction{
			{
				ID: "ai-501", ActionType: "send_follow_up", Description: "Follow up on missing bank statement",
				ClientName: "Priya Natarajan", Priority: "high", Channel: "text",
				DraftContent: "Hi Priya, we're still missing the March statement for your savings account. Could you upload it today?",
				CreatedAt:    now.Add(-90 * time.Minute),
				History: []triage.CommunicationRecord{
					{Date: now.Add(-2 * day), Channel: triage.ChannelText, Subject: "Statement request", Status: "delivered", Message: "Please upload your last two bank statements."},
				},
			},
		},
		AIWaiting: []triage.AIAction{
			{
				ID: "ai-502", ActionType: "clarify_income", Description: "Income source needs confirmation",
				ClientName: "Marcus Bell", Question: "Should bonus income be counted for this file?", CreatedAt: now.Add(-3 * time.Hour),
			},
		},
		Retention: []triage.RetentionAlert{
			{
				ID: "ra-31", ClientName: "Elena Ruiz", AlertType: "rate_drop", Message: "Rates are 0.75% below her current note",
				Urgency: "medium", SuggestedOutreach: "Offer a refinance review",
				DraftMessage:     "Hi Elena, rates have moved quite a bit since you closed. Want to look at the numbers together?",
				PreferredChannel: "phone", CreatedAt: now.Add(-6 * time.Hour),
				History: []triage.CommunicationRecord{
					{Date: now.Add(-180 * day), Channel: triage.ChannelEmail, Subject: "Happy homeiversary", Status: "opened", Message: "One year in your home already!"},
				},
			},
		},
		LeadAlerts: []triage.LeadAlert{
			{ID: "la-9", LeadName: "Sam Okafor", Reason: "Pre-approval expiring in 10 days", Status: "pre_approved", Priority: "medium", CreatedAt: now.Add(-day)},
		},
		Messages: []triage.Message{
			{ID: "msg-88", From: "Jordan Avery", Subject: "Question about closing costs", Preview: "Is the appraisal fee included in...", Channel: "email", Unread: true, ReceivedAt: now.Add(-30 * time.Minute)},
			{ID: "msg-89", From: "Title Co.", Subject: "Commitment attached", Channel: "email", Unread: false, ReceivedAt: now.Add(-5 * time.Hour)},
		},
	}
}
