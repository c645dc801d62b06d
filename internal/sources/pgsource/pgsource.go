// Package pgsource reads triage source records from PostgreSQL.
package pgsource

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/taskdesk/internal/postgres"
	"github.com/linnemanlabs/taskdesk/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/taskdesk/internal/sources/pgsource")

//go:embed schema.sql
var schema string

// ErrNotPending is returned by Approve when the action is missing or no longer pending.
var ErrNotPending = errors.New("ai action is not pending")

// Source implements triage.Backend and triage.Approver on a pgx pool.
type Source struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool is owned by the caller.
func New(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

// ApplySchema creates the source tables if they do not exist.
func (s *Source) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(postgres.WithQueryName(ctx, "apply_schema"), schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const manualTaskQuery = `SELECT id, title, COALESCE(borrower, ''), COALESCE(stage, ''), COALESCE(priority, ''),
	COALESCE(suggested_action, ''), COALESCE(draft_message, ''), COALESCE(contact_method, ''),
	COALESCE(history, '[]'::jsonb), created_at
	FROM manual_tasks ORDER BY position, id`

// GetPrioritizedTasks implements triage.ManualTaskSource.
func (s *Source) GetPrioritizedTasks(ctx context.Context) ([]triage.ManualTask, error) {
	return query(ctx, s, "manual_tasks", manualTaskQuery, nil, func(row pgx.CollectableRow) (triage.ManualTask, error) {
		var t triage.ManualTask
		err := row.Scan(&t.ID, &t.Title, &t.Borrower, &t.Stage, &t.Priority,
			&t.SuggestedAction, &t.DraftMessage, &t.ContactMethod, &t.History, &t.CreatedAt)
		return t, err
	})
}

const loanIssueQuery = `SELECT id, loan_number, COALESCE(borrower_name, ''), COALESCE(milestone, ''), issue,
	COALESCE(severity, ''), COALESCE(recommendation, ''), detected_at
	FROM loan_issues ORDER BY detected_at, id`

// GetLoanIssues implements triage.LoanIssueSource.
func (s *Source) GetLoanIssues(ctx context.Context) ([]triage.LoanIssue, error) {
	return query(ctx, s, "loan_issues", loanIssueQuery, nil, func(row pgx.CollectableRow) (triage.LoanIssue, error) {
		var li triage.LoanIssue
		err := row.Scan(&li.ID, &li.LoanNumber, &li.BorrowerName, &li.Milestone, &li.Issue,
			&li.Severity, &li.Recommendation, &li.DetectedAt)
		return li, err
	})
}

const aiActionQuery = `SELECT id, action_type, description, COALESCE(client_name, ''), COALESCE(priority, ''),
	COALESCE(question, ''), COALESCE(draft_content, ''), COALESCE(channel, ''),
	COALESCE(history, '[]'::jsonb), created_at
	FROM ai_actions WHERE status = $1 ORDER BY created_at, id`

func scanAIAction(row pgx.CollectableRow) (triage.AIAction, error) {
	var a triage.AIAction
	err := row.Scan(&a.ID, &a.ActionType, &a.Description, &a.ClientName, &a.Priority,
		&a.Question, &a.DraftContent, &a.Channel, &a.History, &a.CreatedAt)
	return a, err
}

// GetPendingAIActions implements triage.PendingAIActionSource.
func (s *Source) GetPendingAIActions(ctx context.Context) ([]triage.AIAction, error) {
	return query(ctx, s, "ai_actions_pending", aiActionQuery, []any{"pending"}, scanAIAction)
}

// GetWaitingAIActions implements triage.WaitingAIActionSource.
func (s *Source) GetWaitingAIActions(ctx context.Context) ([]triage.AIAction, error) {
	return query(ctx, s, "ai_actions_waiting", aiActionQuery, []any{"waiting"}, scanAIAction)
}

const retentionAlertQuery = `SELECT id, client_name, alert_type, COALESCE(message, ''), COALESCE(urgency, ''),
	COALESCE(suggested_outreach, ''), COALESCE(draft_message, ''), COALESCE(preferred_channel, ''),
	COALESCE(history, '[]'::jsonb), created_at
	FROM retention_alerts ORDER BY created_at, id`

// GetRetentionAlerts implements triage.RetentionAlertSource.
func (s *Source) GetRetentionAlerts(ctx context.Context) ([]triage.RetentionAlert, error) {
	return query(ctx, s, "retention_alerts", retentionAlertQuery, nil, func(row pgx.CollectableRow) (triage.RetentionAlert, error) {
		var r triage.RetentionAlert
		err := row.Scan(&r.ID, &r.ClientName, &r.AlertType, &r.Message, &r.Urgency,
			&r.SuggestedOutreach, &r.DraftMessage, &r.PreferredChannel, &r.History, &r.CreatedAt)
		return r, err
	})
}

const leadAlertQuery = `SELECT id, lead_name, reason, COALESCE(status, ''), COALESCE(priority, ''), created_at
	FROM lead_alerts ORDER BY created_at, id`

// GetLeadAlerts implements triage.LeadAlertSource.
func (s *Source) GetLeadAlerts(ctx context.Context) ([]triage.LeadAlert, error) {
	return query(ctx, s, "lead_alerts", leadAlertQuery, nil, func(row pgx.CollectableRow) (triage.LeadAlert, error) {
		var l triage.LeadAlert
		err := row.Scan(&l.ID, &l.LeadName, &l.Reason, &l.Status, &l.Priority, &l.CreatedAt)
		return l, err
	})
}

const unreadMessageQuery = `SELECT id, sender, COALESCE(subject, ''), COALESCE(preview, ''), COALESCE(channel, ''),
	unread, received_at
	FROM messages WHERE unread ORDER BY received_at DESC, id`

// GetUnreadMessages implements triage.MessageSource. Newest first, like an inbox.
func (s *Source) GetUnreadMessages(ctx context.Context) ([]triage.Message, error) {
	return query(ctx, s, "unread_messages", unreadMessageQuery, nil, func(row pgx.CollectableRow) (triage.Message, error) {
		var m triage.Message
		err := row.Scan(&m.ID, &m.From, &m.Subject, &m.Preview, &m.Channel, &m.Unread, &m.ReceivedAt)
		return m, err
	})
}

// Approve implements triage.Approver by moving a pending action to approved.
func (s *Source) Approve(ctx context.Context, actionID string) error {
	ctx, span := tracer.Start(ctx, "pgsource.Approve", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(postgres.WithQueryName(ctx, "approve_ai_action"),
		`UPDATE ai_actions SET status = 'approved', approved_at = now() WHERE id = $1 AND status = 'pending'`,
		actionID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("approve %s: %w", actionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotPending, actionID)
	}
	return nil
}

func query[R any](ctx context.Context, s *Source, name, sql string, args []any, scan pgx.RowToFunc[R]) ([]R, error) {
	ctx, span := tracer.Start(ctx, "pgsource."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(postgres.WithQueryName(ctx, name), sql, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query %s: %w", name, err)
	}

	out, err := pgx.CollectRows(rows, scan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("collect %s: %w", name, err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}
