// Package claude suggests outbound messages for triage tasks using the Claude API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/taskdesk/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/taskdesk/internal/llm/claude")

const (
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
	maxHistoryLines  = 5
)

// ErrEmptyDraft is returned when the model answers without any text.
var ErrEmptyDraft = errors.New("claude returned no draft text")

const systemPrompt = `You are an assistant to a mortgage loan officer. Write the next outbound message
the loan officer should send for the task you are given. Write only the message body, with no
subject line, no preamble and no placeholders in brackets. Keep a warm, professional tone.
Texts stay under 300 characters. Emails are at most three short paragraphs. For a phone
contact, write brief talking points for the call instead of a message.`

// Drafter implements triage.Drafter on the Anthropic SDK.
type Drafter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Drafter. An empty model selects DefaultModel. Extra request options
// are passed to the SDK client.
func New(apiKey, model string, opts ...option.RequestOption) *Drafter {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Drafter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// SuggestDraft asks the model for a message for task.
func (d *Drafter) SuggestDraft(ctx context.Context, task *triage.AggregatedTask) (string, error) {
	ctx, span := tracer.Start(ctx, "claude.SuggestDraft")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.request.model", d.model),
		attribute.String("taskdesk.task_id", task.ID),
	)

	msg, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(d.model),
		MaxTokens: d.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(task))),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("claude messages.new: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", msg.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", msg.Usage.OutputTokens),
	)

	draft := draftFromResponse(msg)
	if draft == "" {
		span.SetStatus(codes.Error, ErrEmptyDraft.Error())
		return "", ErrEmptyDraft
	}
	return draft, nil
}

// buildPrompt renders the task and its recent history as the user turn.
func buildPrompt(task *triage.AggregatedTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if name := task.SubjectName(); name != "" {
		fmt.Fprintf(&b, "Contact: %s\n", name)
	}
	if task.StageLabel != "" {
		fmt.Fprintf(&b, "Stage: %s\n", task.StageLabel)
	}
	fmt.Fprintf(&b, "Urgency: %s\n", task.Urgency)
	if task.SuggestedAction != nil {
		fmt.Fprintf(&b, "Suggested action: %s\n", *task.SuggestedAction)
	}
	if task.PreferredContactChannel != nil {
		fmt.Fprintf(&b, "Channel: %s\n", *task.PreferredContactChannel)
	}
	if task.AIDraftMessage != nil && *task.AIDraftMessage != "" {
		fmt.Fprintf(&b, "Current draft, improve on it: %s\n", *task.AIDraftMessage)
	}

	history := task.CommunicationHistory
	if len(history) > maxHistoryLines {
		history = history[len(history)-maxHistoryLines:]
	}
	if len(history) > 0 {
		b.WriteString("Recent communication:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s %s (%s): %s\n", h.Date.Format("2006-01-02"), h.Channel, h.Status, h.Message)
		}
	}
	return b.String()
}

func draftFromResponse(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}
