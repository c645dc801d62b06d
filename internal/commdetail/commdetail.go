// Package commdetail turns a compact communication record into the detail view
// shown when a history entry is expanded.
//
// The CRM only stores one summary line per contact, so the email and text threads
// and the call narrative are placeholder content built around it. Everything that
// did not come from the record is marked Synthesized so a client can label it.
package commdetail

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/taskdesk/internal/triage"
)

// CallDuration is the fixed duration shown on call summaries.
const CallDuration = "30 minutes"

// Direction of a thread message relative to the loan officer.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// ThreadMessage is one message in an email or text thread.
type ThreadMessage struct {
	From        string    `json:"from"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
	Direction   Direction `json:"direction"`
	Synthesized bool      `json:"synthesized"`
}

// CallSummary describes a phone call.
type CallSummary struct {
	Duration string `json:"duration"`
	Summary  string `json:"summary"`
	Details  string `json:"details"`
}

// Detail is the view model for one communication record.
type Detail struct {
	Channel triage.Channel  `json:"channel"`
	Subject string          `json:"subject"`
	Date    time.Time       `json:"date"`
	Status  string          `json:"status"`
	Thread  []ThreadMessage `json:"thread,omitempty"`
	Call    *CallSummary    `json:"call,omitempty"`

	// Synthesized is set when any part of the detail is placeholder content.
	Synthesized bool `json:"synthesized"`
	// Unavailable is set for channels with no detail layout.
	Unavailable bool `json:"unavailable"`
}

const senderSelf = "You"

// Format builds the detail view for rec. subjectName is the counterpart shown on
// inbound messages. Format is pure.
func Format(rec triage.CommunicationRecord, subjectName string) Detail {
	if subjectName == "" {
		subjectName = "Client"
	}

	d := Detail{
		Channel: rec.Channel,
		Subject: rec.Subject,
		Date:    rec.Date,
		Status:  rec.Status,
	}

	switch rec.Channel {
	case triage.ChannelEmail:
		d.Thread = emailThread(rec, subjectName)
		d.Synthesized = true
	case triage.ChannelPhone:
		d.Call = &CallSummary{
			Duration: CallDuration,
			Summary:  rec.Message,
			Details:  callNarrative(rec, subjectName),
		}
		d.Synthesized = true
	case triage.ChannelText:
		d.Thread = textThread(rec, subjectName)
		d.Synthesized = true
	default:
		d.Unavailable = true
	}
	return d
}

func emailThread(rec triage.CommunicationRecord, subjectName string) []ThreadMessage {
	return []ThreadMessage{
		{From: senderSelf, Body: rec.Message, SentAt: rec.Date, Direction: Outbound},
		{
			From:        subjectName,
			Body:        fmt.Sprintf("Thanks for reaching out about %q. I'll take a look and get back to you shortly.", rec.Subject),
			SentAt:      rec.Date,
			Direction:   Inbound,
			Synthesized: true,
		},
	}
}

func textThread(rec triage.CommunicationRecord, subjectName string) []ThreadMessage {
	at := func(m int) time.Time { return rec.Date.Add(time.Duration(m) * time.Minute) }
	return []ThreadMessage{
		{From: senderSelf, Body: rec.Message, SentAt: at(0), Direction: Outbound},
		{From: subjectName, Body: "Got it, thanks! Is there anything else you need from me?", SentAt: at(4), Direction: Inbound, Synthesized: true},
		{From: senderSelf, Body: "That's everything for now. I'll text you when there's an update.", SentAt: at(6), Direction: Outbound, Synthesized: true},
		{From: subjectName, Body: "Sounds good 👍", SentAt: at(7), Direction: Inbound, Synthesized: true},
	}
}

func callNarrative(rec triage.CommunicationRecord, subjectName string) string {
	return fmt.Sprintf(
		"Spoke with %s about %s. Reviewed where the file stands and what is still outstanding. "+
			"%s had a few questions about timing and next steps, which were answered on the call. "+
			"Agreed to follow up once the remaining items come in.",
		subjectName, subjectOrDefault(rec.Subject), subjectName,
	)
}

func subjectOrDefault(s string) string {
	if s == "" {
		return "their loan"
	}
	return s
}
