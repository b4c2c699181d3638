package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"logsentry/internal/model"
)

const (
	DefaultMaxEmails = 50
	// MaxBodyBytes is the body size above which alerts are truncated.
	MaxBodyBytes = 1 << 20
)

var ErrQueueFull = errors.New("mail queue full")

// Queue is a monitor's bounded outbox for one scan plus its durable retry
// list. Undelivered messages go back into the retry list, which the monitor
// persists and restores ahead of the next scan's alerts.
type Queue struct {
	owner    string
	max      int
	pending  []model.AlertMessage
	retry    []model.AlertMessage
	notifier Notifier
	logger   *slog.Logger
}

func NewQueue(owner string, max int, notifier Notifier, logger *slog.Logger) *Queue {
	if max <= 0 {
		max = DefaultMaxEmails
	}
	return &Queue{owner: owner, max: max, notifier: notifier, logger: logger}
}

func (q *Queue) Max() int {
	return q.max
}

// Restore re-enqueues messages left over from a failed delivery. It must run
// before any new alerts are queued so retries keep their place in line.
func (q *Queue) Restore(msgs []model.AlertMessage) {
	for _, m := range msgs {
		if len(q.pending) >= q.max {
			if q.logger != nil {
				q.logger.Warn("dropping restored alert over cap", "monitor", q.owner, "subject", m.Subject)
			}
			continue
		}
		q.pending = append(q.pending, m)
	}
}

// QueueAlert adds one message per recipient in the comma-separated to list.
// Once the cap is reached the rest are rejected and the operator is told.
// Bodies above MaxBodyBytes are truncated with a notice.
func (q *Queue) QueueAlert(ctx context.Context, to, subject, body string) error {
	if len(body) > MaxBodyBytes {
		body = fmt.Sprintf("Email body was truncated at %d characters.\n\n", MaxBodyBytes) + body[:MaxBodyBytes]
		if q.logger != nil {
			q.logger.Warn("alert body too long, truncating", "monitor", q.owner, "subject", subject)
		}
	}
	recipients := splitRecipients(to)
	if len(recipients) == 0 {
		return fmt.Errorf("queue alert %q: no recipient", subject)
	}
	for _, r := range recipients {
		if len(q.pending) >= q.max {
			q.rejected(ctx, subject)
			return ErrQueueFull
		}
		q.pending = append(q.pending, model.AlertMessage{To: r, Subject: subject, Body: body})
	}
	return nil
}

func (q *Queue) rejected(ctx context.Context, subject string) {
	msg := fmt.Sprintf("Max queued emails reached by %s, skipping %q", q.owner, subject)
	if q.logger != nil {
		q.logger.Warn("mail queue full", "monitor", q.owner, "max", q.max, "subject", subject)
	}
	if q.notifier != nil {
		q.notifier.Notify(ctx, "Max queued emails: "+q.owner, msg)
	}
}

func (q *Queue) Len() int {
	return len(q.pending)
}

func (q *Queue) Pending() []model.AlertMessage {
	out := make([]model.AlertMessage, len(q.pending))
	copy(out, q.pending)
	return out
}

// Delivery is the outcome of one message in a flush.
type Delivery struct {
	Message   model.AlertMessage
	Delivered bool
	Requeued  bool
}

// Flush sends every pending message. Failures are appended to the retry
// list while its length is <= max, so the list can hold one entry more than
// max. When copyTo is set every message is also copied there, best effort.
func (q *Queue) Flush(ctx context.Context, t Transport, from, copyTo string) []Delivery {
	out := make([]Delivery, 0, len(q.pending))
	for _, m := range q.pending {
		ok := t.Send(ctx, from, m.To, m.Subject, m.Body)
		d := Delivery{Message: m, Delivered: ok}
		if !ok {
			if len(q.retry) <= q.max {
				q.retry = append(q.retry, m)
				d.Requeued = true
			} else if q.logger != nil {
				q.logger.Warn("retry queue full, dropping alert", "monitor", q.owner, "to", m.To, "subject", m.Subject)
			}
		}
		if copyTo != "" && !strings.EqualFold(copyTo, m.To) {
			t.Send(ctx, from, copyTo, m.Subject, m.Body)
		}
		out = append(out, d)
	}
	q.pending = nil
	return out
}

// Retry returns the messages to persist for the next scan.
func (q *Queue) Retry() []model.AlertMessage {
	out := make([]model.AlertMessage, len(q.retry))
	copy(out, q.retry)
	return out
}

// Unsent returns everything not yet delivered: the retry list plus anything
// still pending because no flush happened.
func (q *Queue) Unsent() []model.AlertMessage {
	out := q.Retry()
	for _, m := range q.pending {
		if len(out) > q.max {
			break
		}
		out = append(out, m)
	}
	return out
}
