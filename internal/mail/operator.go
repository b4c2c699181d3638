package mail

import (
	"context"
	"log/slog"
)

// Notifier raises operator alerts about the daemon itself: load failures,
// disabled modules, reader errors and watchdogs.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// Operator sends notifications straight through the transport. There is no
// retry; a failed notification is only logged.
type Operator struct {
	transport Transport
	from      string
	to        string
	logger    *slog.Logger
}

func NewOperator(t Transport, from, to string, logger *slog.Logger) *Operator {
	return &Operator{transport: t, from: from, to: to, logger: logger}
}

// WithRecipient returns a copy that notifies to instead, used for readers
// configured with their own error address.
func (o *Operator) WithRecipient(to string) *Operator {
	if to == "" {
		return o
	}
	cp := *o
	cp.to = to
	return &cp
}

func (o *Operator) Notify(ctx context.Context, subject, body string) {
	if o.logger != nil {
		o.logger.Warn("operator alert", "subject", subject)
	}
	if o.transport == nil || o.to == "" {
		return
	}
	if !o.transport.Send(ctx, o.from, o.to, subject, body) && o.logger != nil {
		o.logger.Error("operator alert not delivered", "to", o.to, "subject", subject)
	}
}
