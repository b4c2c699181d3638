package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"logsentry/internal/config"
)

// Transport delivers one message. It never returns an error: false means
// the message should be retried later.
type Transport interface {
	Send(ctx context.Context, from, to, subject, body string) bool
}

// NewTransport builds the configured transport, wrapped with the recipient
// override when one is set.
func NewTransport(cfg config.MailConfig, logger *slog.Logger) (Transport, error) {
	var t Transport
	switch strings.ToLower(cfg.Transport) {
	case "smtp", "":
		t = &SMTPTransport{Addr: cfg.Server, logger: logger}
	case "print":
		t = &PrintTransport{logger: logger}
	case "kafka":
		t = NewKafkaTransport(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	default:
		return nil, fmt.Errorf("unsupported mail transport %q", cfg.Transport)
	}
	if cfg.ForceRecipient != "" {
		t = Redirect(t, cfg.ForceRecipient)
	}
	return t, nil
}

type SMTPTransport struct {
	Addr   string
	logger *slog.Logger
}

func (s *SMTPTransport) Send(_ context.Context, from, to, subject, body string) bool {
	recipients := splitRecipients(to)
	if len(recipients) == 0 {
		return false
	}
	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + strings.Join(recipients, ",") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	if err := smtp.SendMail(s.Addr, nil, from, recipients, []byte(msg.String())); err != nil {
		if s.logger != nil {
			s.logger.Warn("mail send failed", "to", to, "subject", subject, "err", err)
		}
		return false
	}
	return true
}

// PrintTransport logs messages instead of sending them.
type PrintTransport struct {
	logger *slog.Logger
}

func (p *PrintTransport) Send(_ context.Context, from, to, subject, body string) bool {
	if p.logger != nil {
		p.logger.Info("would send mail", "from", from, "to", to, "subject", subject, "body_bytes", len(body))
	}
	return true
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport publishes each message as a JSON record keyed by recipient.
type KafkaTransport struct {
	writer kafkaWriter
	logger *slog.Logger
}

type kafkaRecord struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
}

func NewKafkaTransport(brokers []string, topic string, logger *slog.Logger) *KafkaTransport {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaTransport{writer: w, logger: logger}
}

func (k *KafkaTransport) Send(ctx context.Context, from, to, subject, body string) bool {
	data, err := json.Marshal(kafkaRecord{
		Timestamp: time.Now().UTC(),
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return false
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(to), Value: data}); err != nil {
		if k.logger != nil {
			k.logger.Warn("kafka alert publish failed", "to", to, "subject", subject, "err", err)
		}
		return false
	}
	return true
}

func (k *KafkaTransport) Close() error {
	return k.writer.Close()
}

type redirect struct {
	next Transport
	to   string
}

// Redirect sends every message to addr regardless of its recipient.
func Redirect(next Transport, addr string) Transport {
	return &redirect{next: next, to: addr}
}

func (r *redirect) Send(ctx context.Context, from, _ string, subject, body string) bool {
	return r.next.Send(ctx, from, r.to, subject, body)
}

func (r *redirect) Close() error {
	return Close(r.next)
}

// Close releases the transport's connections, if it holds any.
func Close(t Transport) error {
	if c, ok := t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func splitRecipients(to string) []string {
	var out []string
	for _, r := range strings.Split(to, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
