// Package sender runs one batch: it opens a single authenticated relay
// session, sends one personalized message per recipient in table order and
// reports progress after each attempt.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.io/infrasutra/bulkmailer/internal/compose"
	"github.io/infrasutra/bulkmailer/internal/progress"
	"github.io/infrasutra/bulkmailer/internal/recipients"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrMissingContent     = errors.New("missing subject or message")
)

// InputError is returned before any network activity.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// TransportError means the relay session could not be opened. No message
// was sent.
type TransportError struct {
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connect to relay %s: %v", e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SendError is a single rejected message. The batch continues.
type SendError struct {
	Recipient string
	Err       error
}

func (e *SendError) Error() string {
	return e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// Session is an open, authenticated relay connection.
type Session interface {
	Send(from, to string, payload []byte) error
	Close() error
}

type Transport interface {
	Open(ctx context.Context, creds compose.Credentials) (Session, error)
	Addr() string
}

type Sender struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

func New(transport Transport, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sender{transport: transport, logger: logger, now: time.Now}
}

// Send runs the batch synchronously. A *compose.TemplateError stops the
// loop; messages already accepted by the relay stand. Finish is only
// called when every recipient was attempted.
func (s *Sender) Send(ctx context.Context, table recipients.Table, tmpl compose.Template, creds compose.Credentials, reporter progress.Reporter) (progress.Summary, error) {
	if reporter == nil {
		reporter = progress.Discard
	}
	if creds.Sender == "" || creds.Password == "" {
		return progress.Summary{}, &InputError{Err: ErrMissingCredentials}
	}
	if tmpl.Subject == "" || tmpl.Body == "" {
		return progress.Summary{}, &InputError{Err: ErrMissingContent}
	}
	if err := ctx.Err(); err != nil {
		return progress.Summary{}, err
	}

	logger := s.logger.With("sender", creds.Sender, "relay", s.transport.Addr())
	session, err := s.transport.Open(ctx, creds)
	if err != nil {
		logger.Warn("open relay session", "error", err)
		return progress.Summary{}, &TransportError{Addr: s.transport.Addr(), Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("close relay session", "error", err)
		}
	}()

	records := table.Records()
	total := len(records)
	summary := progress.Summary{Attempted: total}
	logger.Info("batch started", "recipients", total, "image", tmpl.Image != nil)

	for i, rec := range records {
		rendered, err := compose.Render(tmpl.Body, rec)
		if err != nil {
			logger.Warn("batch aborted", "error", err, "index", i, "sent", summary.Sent, "failed", summary.Failed)
			return summary, err
		}

		result := progress.Sent()
		if err := s.deliver(session, creds.Sender, rec, tmpl, rendered); err != nil {
			logger.Warn("send failed", "recipient", rec.Email, "error", err)
			result = progress.Failed(err.Error())
			summary.Failed++
		} else {
			summary.Sent++
		}
		reporter.Progress(progress.NewEvent(i, total, rec, result))
	}

	logger.Info("batch finished", "attempted", summary.Attempted, "sent", summary.Sent, "failed", summary.Failed)
	reporter.Finish(summary)
	return summary, nil
}

func (s *Sender) deliver(session Session, from string, rec recipients.Record, tmpl compose.Template, rendered string) error {
	payload, err := compose.Build(compose.Message{
		From:    from,
		To:      rec.Email,
		Subject: tmpl.Subject,
		Text:    compose.Greeting(rec.Name, rendered),
		Image:   tmpl.Image,
		Date:    s.now(),
	})
	if err != nil {
		return &SendError{Recipient: rec.Email, Err: err}
	}
	if err := session.Send(from, rec.Email, payload); err != nil {
		return &SendError{Recipient: rec.Email, Err: err}
	}
	return nil
}
