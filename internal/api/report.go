package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.io/infrasutra/bulkmailer/internal/compose"
	"github.io/infrasutra/bulkmailer/internal/progress"
	"github.io/infrasutra/bulkmailer/internal/sender"
	"github.io/infrasutra/bulkmailer/internal/sse"
)

// streamReporter forwards batch progress onto the send response. A client
// that went away does not stop the batch; its frames are dropped.
type streamReporter struct {
	stream *sse.Stream
	logger *slog.Logger
}

type summaryPayload struct {
	progress.Summary
	Message string `json:"message"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (r *streamReporter) Progress(ev progress.Event) {
	r.send("progress", ev)
}

func (r *streamReporter) Finish(summary progress.Summary) {
	r.send("summary", summaryPayload{Summary: summary, Message: summary.Message()})
}

func (r *streamReporter) Fail(err error) {
	r.send("error", describeError(err))
}

func (r *streamReporter) send(event string, payload any) {
	if err := r.stream.Send(event, payload); err != nil {
		r.logger.Debug("write progress frame", "event", event, "error", err)
	}
}

func describeError(err error) errorPayload {
	var (
		inputErr     *sender.InputError
		transportErr *sender.TransportError
		templateErr  *compose.TemplateError
	)
	switch {
	case errors.As(err, &inputErr):
		return errorPayload{Kind: "input", Message: fmt.Sprintf("Please enter your %s.", inputErrorSubject(inputErr))}
	case errors.As(err, &transportErr):
		return errorPayload{Kind: "transport", Message: "Error: " + transportErr.Error()}
	case errors.As(err, &templateErr):
		return errorPayload{Kind: "template", Message: "Error: " + templateErr.Error()}
	default:
		return errorPayload{Kind: "internal", Message: "Error: " + err.Error()}
	}
}

func inputErrorSubject(err *sender.InputError) string {
	if errors.Is(err, sender.ErrMissingCredentials) {
		return "email and password"
	}
	return "subject and message"
}

func loadedMessage(n int) string {
	return fmt.Sprintf("Loaded %d recipient(s).", n)
}
