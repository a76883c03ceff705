package sender

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.io/infrasutra/bulkmailer/internal/compose"
	"github.io/infrasutra/bulkmailer/internal/progress"
	"github.io/infrasutra/bulkmailer/internal/recipients"
)

type fakeSession struct {
	reject map[string]error
	sent   []string
	closed int
}

func (s *fakeSession) Send(_, to string, _ []byte) error {
	if err, ok := s.reject[to]; ok {
		return err
	}
	s.sent = append(s.sent, to)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeTransport struct {
	session *fakeSession
	openErr error
	opened  int
}

func (t *fakeTransport) Open(context.Context, compose.Credentials) (Session, error) {
	t.opened++
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.session, nil
}

func (t *fakeTransport) Addr() string { return "relay.test:587" }

type recorder struct {
	events    []progress.Event
	summaries []progress.Summary
}

func (r *recorder) Progress(ev progress.Event) { r.events = append(r.events, ev) }
func (r *recorder) Finish(summary progress.Summary) { r.summaries = append(r.summaries, summary) }

var creds = compose.Credentials{Sender: "me@x.com", Password: "app-password"}

func table(n int) recipients.Table {
	records := make([]recipients.Record, n)
	for i := range records {
		records[i] = recipients.Record{Name: fmt.Sprintf("R%d", i), Email: fmt.Sprintf("r%d@x.com", i)}
	}
	return recipients.NewTable(records...)
}

func TestSend_AllAccepted(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	transport := &fakeTransport{session: session}
	rec := &recorder{}

	summary, err := New(transport, nil).Send(context.Background(), table(4),
		compose.Template{Subject: "S", Body: "Hi {name}"}, creds, rec)
	require.NoError(t, err)

	require.Equal(t, progress.Summary{Attempted: 4, Sent: 4}, summary)
	require.Equal(t, []progress.Summary{summary}, rec.summaries)
	require.Len(t, rec.events, 4)
	for i, ev := range rec.events {
		require.InDelta(t, float64(i+1)/4, ev.Fraction, 1e-9)
		require.True(t, ev.Result.Sent)
		require.Equal(t, fmt.Sprintf("Sent to R%d (r%d@x.com)", i, i), ev.Status)
	}
	require.Equal(t, []string{"r0@x.com", "r1@x.com", "r2@x.com", "r3@x.com"}, session.sent)
	require.Equal(t, 1, transport.opened)
	require.Equal(t, 1, session.closed)
}

func TestSend_OneRejectedRecipientDoesNotAbort(t *testing.T) {
	t.Parallel()

	session := &fakeSession{reject: map[string]error{"r1@x.com": errors.New("550 5.1.1 no such user")}}
	rec := &recorder{}

	summary, err := New(&fakeTransport{session: session}, nil).Send(context.Background(), table(3),
		compose.Template{Subject: "S", Body: "Hi"}, creds, rec)
	require.NoError(t, err)

	require.Equal(t, progress.Summary{Attempted: 3, Sent: 2, Failed: 1}, summary)
	require.Len(t, rec.events, 3)
	require.True(t, rec.events[0].Result.Sent)
	require.False(t, rec.events[1].Result.Sent)
	require.Equal(t, "550 5.1.1 no such user", rec.events[1].Result.Reason)
	require.Equal(t, "Failed to r1@x.com: 550 5.1.1 no such user", rec.events[1].Status)
	require.True(t, rec.events[2].Result.Sent)
	require.Equal(t, 1, session.closed)
}

func TestSend_UnsupportedPlaceholderAbortsBatch(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	rec := &recorder{}

	_, err := New(&fakeTransport{session: session}, nil).Send(context.Background(), table(3),
		compose.Template{Subject: "S", Body: "Hi {foo}"}, creds, rec)

	var terr *compose.TemplateError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "foo", terr.Placeholder)
	require.Empty(t, rec.events)
	require.Empty(t, rec.summaries)
	require.Empty(t, session.sent)
	require.Equal(t, 1, session.closed)
}

func TestSend_InputErrorsNeverTouchTheRelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		creds compose.Credentials
		tmpl  compose.Template
		want  error
	}{
		{"no sender", compose.Credentials{Password: "p"}, compose.Template{Subject: "S", Body: "B"}, ErrMissingCredentials},
		{"no password", compose.Credentials{Sender: "me@x.com"}, compose.Template{Subject: "S", Body: "B"}, ErrMissingCredentials},
		{"no subject", creds, compose.Template{Body: "B"}, ErrMissingContent},
		{"no body", creds, compose.Template{Subject: "S"}, ErrMissingContent},
		{"credentials checked first", compose.Credentials{}, compose.Template{}, ErrMissingCredentials},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			transport := &fakeTransport{session: &fakeSession{}}
			_, err := New(transport, nil).Send(context.Background(), table(1), tc.tmpl, tc.creds, nil)

			var ierr *InputError
			require.ErrorAs(t, err, &ierr)
			require.ErrorIs(t, err, tc.want)
			require.Zero(t, transport.opened)
		})
	}
}

func TestSend_TransportFailureSendsNothing(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{openErr: errors.New("535 5.7.8 bad credentials")}
	rec := &recorder{}

	_, err := New(transport, nil).Send(context.Background(), table(2),
		compose.Template{Subject: "S", Body: "B"}, creds, rec)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "relay.test:587", terr.Addr)
	require.Contains(t, err.Error(), "535 5.7.8")
	require.Empty(t, rec.events)
	require.Empty(t, rec.summaries)
}

func TestSend_EmptyTableStillCompletes(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	rec := &recorder{}

	summary, err := New(&fakeTransport{session: session}, nil).Send(context.Background(), recipients.Table{},
		compose.Template{Subject: "S", Body: "B"}, creds, rec)
	require.NoError(t, err)
	require.Zero(t, summary.Attempted)
	require.Len(t, rec.summaries, 1)
	require.Equal(t, 1, session.closed)
}

type panickingSession struct {
	fakeSession
}

func (s *panickingSession) Send(string, string, []byte) error {
	panic("relay exploded")
}

func TestSend_SessionClosedOnPanic(t *testing.T) {
	t.Parallel()

	session := &panickingSession{}
	transport := &sessionTransport{session: session}

	require.Panics(t, func() {
		_, _ = New(transport, nil).Send(context.Background(), table(1),
			compose.Template{Subject: "S", Body: "B"}, creds, nil)
	})
	require.Equal(t, 1, session.closed)
}

type sessionTransport struct {
	session Session
}

func (t *sessionTransport) Open(context.Context, compose.Credentials) (Session, error) {
	return t.session, nil
}

func (t *sessionTransport) Addr() string { return "relay.test:587" }
