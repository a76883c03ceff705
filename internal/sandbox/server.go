// Package sandbox is a local capture relay. It speaks enough SMTP for the
// sender (STARTTLS, PLAIN login, MAIL/RCPT/DATA) and stores what it
// receives in memory instead of delivering it.
package sandbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.io/infrasutra/bulkmailer/internal/sse"
	"github.io/infrasutra/bulkmailer/internal/store"
)

const (
	defaultDomain = "bulkmailer.sandbox"
)

var errInvalidCredentials = &smtp.SMTPError{
	Code:         535,
	EnhancedCode: smtp.EnhancedCode{5, 7, 8},
	Message:      "Username and Password not accepted",
}

type Config struct {
	Addr     string
	Password string
	// Reject lists recipient addresses answered with 550 5.1.1.
	Reject []string
	TLS    *tls.Config
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(store *store.Store, hub *sse.Hub, logger *slog.Logger, cfg Config) *Server {
	reject := map[string]struct{}{}
	for _, addr := range cfg.Reject {
		if addr = normalizeEmail(addr); addr != "" {
			reject[addr] = struct{}{}
		}
	}
	backend := &backend{
		store:    store,
		hub:      hub,
		logger:   logger,
		password: cfg.Password,
		reject:   reject,
	}
	server := smtp.NewServer(backend)
	server.Addr = cfg.Addr
	server.Domain = defaultDomain
	server.TLSConfig = cfg.TLS
	server.AllowInsecureAuth = cfg.TLS == nil
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("sandbox relay listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Serve(l net.Listener) error {
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	store    *store.Store
	hub      *sse.Hub
	logger   *slog.Logger
	password string
	reject   map[string]struct{}
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != "" && password == s.backend.password {
			s.authenticated = true
			return nil
		}
		return errInvalidCredentials
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if !s.authenticated {
		return smtp.ErrAuthRequired
	}
	addr := normalizeEmail(to)
	if _, ok := s.backend.reject[addr]; ok {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable: " + addr,
		}
	}
	s.to = append(s.to, addr)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	capture, err := parseCapture(s.from, s.to, data)
	if err != nil {
		s.backend.logger.Warn("parse sandbox message", "error", err)
	}
	if err := s.backend.store.Save(context.Background(), capture); err != nil {
		s.backend.logger.Error("store sandbox message", "error", err)
		return err
	}

	s.backend.logger.Debug("sandbox captured message", "id", capture.ID, "from", capture.From, "to", capture.To)
	audience := append([]string{sse.TopicAll, capture.From}, capture.To...)
	if frame, err := sse.Frame("message", capturedEvent(capture)); err == nil {
		s.backend.hub.Broadcast(audience, frame)
	}
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// parseCapture keeps the envelope as received and pulls the subject, the
// text/plain parts and any attachments out of the body. A body that fails to
// parse is still captured with whatever was read before the error.
func parseCapture(envelopeFrom string, envelopeTo []string, raw []byte) (store.Capture, error) {
	capture := store.Capture{
		ID:        uuid.NewString(),
		From:      envelopeFrom,
		To:        append([]string(nil), envelopeTo...),
		Raw:       raw,
		CreatedAt: time.Now(),
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return capture, err
	}
	capture.Subject, _ = reader.Header.Subject()
	if capture.From == "" {
		if from, err := reader.Header.AddressList("From"); err == nil && len(from) > 0 {
			capture.From = normalizeEmail(from[0].Address)
		}
	}

	var text []string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			capture.TextBody = strings.Join(text, "\n")
			return capture, err
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			if mediaType, _, _ := header.ContentType(); mediaType == "" || mediaType == "text/plain" {
				text = append(text, string(body))
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			contentType, _, _ := header.ContentType()
			capture.Attachments = append(capture.Attachments, store.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Data:        body,
				Size:        int64(len(body)),
			})
		}
	}
	capture.TextBody = strings.Join(text, "\n")
	return capture, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func capturedEvent(c store.Capture) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"from":        c.From,
		"to":          c.To,
		"subject":     c.Subject,
		"attachments": len(c.Attachments),
		"createdAt":   c.CreatedAt.UTC().Format(time.RFC3339),
	}
}
