package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/bulkmailer/internal/compose"
)

const (
	DefaultRelayHost = "smtp.gmail.com"
	DefaultRelayPort = 587
)

type Relay struct {
	Host string
	Port int
	// TLSConfig is used for STARTTLS; nil verifies against the system roots.
	TLSConfig *tls.Config
}

// SMTPTransport dials the relay, upgrades with STARTTLS and logs in with
// PLAIN using the sender address as the username.
type SMTPTransport struct {
	addr      string
	host      string
	tlsConfig *tls.Config
}

func NewSMTPTransport(relay Relay) *SMTPTransport {
	host := relay.Host
	if host == "" {
		host = DefaultRelayHost
	}
	port := relay.Port
	if port == 0 {
		port = DefaultRelayPort
	}
	return &SMTPTransport{
		addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		host:      host,
		tlsConfig: relay.TLSConfig,
	}
}

func (t *SMTPTransport) Addr() string {
	return t.addr
}

// Open dials the relay and upgrades with STARTTLS before logging in. A
// relay that does not offer STARTTLS is refused; credentials never travel
// in clear text.
func (t *SMTPTransport) Open(ctx context.Context, creds compose.Credentials) (Session, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	client, err := smtp.NewClientStartTLS(conn, t.clientTLS())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("starttls: %w", err)
	}
	if err := client.Auth(sasl.NewPlainClient("", creds.Sender, creds.Password)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("login: %w", err)
	}
	return &smtpSession{client: client}, nil
}

func (t *SMTPTransport) clientTLS() *tls.Config {
	var cfg *tls.Config
	if t.tlsConfig != nil {
		cfg = t.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.host
	}
	return cfg
}

type smtpSession struct {
	client *smtp.Client
}

// Send runs one MAIL/RCPT/DATA transaction. A rejected transaction is reset
// so the next recipient starts clean on the same connection.
func (s *smtpSession) Send(from, to string, payload []byte) error {
	if err := s.client.SendMail(from, []string{to}, bytes.NewReader(payload)); err != nil {
		_ = s.client.Reset()
		return err
	}
	return nil
}

func (s *smtpSession) Close() error {
	if err := s.client.Quit(); err != nil {
		_ = s.client.Close()
		return err
	}
	return nil
}
