// Package mailer talks to the mail provider on behalf of a user: SMTP for
// delivery and an SMTP AUTH plus IMAP LOGIN handshake for credential checks.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	mail "gopkg.in/mail.v2"

	"infomail/config"
	"infomail/metrics"
)

var (
	ErrNotConfigured     = errors.New("mail transport not configured")
	ErrInvalidCredential = errors.New("credential rejected by mail server")
	ErrTransport         = errors.New("mail transport error")
)

// Account is the mailbox a message is sent from.
type Account struct {
	Address  string
	Password string
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Transport sends mail and checks credentials against the provider.
type Transport interface {
	Send(ctx context.Context, from Account, msg Message) (messageID string, err error)
	Verify(ctx context.Context, acct Account) Report
}

// HandshakeError carries the upstream diagnostic of a failed exchange and
// matches ErrInvalidCredential or ErrTransport with errors.Is.
type HandshakeError struct {
	Protocol string
	Kind     error
	Err      error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Protocol, e.Err)
}

func (e *HandshakeError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Report is the outcome of Verify. A nil field means that protocol accepted
// the credential.
type Report struct {
	SMTP error `json:"-"`
	IMAP error `json:"-"`
}

func (r Report) OK() bool { return r.SMTP == nil && r.IMAP == nil }

// Err combines both failures into a single diagnostic, or nil.
func (r Report) Err() error {
	var result *multierror.Error
	if r.SMTP != nil {
		result = multierror.Append(result, r.SMTP)
	}
	if r.IMAP != nil {
		result = multierror.Append(result, r.IMAP)
	}
	if result != nil {
		result.ErrorFormat = func(errs []error) string {
			parts := make([]string, len(errs))
			for i, err := range errs {
				parts[i] = err.Error()
			}
			return strings.Join(parts, "; ")
		}
	}
	return result.ErrorOrNil()
}

// SMTPTransport authenticates with the user's own address and app password
// against the configured provider hubs.
type SMTPTransport struct {
	smtpHost      string
	smtpPort      int
	imapAddr      string
	imapHost      string
	skipTLSVerify bool
	timeout       time.Duration
	logger        *zap.SugaredLogger
}

func NewSMTPTransport(cfg *config.Config, logger *zap.SugaredLogger) *SMTPTransport {
	t := &SMTPTransport{
		imapAddr:      cfg.IMAPHub,
		skipTLSVerify: cfg.SkipTLSVerify,
		timeout:       cfg.HandshakeTimeout,
		logger:        logger.Named("mailer"),
	}
	if host, port, err := config.SplitHub(cfg.SMTPHub); err == nil {
		t.smtpHost, t.smtpPort = host, port
	}
	if host, _, err := config.SplitHub(cfg.IMAPHub); err == nil {
		t.imapHost = host
	}
	if cfg.SkipTLSVerify {
		t.logger.Warn("TLS certificate verification is DISABLED for mail connections")
	}
	return t
}

func (t *SMTPTransport) dialer(acct Account) *mail.Dialer {
	d := mail.NewDialer(t.smtpHost, t.smtpPort, acct.Address, acct.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         t.smtpHost,
		InsecureSkipVerify: t.skipTLSVerify,
	}
	return d
}

// Send delivers one message and returns the Message-ID it was sent with.
func (t *SMTPTransport) Send(ctx context.Context, from Account, msg Message) (string, error) {
	if t.smtpHost == "" {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", &HandshakeError{Protocol: "smtp", Kind: ErrTransport, Err: err}
	}

	messageID := newMessageID(from.Address)
	m := mail.NewMessage()
	m.SetHeader("From", from.Address)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", "<"+messageID+">")
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/html", msg.HTMLBody)

	for _, a := range msg.Attachments {
		data := a.Data
		settings := []mail.FileSetting{mail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})}
		if a.ContentType != "" {
			settings = append(settings, mail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		m.Attach(a.Filename, settings...)
	}

	start := time.Now()
	err := t.dialer(from).DialAndSend(m)
	metrics.SMTPDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		t.logger.Warnw("Mail send failed", "from", from.Address, "to", msg.To, "error", err)
		return "", classify("smtp", err)
	}
	t.logger.Debugw("Mail sent", "from", from.Address, "to", msg.To, "messageID", messageID)
	return messageID, nil
}

// Verify runs the SMTP AUTH handshake and, separately, an IMAP LOGIN. It
// never persists anything.
func (t *SMTPTransport) Verify(ctx context.Context, acct Account) Report {
	return Report{
		SMTP: t.verifySMTP(ctx, acct),
		IMAP: t.verifyIMAP(ctx, acct),
	}
}

func (t *SMTPTransport) verifySMTP(ctx context.Context, acct Account) error {
	if t.smtpHost == "" {
		return &HandshakeError{Protocol: "smtp", Kind: ErrNotConfigured, Err: errors.New("SMTP_HUB is not set")}
	}
	if err := ctx.Err(); err != nil {
		return &HandshakeError{Protocol: "smtp", Kind: ErrTransport, Err: err}
	}
	closer, err := t.dialer(acct).Dial()
	if err != nil {
		return classify("smtp", err)
	}
	return closer.Close()
}

func (t *SMTPTransport) verifyIMAP(ctx context.Context, acct Account) error {
	if t.imapAddr == "" {
		return &HandshakeError{Protocol: "imap", Kind: ErrNotConfigured, Err: errors.New("IMAP_HUB is not set")}
	}
	if err := ctx.Err(); err != nil {
		return &HandshakeError{Protocol: "imap", Kind: ErrTransport, Err: err}
	}
	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: t.timeout}, t.imapAddr, &tls.Config{
		ServerName:         t.imapHost,
		InsecureSkipVerify: t.skipTLSVerify,
	})
	if err != nil {
		return &HandshakeError{Protocol: "imap", Kind: ErrTransport, Err: err}
	}
	defer c.Logout()
	c.Timeout = t.timeout

	if err := c.Login(acct.Address, acct.Password); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return &HandshakeError{Protocol: "imap", Kind: ErrTransport, Err: err}
		}
		return &HandshakeError{Protocol: "imap", Kind: ErrInvalidCredential, Err: err}
	}
	return nil
}

// classify maps an SMTP failure onto ErrInvalidCredential (the server
// refused authentication) or ErrTransport (anything else).
func classify(protocol string, err error) error {
	cause := err
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && sendErr.Cause != nil {
		cause = sendErr.Cause
	}
	var tpErr *textproto.Error
	if errors.As(cause, &tpErr) {
		switch tpErr.Code {
		case 530, 534, 535:
			return &HandshakeError{Protocol: protocol, Kind: ErrInvalidCredential, Err: err}
		}
	}
	return &HandshakeError{Protocol: protocol, Kind: ErrTransport, Err: err}
}

func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return uuid.NewString() + "@" + domain
}
