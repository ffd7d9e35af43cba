package mailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	mail "gopkg.in/mail.v2"

	"infomail/config"
)

// fakeSMTP is a minimal plaintext SMTP server that accepts or rejects AUTH
// and records the DATA of delivered messages.
type fakeSMTP struct {
	ln         net.Listener
	acceptAuth bool

	mu       sync.Mutex
	messages []string
}

func startFakeSMTP(t *testing.T, acceptAuth bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln, acceptAuth: acceptAuth}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeSMTP) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *fakeSMTP) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { fmt.Fprintf(conn, "%s\r\n", line) }
	reply("220 localhost ESMTP fake")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250-localhost")
			reply("250 AUTH PLAIN")
		case strings.HasPrefix(cmd, "AUTH"):
			if s.acceptAuth {
				reply("235 2.7.0 Authentication successful")
			} else {
				reply("535 5.7.8 Username and Password not accepted")
			}
		case cmd == "*":
			reply("501 5.0.0 Authentication aborted")
		case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"), cmd == "RSET", cmd == "NOOP":
			reply("250 OK")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.messages = append(s.messages, b.String())
			s.mu.Unlock()
			reply("250 OK queued")
		case cmd == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("502 Command not implemented")
		}
	}
}

func (s *fakeSMTP) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func newTestTransport(smtpPort int, imapHub string) *SMTPTransport {
	cfg := &config.Config{
		SMTPHub:          fmt.Sprintf("127.0.0.1:%d", smtpPort),
		IMAPHub:          imapHub,
		HandshakeTimeout: 2 * time.Second,
	}
	return NewSMTPTransport(cfg, zap.NewNop().Sugar())
}

func TestSendDeliversMessageWithAttachment(t *testing.T) {
	srv := startFakeSMTP(t, true)
	tr := newTestTransport(srv.port(), "")

	id, err := tr.Send(context.Background(), Account{Address: "staff@example.org", Password: "app-pass"}, Message{
		To:       "ppid@kemendagri.go.id",
		Subject:  "Permohonan Informasi",
		HTMLBody: "<p>Halo</p>",
		Attachments: []Attachment{
			{Filename: "ktp.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@example.org"))

	msgs := srv.delivered()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Subject: Permohonan Informasi")
	assert.Contains(t, msgs[0], "Message-ID: <"+id+">")
	assert.Contains(t, msgs[0], "application/pdf")
	assert.Contains(t, msgs[0], "ktp.pdf")
}

func TestSendRejectedAuthIsInvalidCredential(t *testing.T) {
	srv := startFakeSMTP(t, false)
	tr := newTestTransport(srv.port(), "")

	_, err := tr.Send(context.Background(), Account{Address: "staff@example.org", Password: "wrong"}, Message{To: "a@b.c", Subject: "s", HTMLBody: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Contains(t, err.Error(), "Username and Password not accepted")
	assert.Empty(t, srv.delivered())
}

func TestSendNotConfigured(t *testing.T) {
	tr := NewSMTPTransport(&config.Config{}, zap.NewNop().Sugar())
	_, err := tr.Send(context.Background(), Account{}, Message{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendCanceledContext(t *testing.T) {
	srv := startFakeSMTP(t, true)
	tr := newTestTransport(srv.port(), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Send(ctx, Account{Address: "a@b.c"}, Message{To: "x@y.z"})
	assert.ErrorIs(t, err, ErrTransport)
	assert.Empty(t, srv.delivered())
}

func TestVerifyReportsBothProtocols(t *testing.T) {
	srv := startFakeSMTP(t, false)
	// nothing listens on this port
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	imapHub := closed.Addr().String()
	closed.Close()

	tr := newTestTransport(srv.port(), imapHub)
	report := tr.Verify(context.Background(), Account{Address: "staff@example.org", Password: "wrong"})

	assert.False(t, report.OK())
	assert.ErrorIs(t, report.SMTP, ErrInvalidCredential)
	assert.ErrorIs(t, report.IMAP, ErrTransport)

	combined := report.Err()
	require.Error(t, combined)
	assert.Contains(t, combined.Error(), "smtp:")
	assert.Contains(t, combined.Error(), "imap:")
	assert.ErrorIs(t, combined, ErrInvalidCredential)
}

func TestVerifyIMAPNotConfigured(t *testing.T) {
	srv := startFakeSMTP(t, true)
	tr := newTestTransport(srv.port(), "")

	report := tr.Verify(context.Background(), Account{Address: "staff@example.org", Password: "ok"})
	assert.NoError(t, report.SMTP)
	assert.ErrorIs(t, report.IMAP, ErrNotConfigured)
}

func TestReportErrNilWhenOK(t *testing.T) {
	assert.True(t, Report{}.OK())
	assert.NoError(t, Report{}.Err())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "auth rejected", err: &textproto.Error{Code: 535, Msg: "bad credentials"}, want: ErrInvalidCredential},
		{name: "auth required", err: &textproto.Error{Code: 530, Msg: "must authenticate"}, want: ErrInvalidCredential},
		{name: "mailbox unavailable", err: &textproto.Error{Code: 550, Msg: "no such user"}, want: ErrTransport},
		{name: "wrapped in send error", err: &mail.SendError{Index: 0, Cause: &textproto.Error{Code: 535}}, want: ErrInvalidCredential},
		{name: "network", err: errors.New("dial tcp: connection refused"), want: ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("smtp", tt.err), tt.want)
		})
	}
}

func TestNewMessageID(t *testing.T) {
	assert.True(t, strings.HasSuffix(newMessageID("a@kpu.go.id"), "@kpu.go.id"))
	assert.True(t, strings.HasSuffix(newMessageID("broken"), "@localhost"))
	assert.NotEqual(t, newMessageID("a@b.c"), newMessageID("a@b.c"))
}
