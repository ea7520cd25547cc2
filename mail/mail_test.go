package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"gopkg.in/gomail.v2"
)

type recordingDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func render(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("render message: %v", err)
	}
	return buf.String()
}

func newTestSMTP(t *testing.T) (*SMTP, *recordingDialer) {
	t.Helper()
	s, err := NewSMTP(SMTPConfig{
		Host:      "smtp.example.com",
		From:      "no-reply@example.com",
		VerifyURL: "https://app.example.com/verify-email",
		AppName:   "AuthApp",
	})
	if err != nil {
		t.Fatalf("new smtp: %v", err)
	}
	d := &recordingDialer{}
	s.dialer = d
	return s, d
}

func TestNewSMTPRequiresHostAndFrom(t *testing.T) {
	if _, err := NewSMTP(SMTPConfig{From: "a@example.com"}); err == nil {
		t.Fatal("expected error without host")
	}
	if _, err := NewSMTP(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Fatal("expected error without from")
	}
}

func TestSendVerificationEmailCarriesLink(t *testing.T) {
	s, d := newTestSMTP(t)

	if err := s.SendVerificationEmail(context.Background(), "alice@example.com", "Alice", "abc123"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(d.sent))
	}
	msg := d.sent[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "alice@example.com" {
		t.Fatalf("unexpected To header %v", got)
	}
	body := render(t, msg)
	if !strings.Contains(body, "https://app.example.com/verify-email?token=abc123") {
		t.Fatalf("verify link missing from body:\n%s", body)
	}
	if !strings.Contains(body, "Hello Alice") {
		t.Fatalf("greeting missing from body:\n%s", body)
	}
}

func TestSendBackupCodesListsEveryCode(t *testing.T) {
	s, d := newTestSMTP(t)
	codes := []string{"AAAA-1111", "BBBB-2222"}

	if err := s.SendBackupCodes(context.Background(), "alice@example.com", codes); err != nil {
		t.Fatalf("send: %v", err)
	}
	body := render(t, d.sent[0])
	for _, c := range codes {
		if !strings.Contains(body, c) {
			t.Fatalf("code %s missing from body", c)
		}
	}
}

func TestSendPropagatesDialerError(t *testing.T) {
	s, d := newTestSMTP(t)
	d.err = errors.New("relay refused")

	if err := s.SendBackupCodes(context.Background(), "alice@example.com", nil); err == nil {
		t.Fatal("expected dialer error")
	}
}

func TestSendHonorsCanceledContext(t *testing.T) {
	s, d := newTestSMTP(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SendVerificationEmail(ctx, "alice@example.com", "", "tok"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(d.sent) != 0 {
		t.Fatal("nothing should be sent after cancellation")
	}
}

func TestLogMailerNeverLogsSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	_ = l.SendVerificationEmail(context.Background(), "alice@example.com", "Alice", "secret-token")
	_ = l.SendBackupCodes(context.Background(), "alice@example.com", []string{"AAAA-1111"})

	out := buf.String()
	if strings.Contains(out, "secret-token") || strings.Contains(out, "AAAA-1111") {
		t.Fatalf("log output leaked a secret: %s", out)
	}
	if !strings.Contains(out, "alice@example.com") {
		t.Fatalf("expected recipient in log: %s", out)
	}
}
