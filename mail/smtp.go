package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
	// VerifyURL is the page that receives the token, e.g.
	// https://app.example.com/verify-email. The token is added as ?token=.
	VerifyURL string `env:"VERIFY_URL"`
	AppName   string `env:"APP_NAME" envDefault:"AuthApp"`
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTP sends mail through an SMTP relay.
type SMTP struct {
	config SMTPConfig
	dialer dialer
}

// NewSMTP validates cfg and returns a mailer.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.VerifyURL != "" {
		if _, err := url.Parse(cfg.VerifyURL); err != nil {
			return nil, fmt.Errorf("invalid verify url: %w", err)
		}
	}
	return &SMTP{
		config: cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// Ping opens and closes one connection to the relay.
func (s *SMTP) Ping(ctx context.Context) error {
	d, ok := s.dialer.(*gomail.Dialer)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := d.Dial()
	if err != nil {
		return err
	}
	return conn.Close()
}

// SendVerificationEmail mails the verification link for token.
func (s *SMTP) SendVerificationEmail(ctx context.Context, to, name, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}

	m := s.newMessage(to, "Verify your email address - "+s.config.AppName)
	body := fmt.Sprintf("%s,\n\nPlease confirm your email address:\n\n%s\n\nThis link expires in 24 hours.\n\nIf you did not create an account, ignore this email.",
		greeting, s.verifyLink(token))
	m.SetBody("text/plain", body)

	return s.dialer.DialAndSend(m)
}

// SendBackupCodes mails freshly issued two-factor backup codes.
func (s *SMTP) SendBackupCodes(ctx context.Context, to string, codes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := s.newMessage(to, "Your 2FA backup codes - "+s.config.AppName)

	var b strings.Builder
	b.WriteString("Your two-factor backup codes are:\n\n")
	for i, code := range codes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, code)
	}
	b.WriteString("\nStore them somewhere safe. Each code can be used once when your authenticator app is unavailable.")
	m.SetBody("text/plain", b.String())

	return s.dialer.DialAndSend(m)
}

func (s *SMTP) newMessage(to, subject string) *gomail.Message {
	m := gomail.NewMessage(gomail.SetEncoding(gomail.Unencoded))
	m.SetHeader("From", s.config.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	return m
}

func (s *SMTP) verifyLink(token string) string {
	if s.config.VerifyURL == "" {
		return token
	}
	u, err := url.Parse(s.config.VerifyURL)
	if err != nil {
		return token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
