package mail

import (
	"context"
	"log/slog"
)

// Log records outgoing mail as log lines. Tokens and codes are not logged.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a mailer writing to logger, or to slog.Default when nil.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "mail")}
}

// SendVerificationEmail logs the recipient; the token is dropped.
func (l *Log) SendVerificationEmail(ctx context.Context, to, name, _ string) error {
	l.logger.InfoContext(ctx, "verification email", "to", to, "name", name)
	return nil
}

// SendBackupCodes logs the recipient and how many codes were issued.
func (l *Log) SendBackupCodes(ctx context.Context, to string, codes []string) error {
	l.logger.InfoContext(ctx, "backup codes email", "to", to, "count", len(codes))
	return nil
}
