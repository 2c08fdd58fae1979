// Package mailer delivers single email messages through a provider.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Email is one outbound message.
type Email struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Transport is the unified interface for mail providers.
// Implementations: SES, Postmark, SMTP, Log.
type Transport interface {
	// Send delivers email and returns the provider's delivery id.
	Send(ctx context.Context, email Email) (string, error)
	Name() string
}

// RejectedError is returned when the provider was reached and refused the
// message (invalid address, quota, sandbox restrictions). Any other error
// from Send means the provider could not be reached.
type RejectedError struct {
	Provider   string
	Code       string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s rejected message (%s, status %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s rejected message (%s): %s", e.Provider, e.Code, e.Message)
}

// IsRejected reports whether err is a provider rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

func validate(email Email) error {
	if email.To == "" {
		return fmt.Errorf("email missing 'to' address")
	}
	if email.From == "" {
		return fmt.Errorf("email missing 'from' address")
	}
	if email.Subject == "" {
		return fmt.Errorf("email missing subject")
	}
	return nil
}

// LogTransport logs messages instead of sending them (development).
type LogTransport struct {
	logger *zap.Logger
	seq    atomic.Int64
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, email Email) (string, error) {
	if err := validate(email); err != nil {
		return "", err
	}
	id := fmt.Sprintf("log-%d", t.seq.Add(1))
	t.logger.Info("logging email (development mode)",
		zap.String("delivery_id", id),
		zap.String("from", email.From),
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
	)
	return id, nil
}

func (t *LogTransport) Name() string { return "log" }
