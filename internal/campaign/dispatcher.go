package campaign

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/waitlist/internal/circuitbreaker"
	"github.com/lalithlochan/waitlist/internal/mailer"
	"github.com/lalithlochan/waitlist/internal/metrics"
	"github.com/lalithlochan/waitlist/internal/telemetry"
)

// SendError describes why one address failed.
type SendError struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// FailedEmail pairs an address with its failure.
type FailedEmail struct {
	Email string    `json:"email"`
	Error SendError `json:"error"`
}

// Delivery is the aggregate outcome of sending to a roster.
// SuccessCount + ErrorCount always equals Total.
type Delivery struct {
	Total        int
	SuccessCount int
	ErrorCount   int
	FailedEmails []FailedEmail
}

// Dispatcher sends one email per address and isolates failures so a bad
// address never stops the rest of the roster.
type Dispatcher struct {
	transport   mailer.Transport
	concurrency int
	reporter    *telemetry.Reporter
	logger      *zap.Logger
}

// NewDispatcher creates a dispatcher. concurrency <= 1 sends sequentially.
func NewDispatcher(transport mailer.Transport, concurrency int, reporter *telemetry.Reporter, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		transport:   transport,
		concurrency: concurrency,
		reporter:    reporter,
		logger:      logger,
	}
}

// Dispatch sends tmpl to every non-blank address in recipients. Blank
// addresses are skipped and not counted.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []string, tmpl mailer.Email) *Delivery {
	addresses := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			addresses = append(addresses, r)
		}
	}

	failures := make([]*SendError, len(addresses))

	if d.concurrency == 1 {
		for i, to := range addresses {
			failures[i] = d.send(ctx, to, tmpl)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for i, to := range addresses {
			g.Go(func() error {
				failures[i] = d.send(ctx, to, tmpl)
				return nil
			})
		}
		_ = g.Wait()
	}

	delivery := &Delivery{
		Total:        len(addresses),
		FailedEmails: []FailedEmail{},
	}
	for i, failure := range failures {
		if failure == nil {
			delivery.SuccessCount++
			continue
		}
		delivery.ErrorCount++
		delivery.FailedEmails = append(delivery.FailedEmails, FailedEmail{
			Email: addresses[i],
			Error: *failure,
		})
	}

	d.logger.Info("reminder dispatch completed",
		zap.String("provider", d.transport.Name()),
		zap.Int("total", delivery.Total),
		zap.Int("success", delivery.SuccessCount),
		zap.Int("errors", delivery.ErrorCount),
	)

	return delivery
}

// send delivers to one address and returns nil on success.
func (d *Dispatcher) send(ctx context.Context, to string, tmpl mailer.Email) *SendError {
	email := tmpl
	email.To = to

	start := time.Now()
	id, err := d.transport.Send(ctx, email)
	elapsed := time.Since(start)

	if err == nil {
		metrics.RecordReminderSend(d.transport.Name(), "sent", elapsed)
		d.logger.Debug("reminder accepted by provider",
			zap.String("to", to),
			zap.String("delivery_id", id),
		)
		return nil
	}

	failure := classify(err)

	result := "failed"
	if mailer.IsRejected(err) {
		result = "rejected"
	}
	metrics.RecordReminderSend(d.transport.Name(), result, elapsed)

	d.logger.Warn("reminder send failed",
		zap.String("to", to),
		zap.String("result", result),
		zap.Error(err),
	)

	d.reporter.Report(ctx, telemetry.Event{
		Message:      "reminder send failed",
		ErrorName:    failure.Name,
		ErrorMessage: failure.Message,
		StatusCode:   failure.StatusCode,
		Recipient:    to,
		Severity:     telemetry.SeverityWarning,
	})

	return failure
}

func classify(err error) *SendError {
	var rejected *mailer.RejectedError
	if errors.As(err, &rejected) {
		name := rejected.Code
		if name == "" {
			name = "RejectedError"
		}
		return &SendError{Name: name, Message: rejected.Message, StatusCode: rejected.StatusCode}
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return &SendError{Name: "CircuitOpenError", Message: err.Error()}
	}
	return &SendError{Name: "TransportError", Message: err.Error()}
}
