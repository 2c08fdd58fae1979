// Package telemetry reports operational error events to an external
// collector. Reporting is best-effort: failures are logged and dropped.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
)

// Event is one telemetry record.
type Event struct {
	Type         string    `json:"eventType"`
	Timestamp    time.Time `json:"timestamp"`
	Domain       string    `json:"domain,omitempty"`
	Message      string    `json:"message"`
	ErrorName    string    `json:"errorName,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Route        string    `json:"route,omitempty"`
	Method       string    `json:"method,omitempty"`
	Recipient    string    `json:"recipientEmail,omitempty"`
	StatusCode   int       `json:"statusCode,omitempty"`
}

// Sink delivers events to one destination.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Name() string
}

// Reporter fans events out to its sinks in the background. A nil
// *Reporter is valid and reports nothing.
type Reporter struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New returns a Reporter. With enabled false, or no sinks, events are dropped.
func New(logger *zap.Logger, enabled bool, sinks ...Sink) *Reporter {
	if !enabled {
		logger.Info("telemetry disabled")
		sinks = nil
	} else if len(sinks) == 0 {
		logger.Warn("telemetry enabled but no sink configured, events will be dropped")
	}

	return &Reporter{
		sinks:   sinks,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Report sends an error event without blocking the caller. The request
// context only supplies values; its cancellation does not abort delivery.
func (r *Reporter) Report(ctx context.Context, event Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if event.Type == "" {
		event.Type = "error"
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	ctx = context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		r.wg.Add(1)
		go func(sink Sink) {
			defer r.wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			if err := sink.Send(sendCtx, event); err != nil {
				r.logger.Warn("failed to send telemetry event",
					zap.String("sink", sink.Name()),
					zap.String("message", event.Message),
					zap.Error(err),
				)
			}
		}(sink)
	}
}

// Wait blocks until every in-flight event has been delivered or dropped.
func (r *Reporter) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}
