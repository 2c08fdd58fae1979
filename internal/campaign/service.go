// Package campaign runs reminder campaigns: the launch gate, per-address
// dispatch and the campaign state transitions around them.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/db"
	"github.com/lalithlochan/waitlist/internal/mailer"
	"github.com/lalithlochan/waitlist/internal/metrics"
	"github.com/lalithlochan/waitlist/internal/redis"
	"github.com/lalithlochan/waitlist/internal/telemetry"
)

var (
	// ErrNotConfigured means no mail transport or sender address is set up.
	ErrNotConfigured = errors.New("email delivery is not configured")

	// ErrConfigStore means the campaign config could not be read or written.
	ErrConfigStore = errors.New("campaign config store failure")

	// ErrRoster means the recipient list could not be loaded.
	ErrRoster = errors.New("waitlist roster unavailable")

	// ErrInProgress means another campaign currently holds the campaign lock.
	ErrInProgress = errors.New("a reminder campaign is already running")
)

const lockName = "reminder-campaign"

// Store is what the campaign service needs from the database.
type Store interface {
	GetCampaignConfig(ctx context.Context) (*db.CampaignConfig, error)
	SetLaunchDate(ctx context.Context, launchDate *time.Time) (*db.CampaignConfig, error)
	ToggleReminderSent(ctx context.Context) (bool, error)
	MarkReminderSent(ctx context.Context, launchDate time.Time) (bool, error)
	ListRecipients(ctx context.Context) ([]string, error)
	RosterExists(ctx context.Context) bool
}

// Locker provides cross-instance mutual exclusion for campaigns.
type Locker interface {
	Acquire(ctx context.Context, name string) (func(), error)
}

// Status summarizes how a campaign run ended.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusNotConfigured Status = "not_configured"
	StatusTooEarly      Status = "too_early"
	StatusAlreadySent   Status = "already_sent"
)

// Result is the report returned for every campaign run that was not a
// hard failure, including blocked runs and partial failures.
type Result struct {
	Message      string        `json:"message"`
	Status       Status        `json:"status"`
	Total        int           `json:"total"`
	SuccessCount int           `json:"successCount"`
	ErrorCount   int           `json:"errorCount"`
	FailedEmails []FailedEmail `json:"failedEmails"`
	HadErrors    bool          `json:"hadErrors"`
	FlagUpdated  bool          `json:"flagUpdated"`
}

func blocked(status Status, message string) *Result {
	return &Result{Status: status, Message: message, FailedEmails: []FailedEmail{}}
}

// Config configures the campaign service.
type Config struct {
	// SenderEmail is the address reminders are sent from.
	SenderEmail string
}

// Service coordinates the gate, the dispatcher and the config store.
type Service struct {
	store      Store
	dispatcher *Dispatcher
	gate       Gate
	locker     Locker
	reporter   *telemetry.Reporter
	config     Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a campaign service. dispatcher may be nil when no mail
// transport is configured; campaigns then fail with ErrNotConfigured.
// locker may be nil to run without cross-instance locking.
func NewService(store Store, dispatcher *Dispatcher, locker Locker, reporter *telemetry.Reporter, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		locker:     locker,
		reporter:   reporter,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) checkConfigured(ctx context.Context) error {
	var detail string
	switch {
	case s.dispatcher == nil:
		detail = "no mail transport configured"
	case s.config.SenderEmail == "":
		detail = "sender email address is not configured"
	default:
		return nil
	}

	s.logger.Error("reminder campaign cannot run", zap.String("reason", detail))
	s.reporter.Report(ctx, telemetry.Event{
		Message:      "email configuration error",
		ErrorName:    "ConfigurationError",
		ErrorMessage: detail,
		Severity:     telemetry.SeverityCritical,
	})
	return fmt.Errorf("%w: %s", ErrNotConfigured, detail)
}

// lock takes the campaign lock. If the lock backend is unreachable the
// campaign proceeds unlocked.
func (s *Service) lock(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	release, err := s.locker.Acquire(ctx, lockName)
	if errors.Is(err, redis.ErrLockHeld) {
		return nil, ErrInProgress
	}
	if err != nil {
		s.logger.Warn("campaign lock unavailable, proceeding without it", zap.Error(err))
		return func() {}, nil
	}
	return release, nil
}

// RunForced sends msg to the whole roster regardless of the launch date or
// the reminder flag, and never changes the flag.
func (s *Service) RunForced(ctx context.Context, msg Message) (*Result, error) {
	if err := s.checkConfigured(ctx); err != nil {
		metrics.RecordCampaign("forced", "not_configured")
		return nil, err
	}

	release, err := s.lock(ctx)
	if err != nil {
		metrics.RecordCampaign("forced", "in_progress")
		return nil, err
	}
	defer release()

	result, _, err := s.dispatch(ctx, compose(s.config.SenderEmail, msg, nil))
	if err != nil {
		metrics.RecordCampaign("forced", "roster_error")
		return nil, err
	}

	metrics.RecordCampaign("forced", string(result.Status))
	return result, nil
}

// RunScheduled runs the campaign only if the launch gate admits it, and
// marks the reminder as sent when at least one email was accepted.
func (s *Service) RunScheduled(ctx context.Context) (*Result, error) {
	if err := s.checkConfigured(ctx); err != nil {
		metrics.RecordCampaign("scheduled", "not_configured")
		return nil, err
	}

	// The gate is checked before taking the lock so blocked runs stay cheap,
	// and again under the lock because another run may have sent meanwhile.
	if _, blockedResult, err := s.admit(ctx); blockedResult != nil || err != nil {
		return blockedResult, err
	}

	release, err := s.lock(ctx)
	if err != nil {
		metrics.RecordCampaign("scheduled", "in_progress")
		return nil, err
	}
	defer release()

	cfg, blockedResult, err := s.admit(ctx)
	if blockedResult != nil || err != nil {
		return blockedResult, err
	}

	launchDate := *cfg.LaunchDate
	result, dctx, err := s.dispatch(ctx, compose(s.config.SenderEmail, Message{}, &launchDate))
	if err != nil {
		metrics.RecordCampaign("scheduled", "roster_error")
		return nil, err
	}

	if result.SuccessCount > 0 {
		updated, err := s.store.MarkReminderSent(dctx, launchDate)
		if err != nil {
			// The emails are out; report the flag failure without failing the run.
			s.reportStoreError(dctx, "failed to update reminder flag", err)
		}
		result.FlagUpdated = updated
	}

	metrics.RecordCampaign("scheduled", string(result.Status))
	return result, nil
}

// admit reads the campaign config and evaluates the launch gate. It returns
// the config when the run is admitted, or the result to report when blocked.
func (s *Service) admit(ctx context.Context) (*db.CampaignConfig, *Result, error) {
	cfg, err := s.store.GetCampaignConfig(ctx)
	if err != nil {
		s.reportStoreError(ctx, "failed to read campaign config", err)
		metrics.RecordCampaign("scheduled", "config_error")
		return nil, nil, fmt.Errorf("%w: %v", ErrConfigStore, err)
	}

	decision := s.gate.Evaluate(cfg, s.now())
	s.logger.Info("launch gate evaluated",
		zap.String("decision", decision.String()),
		zap.Timep("launch_date", cfg.LaunchDate),
		zap.Bool("reminder_sent", cfg.ReminderSent),
	)

	switch decision {
	case BlockedNotConfigured:
		metrics.RecordCampaign("scheduled", decision.String())
		return nil, blocked(StatusNotConfigured, "Launch date is not set. Cannot send reminders."), nil
	case BlockedTooEarly:
		metrics.RecordCampaign("scheduled", decision.String())
		return nil, blocked(StatusTooEarly, fmt.Sprintf("Reminders not sent yet (launch date is in the future: %s)",
			cfg.LaunchDate.UTC().Format(time.RFC3339))), nil
	case BlockedAlreadySent:
		metrics.RecordCampaign("scheduled", decision.String())
		return nil, blocked(StatusAlreadySent, "Reminder emails already marked as sent."), nil
	}
	return cfg, nil, nil
}

// dispatch loads the roster and sends to it. Once sending starts the run
// is detached from ctx cancellation; the detached context is returned for
// follow-up writes.
func (s *Service) dispatch(ctx context.Context, tmpl mailer.Email) (*Result, context.Context, error) {
	recipients, err := s.store.ListRecipients(ctx)
	if err != nil {
		s.reportStoreError(ctx, "failed to load waitlist roster", err)
		return nil, nil, fmt.Errorf("%w: %v", ErrRoster, err)
	}

	if len(recipients) == 0 {
		s.logger.Info("waitlist is empty, no reminders to send")
		r := blocked(StatusCompleted, "Waitlist is empty. No reminders sent.")
		return r, ctx, nil
	}

	dctx := context.WithoutCancel(ctx)
	delivery := s.dispatcher.Dispatch(dctx, recipients, tmpl)

	msg := fmt.Sprintf("Attempted to send %d emails. Successfully sent %d reminder emails.",
		delivery.Total, delivery.SuccessCount)
	if delivery.ErrorCount > 0 {
		msg += fmt.Sprintf(" %d error(s) occurred.", delivery.ErrorCount)
	}

	return &Result{
		Message:      msg,
		Status:       StatusCompleted,
		Total:        delivery.Total,
		SuccessCount: delivery.SuccessCount,
		ErrorCount:   delivery.ErrorCount,
		FailedEmails: delivery.FailedEmails,
		HadErrors:    delivery.ErrorCount > 0,
	}, dctx, nil
}

// Toggle flips the reminder flag unconditionally and returns the new value.
func (s *Service) Toggle(ctx context.Context) (bool, error) {
	sent, err := s.store.ToggleReminderSent(ctx)
	if err != nil {
		s.reportStoreError(ctx, "failed to toggle reminder flag", err)
		return false, fmt.Errorf("%w: %v", ErrConfigStore, err)
	}
	return sent, nil
}

// LaunchDate returns the configured launch date. It returns nil when unset
// or when the roster table cannot be verified.
func (s *Service) LaunchDate(ctx context.Context) (*time.Time, error) {
	if !s.store.RosterExists(ctx) {
		s.logger.Warn("roster table not verified, reporting no launch date")
		return nil, nil
	}

	cfg, err := s.store.GetCampaignConfig(ctx)
	if err != nil {
		s.reportStoreError(ctx, "failed to read launch date", err)
		return nil, fmt.Errorf("%w: %v", ErrConfigStore, err)
	}
	return cfg.LaunchDate, nil
}

// SetLaunchDate stores a new launch date; nil clears it.
func (s *Service) SetLaunchDate(ctx context.Context, launchDate *time.Time) (*time.Time, error) {
	cfg, err := s.store.SetLaunchDate(ctx, launchDate)
	if err != nil {
		s.reportStoreError(ctx, "failed to set launch date", err)
		return nil, fmt.Errorf("%w: %v", ErrConfigStore, err)
	}
	return cfg.LaunchDate, nil
}

func (s *Service) reportStoreError(ctx context.Context, message string, err error) {
	s.logger.Error(message, zap.Error(err))
	s.reporter.Report(ctx, telemetry.Event{
		Message:      message,
		ErrorName:    "StoreError",
		ErrorMessage: err.Error(),
		Severity:     telemetry.SeverityError,
	})
}
