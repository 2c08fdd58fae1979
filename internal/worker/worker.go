// Package worker runs the scheduled reminder check in the background.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/campaign"
)

// Campaigns is the subset of the campaign service the worker drives.
type Campaigns interface {
	RunScheduled(ctx context.Context) (*campaign.Result, error)
}

type Worker struct {
	campaigns Campaigns
	config    Config
	logger    *zap.Logger
}

type Config struct {
	// CheckInterval is how often the launch gate is evaluated.
	CheckInterval time.Duration
	// RunOnStart evaluates the gate once immediately instead of waiting a
	// full interval.
	RunOnStart bool
}

func New(campaigns Campaigns, cfg Config, logger *zap.Logger) *Worker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Hour
	}

	return &Worker{
		campaigns: campaigns,
		config:    cfg,
		logger:    logger,
	}
}

// Start blocks until ctx is cancelled, running the gated campaign on every tick.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	w.logger.Info("reminder worker started", zap.Duration("interval", w.config.CheckInterval))

	if w.config.RunOnStart {
		w.check(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder worker stopping")
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Worker) check(ctx context.Context) {
	w.logger.Debug("checking reminder gate")

	result, err := w.campaigns.RunScheduled(ctx)
	switch {
	case errors.Is(err, campaign.ErrInProgress):
		w.logger.Info("reminder campaign already running elsewhere, skipping tick")
		return
	case errors.Is(err, campaign.ErrNotConfigured):
		w.logger.Warn("reminder check skipped, email delivery not configured", zap.Error(err))
		return
	case err != nil:
		w.logger.Error("scheduled reminder check failed", zap.Error(err))
		return
	}

	if result.Status != campaign.StatusCompleted {
		w.logger.Debug("reminder campaign not due",
			zap.String("status", string(result.Status)),
			zap.String("message", result.Message),
		)
		return
	}

	w.logger.Info("scheduled reminder campaign finished",
		zap.Int("total", result.Total),
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
		zap.Bool("flag_updated", result.FlagUpdated),
	)
}
