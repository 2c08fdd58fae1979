package campaign

import (
	"time"

	"github.com/lalithlochan/waitlist/internal/db"
)

// Decision is the launch gate's verdict on a scheduled campaign.
type Decision int

const (
	Admitted Decision = iota
	BlockedNotConfigured
	BlockedTooEarly
	BlockedAlreadySent
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case BlockedNotConfigured:
		return "not_configured"
	case BlockedTooEarly:
		return "too_early"
	case BlockedAlreadySent:
		return "already_sent"
	default:
		return "unknown"
	}
}

// Gate decides whether a scheduled campaign may run. It is pure; forced
// campaigns never consult it.
type Gate struct{}

// Evaluate admits a campaign once the launch date has been reached and no
// reminder has been recorded as sent for it.
func (Gate) Evaluate(cfg *db.CampaignConfig, now time.Time) Decision {
	if cfg == nil || cfg.LaunchDate == nil {
		return BlockedNotConfigured
	}
	if now.Before(*cfg.LaunchDate) {
		return BlockedTooEarly
	}
	if cfg.ReminderSent {
		return BlockedAlreadySent
	}
	return Admitted
}
