package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/campaign"
)

// ReminderRequest is the body of a forced reminder campaign. From is the
// display name shown to recipients, not an address.
type ReminderRequest struct {
	From    string `json:"from" validate:"required,max=100"`
	Subject string `json:"subject" validate:"required,max=200"`
	Text    string `json:"text" validate:"required"`
}

// LaunchDateRequest is the body of POST /api/set-launch-date. A null
// launchDate clears it.
type LaunchDateRequest struct {
	LaunchDate *string `json:"launchDate"`
}

// launchDateLayouts are accepted in order. The second form is what an HTML
// datetime-local input submits and is read as UTC.
var launchDateLayouts = []string{time.RFC3339, "2006-01-02T15:04"}

func parseLaunchDate(s string) (time.Time, error) {
	for _, layout := range launchDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("launchDate %q is not an RFC 3339 timestamp", s)
}

// SendReminders handles POST /api/waitlist-reminders
// Sends to the whole roster now, ignoring the launch gate.
func (h *Handler) SendReminders(w http.ResponseWriter, r *http.Request) {
	var req ReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	req.From = strings.TrimSpace(req.From)
	req.Subject = strings.TrimSpace(req.Subject)
	if strings.TrimSpace(req.Text) == "" {
		req.Text = ""
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request",
			"Sender name, subject, and message text are required.", err.Error())
		return
	}

	result, err := h.campaigns.RunForced(r.Context(), campaign.Message{
		DisplayName: req.From,
		Subject:     req.Subject,
		Text:        req.Text,
	})
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}

	h.logger.Info("forced reminder campaign finished",
		zap.Int("total", result.Total),
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
	)

	h.writeJSON(w, http.StatusOK, result)
}

// RunScheduledReminders handles GET /api/waitlist-reminders
// Sends only once the launch date has passed and no reminder went out yet.
// Blocked runs are reported with 200 and an explanatory message.
func (h *Handler) RunScheduledReminders(w http.ResponseWriter, r *http.Request) {
	result, err := h.campaigns.RunScheduled(r.Context())
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}

	h.logger.Info("scheduled reminder check finished",
		zap.String("status", string(result.Status)),
		zap.Int("success", result.SuccessCount),
		zap.Bool("flag_updated", result.FlagUpdated),
	)

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotConfigured):
		h.writeError(w, http.StatusNotImplemented, "not_configured",
			"Email delivery is not configured on the server.", err.Error())
	case errors.Is(err, campaign.ErrInProgress):
		h.writeError(w, http.StatusConflict, "campaign_in_progress",
			"A reminder campaign is already running", "")
	case errors.Is(err, campaign.ErrRoster):
		h.writeError(w, http.StatusInternalServerError, "database_error",
			"Failed to fetch waitlist emails from database", "")
	case errors.Is(err, campaign.ErrConfigStore):
		h.writeError(w, http.StatusInternalServerError, "database_error",
			"Failed to fetch waitlist settings from database", "")
	default:
		h.logger.Error("reminder campaign failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error",
			"An unexpected error occurred while sending reminders", "")
	}
}

// ToggleReminders handles POST /api/toggle-reminders
func (h *Handler) ToggleReminders(w http.ResponseWriter, r *http.Request) {
	sent, err := h.campaigns.Toggle(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to toggle reminder flags", "")
		return
	}

	h.logger.Info("reminder flag toggled", zap.Bool("reminder_sent", sent))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      fmt.Sprintf("Reminder flags toggled successfully. New value: %t", sent),
		"reminderSent": sent,
	})
}

// GetLaunchDate handles GET /api/get-launch-date
func (h *Handler) GetLaunchDate(w http.ResponseWriter, r *http.Request) {
	launchDate, err := h.campaigns.LaunchDate(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to fetch launch date from database", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]*time.Time{"launchDate": launchDate})
}

// SetLaunchDate handles POST /api/set-launch-date
func (h *Handler) SetLaunchDate(w http.ResponseWriter, r *http.Request) {
	var req LaunchDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	var launchDate *time.Time
	if req.LaunchDate != nil && strings.TrimSpace(*req.LaunchDate) != "" {
		t, err := parseLaunchDate(strings.TrimSpace(*req.LaunchDate))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid launchDate", err.Error())
			return
		}
		launchDate = &t
	}

	stored, err := h.campaigns.SetLaunchDate(r.Context(), launchDate)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to set launch date", "")
		return
	}

	message := "Launch date cleared"
	if stored != nil {
		message = "Launch date set to " + stored.UTC().Format(time.RFC3339)
	}

	h.logger.Info("launch date updated", zap.Timep("launch_date", stored))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    message,
		"launchDate": stored,
	})
}
