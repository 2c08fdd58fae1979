package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/db"
	"github.com/lalithlochan/waitlist/internal/metrics"
	"github.com/lalithlochan/waitlist/internal/waitlist"
)

// SignupRequest is the body of POST /api/waitlist.
type SignupRequest struct {
	Email string `json:"email"`
}

// SignupResponse is returned for both new and repeated signups.
type SignupResponse struct {
	Success   bool   `json:"success,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Rank      int64  `json:"rank"`
	Message   string `json:"message"`
}

// Signup handles POST /api/waitlist
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	result, err := h.waitlist.Signup(r.Context(), req.Email)
	if err != nil {
		var verr *waitlist.ValidationError
		if errors.As(err, &verr) {
			metrics.RecordSignup("invalid")
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+verr.Field, verr.Reason)
			return
		}

		metrics.RecordSignup("error")
		h.logger.Error("signup failed", zap.Error(err))
		h.report(r, "Error in /api/waitlist", err)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to sign up", "")
		return
	}

	metrics.RecordSignup(result.Outcome.String())

	resp := SignupResponse{Rank: result.Rank}
	if result.Outcome == waitlist.Duplicate {
		resp.Duplicate = true
		resp.Message = fmt.Sprintf("You already signed up! Your signup number is %d.", result.Rank)
	} else {
		resp.Success = true
		resp.Message = fmt.Sprintf("Successfully signed up! Your signup number is %d.", result.Rank)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Rank handles GET /api/rank?email=
func (h *Handler) Rank(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing email", "email query parameter is required")
		return
	}

	rank, err := h.waitlist.RankOf(r.Context(), email)
	if err != nil {
		var verr *waitlist.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+verr.Field, verr.Reason)
		case errors.Is(err, db.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Email not found in waitlist", "")
		default:
			h.logger.Error("rank lookup failed", zap.Error(err))
			h.report(r, "Error in /api/rank", err)
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get rank", "")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"rank": rank})
}

// ListWaitlist handles GET /api/get-all-waitlist
func (h *Handler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.waitlist.Roster(r.Context())
	if err != nil {
		h.logger.Error("failed to list waitlist", zap.Error(err))
		h.report(r, "Error in /api/get-all-waitlist", err)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to fetch waitlist data", "")
		return
	}

	if entries == nil {
		entries = []waitlist.RankedEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

var csvHeader = []string{"id", "email", "created_at", "rank"}

// ExportWaitlistCSV handles GET /api/waitlist.csv
func (h *Handler) ExportWaitlistCSV(w http.ResponseWriter, r *http.Request) {
	entries, err := h.waitlist.Roster(r.Context())
	if err != nil {
		h.logger.Error("failed to export waitlist", zap.Error(err))
		h.report(r, "Error in /api/waitlist.csv", err)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to export waitlist", "")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="waitlist.csv"`)
	if len(entries) == 0 {
		w.Header().Set("X-Empty-Result", "true")
	}
	w.WriteHeader(http.StatusOK)

	if err := writeRosterCSV(w, entries); err != nil {
		h.logger.Warn("failed to write csv export", zap.Error(err))
	}
}

// writeRosterCSV writes a header row followed by one row per entry.
func writeRosterCSV(w http.ResponseWriter, entries []waitlist.RankedEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.ID.String(),
			e.Email,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			strconv.FormatInt(e.Rank, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ClearWaitlist handles POST /api/clear-waitlist
func (h *Handler) ClearWaitlist(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.waitlist.Clear(r.Context())
	if err != nil {
		h.logger.Error("failed to clear waitlist", zap.Error(err))
		h.report(r, "Error in /api/clear-waitlist", err)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to clear waitlist", "")
		return
	}

	h.logger.Info("waitlist cleared", zap.Int64("deleted", deleted))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Waitlist cleared successfully, admin record preserved",
		"deleted": deleted,
	})
}
