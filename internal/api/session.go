package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/auth"
)

// CronSecretHeader carries the shared secret for scheduler requests.
const CronSecretHeader = "X-Cron-Secret"

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Email and password are required", "")
		return
	}

	token, err := h.auth.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			h.logger.Error("login attempted but admin auth is not configured")
			h.writeError(w, http.StatusInternalServerError, "server_error", "Server configuration error", "")
			return
		}
		h.logger.Warn("admin login failed", zap.String("remote_addr", r.RemoteAddr))
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials", "")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.auth.TokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	h.logger.Info("admin logged in")

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Login successful",
	})
}

// Logout handles POST /api/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// AdminOnly rejects requests without a valid admin session cookie:
// 401 when the token is missing or invalid, 403 when it belongs to
// someone other than the admin.
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorizeAdmin(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminOrCron admits scheduler requests presenting the cron secret and
// otherwise falls back to the admin session check.
func (h *Handler) AdminOrCron(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret := r.Header.Get(CronSecretHeader); secret != "" && h.config.CronSecret != "" {
			if subtle.ConstantTimeCompare([]byte(secret), []byte(h.config.CronSecret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid cron secret", "")
			return
		}

		if !h.authorizeAdmin(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorizeAdmin writes the error response and returns false when the
// request is not from the admin.
func (h *Handler) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(auth.CookieName)
	if err != nil || cookie.Value == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated", "")
		return false
	}

	if _, err := h.auth.Verify(cookie.Value); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotAuthorized):
			h.writeError(w, http.StatusForbidden, "forbidden", "Not authorized", "")
		case errors.Is(err, auth.ErrNotConfigured):
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated", "")
		default:
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token", "")
		}
		return false
	}
	return true
}
