package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalithlochan/waitlist/internal/auth"
	"github.com/lalithlochan/waitlist/internal/campaign"
	"github.com/lalithlochan/waitlist/internal/db"
	"github.com/lalithlochan/waitlist/internal/waitlist"
)

const (
	testAdminEmail = "admin@example.com"
	testPassword   = "correct horse"
	testJWTSecret  = "test-secret"
	testCronSecret = "cron-secret"
)

var ErrDatabaseError = errors.New("database error")

// MockWaitlist is a fake waitlist service for testing
type MockWaitlist struct {
	result  *waitlist.SignupResult
	rank    int64
	roster  []waitlist.RankedEntry
	deleted int64
	err     error

	signupEmail string
	clearCalled bool
}

func (m *MockWaitlist) Signup(ctx context.Context, email string) (*waitlist.SignupResult, error) {
	m.signupEmail = email
	return m.result, m.err
}

func (m *MockWaitlist) RankOf(ctx context.Context, email string) (int64, error) {
	return m.rank, m.err
}

func (m *MockWaitlist) Roster(ctx context.Context) ([]waitlist.RankedEntry, error) {
	return m.roster, m.err
}

func (m *MockWaitlist) Clear(ctx context.Context) (int64, error) {
	m.clearCalled = true
	return m.deleted, m.err
}

// MockCampaigns is a fake campaign service for testing
type MockCampaigns struct {
	result     *campaign.Result
	err        error
	sent       bool
	launchDate *time.Time

	forcedMsg       *campaign.Message
	scheduledCalled bool
	setDateCalled   bool
}

func (m *MockCampaigns) RunForced(ctx context.Context, msg campaign.Message) (*campaign.Result, error) {
	m.forcedMsg = &msg
	return m.result, m.err
}

func (m *MockCampaigns) RunScheduled(ctx context.Context) (*campaign.Result, error) {
	m.scheduledCalled = true
	return m.result, m.err
}

func (m *MockCampaigns) Toggle(ctx context.Context) (bool, error) {
	m.sent = !m.sent
	return m.sent, m.err
}

func (m *MockCampaigns) LaunchDate(ctx context.Context) (*time.Time, error) {
	return m.launchDate, m.err
}

func (m *MockCampaigns) SetLaunchDate(ctx context.Context, launchDate *time.Time) (*time.Time, error) {
	m.setDateCalled = true
	if m.err != nil {
		return nil, m.err
	}
	m.launchDate = launchDate
	return launchDate, nil
}

type testEnv struct {
	handler   *Handler
	waitlist  *MockWaitlist
	campaigns *MockCampaigns
	posts     *MockPosts
	auth      *auth.Authenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	env := &testEnv{
		waitlist:  &MockWaitlist{},
		campaigns: &MockCampaigns{},
		posts:     NewMockPosts(),
		auth: auth.New(auth.Config{
			AdminEmail:   testAdminEmail,
			PasswordHash: string(hash),
			JWTSecret:    testJWTSecret,
			TokenTTL:     time.Hour,
		}),
	}
	env.handler = NewHandler(zap.NewNop(), env.waitlist, env.campaigns, env.posts, env.auth, nil,
		Config{CronSecret: testCronSecret})
	return env
}

// do sends a request through the full /api router.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.handler.Routes(nil).ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) adminCookie(t *testing.T) *http.Cookie {
	t.Helper()
	token, err := e.auth.Login(testAdminEmail, testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return &http.Cookie{Name: auth.CookieName, Value: token}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var errResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return errResp
}

func TestSignup(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		result         *waitlist.SignupResult
		err            error
		expectedStatus int
		checkResponse  func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:           "new signup",
			body:           SignupRequest{Email: "user@example.com"},
			result:         &waitlist.SignupResult{Outcome: waitlist.Created, Email: "user@example.com", Rank: 7},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var resp SignupResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if !resp.Success || resp.Duplicate {
					t.Errorf("expected success without duplicate, got %+v", resp)
				}
				if resp.Rank != 7 {
					t.Errorf("expected rank 7, got %d", resp.Rank)
				}
				if resp.Message != "Successfully signed up! Your signup number is 7." {
					t.Errorf("unexpected message %q", resp.Message)
				}
			},
		},
		{
			name:           "duplicate signup",
			body:           SignupRequest{Email: "user@example.com"},
			result:         &waitlist.SignupResult{Outcome: waitlist.Duplicate, Email: "user@example.com", Rank: 3},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var body map[string]interface{}
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if body["duplicate"] != true {
					t.Errorf("expected duplicate true, got %v", body["duplicate"])
				}
				if _, ok := body["success"]; ok {
					t.Error("duplicate response should not carry success")
				}
				if body["message"] != "You already signed up! Your signup number is 3." {
					t.Errorf("unexpected message %v", body["message"])
				}
			},
		},
		{
			name:           "invalid email",
			body:           SignupRequest{Email: "nope"},
			err:            &waitlist.ValidationError{Field: "email", Reason: "must be a valid email address"},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				errResp := decodeError(t, rec)
				if errResp.Title != "Invalid email" {
					t.Errorf("expected title naming the field, got %q", errResp.Title)
				}
			},
		},
		{
			name:           "store failure",
			body:           SignupRequest{Email: "user@example.com"},
			err:            &waitlist.StoreError{Op: "insert", Err: ErrDatabaseError},
			expectedStatus: http.StatusInternalServerError,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
					t.Errorf("expected problem+json, got %s", ct)
				}
			},
		},
		{
			name:           "malformed json",
			body:           `{"email":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.waitlist.result = tt.result
			env.waitlist.err = tt.err

			rec := env.do(t, http.MethodPost, "/waitlist", tt.body, nil)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, rec)
			}
		})
	}
}

func TestRank(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		rank           int64
		err            error
		expectedStatus int
	}{
		{"found", "?email=user@example.com", 4, nil, http.StatusOK},
		{"missing email", "", 0, nil, http.StatusBadRequest},
		{"not on waitlist", "?email=ghost@example.com", 0, db.ErrNotFound, http.StatusNotFound},
		{"store failure", "?email=user@example.com", 0, &waitlist.StoreError{Op: "rank", Err: ErrDatabaseError}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.waitlist.rank = tt.rank
			env.waitlist.err = tt.err

			rec := env.do(t, http.MethodGet, "/rank"+tt.query, nil, nil)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if rec.Code == http.StatusOK {
				var resp map[string]int64
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp["rank"] != tt.rank {
					t.Errorf("expected rank %d, got %d", tt.rank, resp["rank"])
				}
			}
		})
	}
}

func TestExportWaitlistCSV_Empty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/waitlist.csv", nil, env.adminCookie(t))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Empty-Result") != "true" {
		t.Error("expected X-Empty-Result header on empty export")
	}
	if got := rec.Body.String(); got != "id,email,created_at,rank\n" {
		t.Errorf("expected header-only body, got %q", got)
	}
}

func TestExportWaitlistCSV_Quoting(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env.waitlist.roster = []waitlist.RankedEntry{
		{ID: id, Email: `a,"b`, CreatedAt: created, Rank: 1},
	}

	rec := env.do(t, http.MethodGet, "/waitlist.csv", nil, env.adminCookie(t))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Empty-Result") != "" {
		t.Error("did not expect X-Empty-Result on non-empty export")
	}
	want := "id,email,created_at,rank\n" +
		`00000000-0000-0000-0000-000000000001,"a,""b",2026-01-02T03:04:05Z,1` + "\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("unexpected csv:\n got %q\nwant %q", got, want)
	}
}

func TestListWaitlist_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/get-all-waitlist", nil, env.adminCookie(t))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected empty array, got %s", got)
	}
}

func TestClearWaitlist(t *testing.T) {
	env := newTestEnv(t)
	env.waitlist.deleted = 12

	rec := env.do(t, http.MethodPost, "/clear-waitlist", nil, env.adminCookie(t))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !env.waitlist.clearCalled {
		t.Error("expected Clear to be called")
	}

	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["deleted"] != float64(12) {
		t.Errorf("expected deleted 12, got %v", resp["deleted"])
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	otherToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Email: "intruder@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	tests := []struct {
		name           string
		cookie         *http.Cookie
		expectedStatus int
	}{
		{"no cookie", nil, http.StatusUnauthorized},
		{"garbage token", &http.Cookie{Name: auth.CookieName, Value: "not-a-jwt"}, http.StatusUnauthorized},
		{"someone else", &http.Cookie{Name: auth.CookieName, Value: otherToken}, http.StatusForbidden},
		{"admin", env.adminCookie(t), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.waitlist.clearCalled = false
			rec := env.do(t, http.MethodPost, "/clear-waitlist", nil, tt.cookie)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus != http.StatusOK && env.waitlist.clearCalled {
				t.Error("handler must not run for rejected requests")
			}
		})
	}
}

func TestRunScheduledReminders_CronSecret(t *testing.T) {
	tests := []struct {
		name           string
		secret         string
		expectedStatus int
	}{
		{"valid secret", testCronSecret, http.StatusOK},
		{"wrong secret", "guess", http.StatusUnauthorized},
		{"no secret and no session", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.campaigns.result = &campaign.Result{
				Status:       campaign.StatusTooEarly,
				Message:      "Reminders not sent yet (launch date is in the future: 2030-01-01T00:00:00Z)",
				FailedEmails: []campaign.FailedEmail{},
			}

			req := httptest.NewRequest(http.MethodGet, "/waitlist-reminders", nil)
			if tt.secret != "" {
				req.Header.Set(CronSecretHeader, tt.secret)
			}
			rec := httptest.NewRecorder()
			env.handler.Routes(nil).ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if env.campaigns.scheduledCalled != (tt.expectedStatus == http.StatusOK) {
				t.Errorf("scheduledCalled = %v", env.campaigns.scheduledCalled)
			}
		})
	}
}

func TestRunScheduledReminders_BlockedIsOK(t *testing.T) {
	env := newTestEnv(t)
	env.campaigns.result = &campaign.Result{
		Status:       campaign.StatusNotConfigured,
		Message:      "Launch date is not set. Cannot send reminders.",
		FailedEmails: []campaign.FailedEmail{},
	}

	rec := env.do(t, http.MethodGet, "/waitlist-reminders", nil, env.adminCookie(t))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp campaign.Result
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != campaign.StatusNotConfigured {
		t.Errorf("expected not_configured, got %s", resp.Status)
	}
	if resp.SuccessCount != 0 {
		t.Errorf("expected no sends, got %d", resp.SuccessCount)
	}
}

func TestSendReminders(t *testing.T) {
	partial := &campaign.Result{
		Message:      "Attempted to send 3 emails. Successfully sent 2 reminder emails. 1 error(s) occurred.",
		Status:       campaign.StatusCompleted,
		Total:        3,
		SuccessCount: 2,
		ErrorCount:   1,
		FailedEmails: []campaign.FailedEmail{
			{Email: "bad@example.com", Error: campaign.SendError{Name: "TransportError", Message: "connection refused"}},
		},
		HadErrors: true,
	}

	tests := []struct {
		name           string
		body           interface{}
		result         *campaign.Result
		err            error
		expectedStatus int
	}{
		{"partial failure still 200", ReminderRequest{From: "Launch Team", Subject: "Hi", Text: "Soon!"}, partial, nil, http.StatusOK},
		{"missing subject", ReminderRequest{From: "Launch Team", Text: "Soon!"}, nil, nil, http.StatusBadRequest},
		{"blank text", ReminderRequest{From: "Launch Team", Subject: "Hi", Text: "   "}, nil, nil, http.StatusBadRequest},
		{"mail not configured", ReminderRequest{From: "A", Subject: "B", Text: "C"}, nil, fmt.Errorf("%w: no mail transport configured", campaign.ErrNotConfigured), http.StatusNotImplemented},
		{"campaign running", ReminderRequest{From: "A", Subject: "B", Text: "C"}, nil, campaign.ErrInProgress, http.StatusConflict},
		{"roster unavailable", ReminderRequest{From: "A", Subject: "B", Text: "C"}, nil, fmt.Errorf("%w: timeout", campaign.ErrRoster), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.campaigns.result = tt.result
			env.campaigns.err = tt.err

			rec := env.do(t, http.MethodPost, "/waitlist-reminders", tt.body, env.adminCookie(t))

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.expectedStatus == http.StatusBadRequest && env.campaigns.forcedMsg != nil {
				t.Error("campaign must not run for invalid input")
			}
			if tt.expectedStatus == http.StatusOK {
				var resp campaign.Result
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if !resp.HadErrors || resp.ErrorCount != 1 || len(resp.FailedEmails) != 1 {
					t.Errorf("unexpected result %+v", resp)
				}
				if env.campaigns.forcedMsg.DisplayName != "Launch Team" {
					t.Errorf("expected display name passed through, got %q", env.campaigns.forcedMsg.DisplayName)
				}
			}
		})
	}
}

func TestToggleReminders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/toggle-reminders", nil, env.adminCookie(t))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["message"] != "Reminder flags toggled successfully. New value: true" {
		t.Errorf("unexpected message %v", resp["message"])
	}
}

func TestLaunchDate(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)

	rec := env.do(t, http.MethodGet, "/get-launch-date", nil, cookie)
	if got := strings.TrimSpace(rec.Body.String()); got != `{"launchDate":null}` {
		t.Errorf("expected null launch date, got %s", got)
	}

	rec = env.do(t, http.MethodPost, "/set-launch-date", map[string]string{"launchDate": "2030-05-01T12:00:00+02:00"}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)
	if env.campaigns.launchDate == nil || !env.campaigns.launchDate.Equal(want) {
		t.Errorf("expected launch date %v, got %v", want, env.campaigns.launchDate)
	}

	rec = env.do(t, http.MethodPost, "/set-launch-date", `{"launchDate":null}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.campaigns.launchDate != nil {
		t.Error("expected launch date to be cleared")
	}

	env.campaigns.setDateCalled = false
	rec = env.do(t, http.MethodPost, "/set-launch-date", map[string]string{"launchDate": "next tuesday"}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.campaigns.setDateCalled {
		t.Error("store must not be written for an invalid date")
	}
}

func TestLoginLogout(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/login", LoginRequest{Email: testAdminEmail, Password: testPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("expected session cookie")
	}
	if !session.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if _, err := env.auth.Verify(session.Value); err != nil {
		t.Errorf("issued token does not verify: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/login", LoginRequest{Email: testAdminEmail, Password: "wrong"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/login", LoginRequest{Email: testAdminEmail}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing password, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/logout", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("expected an expiring cookie, got %+v", cookies)
	}
}
