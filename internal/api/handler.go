package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/auth"
	"github.com/lalithlochan/waitlist/internal/campaign"
	"github.com/lalithlochan/waitlist/internal/db"
	"github.com/lalithlochan/waitlist/internal/redis"
	"github.com/lalithlochan/waitlist/internal/telemetry"
	"github.com/lalithlochan/waitlist/internal/waitlist"
)

// WaitlistService defines the signup and roster operations the API exposes.
type WaitlistService interface {
	Signup(ctx context.Context, email string) (*waitlist.SignupResult, error)
	RankOf(ctx context.Context, email string) (int64, error)
	Roster(ctx context.Context) ([]waitlist.RankedEntry, error)
	Clear(ctx context.Context) (int64, error)
}

// CampaignService defines the reminder campaign operations.
type CampaignService interface {
	RunForced(ctx context.Context, msg campaign.Message) (*campaign.Result, error)
	RunScheduled(ctx context.Context) (*campaign.Result, error)
	Toggle(ctx context.Context) (bool, error)
	LaunchDate(ctx context.Context) (*time.Time, error)
	SetLaunchDate(ctx context.Context, launchDate *time.Time) (*time.Time, error)
}

// PostRepository defines the blog post database operations.
type PostRepository interface {
	CountPosts(ctx context.Context) (int, error)
	ListPosts(ctx context.Context, limit, offset int) ([]*db.Post, error)
	GetPostBySlug(ctx context.Context, slug string) (*db.Post, error)
	CreatePost(ctx context.Context, p *db.Post) error
	UpdatePost(ctx context.Context, p *db.Post) error
	DeletePost(ctx context.Context, slug string) error
}

// Authenticator issues and verifies admin session tokens.
type Authenticator interface {
	Login(email, password string) (string, error)
	Verify(token string) (*auth.Claims, error)
	TokenTTL() time.Duration
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Config holds request-level settings for the handlers.
type Config struct {
	// CronSecret authorizes scheduler calls to the gated reminder endpoint.
	// Empty disables secret-based access.
	CronSecret string

	// SecureCookies marks the session cookie Secure. Set in production.
	SecureCookies bool
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	waitlist  WaitlistService
	campaigns CampaignService
	posts     PostRepository
	auth      Authenticator
	reporter  *telemetry.Reporter // nil disables telemetry
	validate  *validator.Validate
	markdown  goldmark.Markdown
	config    Config
}

// NewHandler creates a new API handler
func NewHandler(
	logger *zap.Logger,
	waitlistSvc WaitlistService,
	campaigns CampaignService,
	posts PostRepository,
	authenticator Authenticator,
	reporter *telemetry.Reporter,
	cfg Config,
) *Handler {
	return &Handler{
		logger:    logger,
		waitlist:  waitlistSvc,
		campaigns: campaigns,
		posts:     posts,
		auth:      authenticator,
		reporter:  reporter,
		validate:  validator.New(),
		// Posts are admin-authored; inline HTML such as <img> is kept.
		markdown:  goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe())),
		config:    cfg,
	}
}

// Routes returns the router mounted under /api. signupLimiter may be nil
// to leave signups unthrottled.
func (h *Handler) Routes(signupLimiter *redis.RateLimiter) chi.Router {
	r := chi.NewRouter()

	// Public
	r.With(RateLimitMiddleware(signupLimiter, h.logger, IPKeyFunc)).Post("/waitlist", h.Signup)
	r.Get("/rank", h.Rank)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Get("/posts", h.ListPosts)
	r.Get("/posts/{slug}", h.GetPost)
	r.Get("/post-content/{slug}", h.GetPostContent)

	// Scheduler or admin
	r.With(h.AdminOrCron).Get("/waitlist-reminders", h.RunScheduledReminders)

	// Admin
	r.Group(func(r chi.Router) {
		r.Use(h.AdminOnly)

		r.Post("/waitlist-reminders", h.SendReminders)
		r.Post("/toggle-reminders", h.ToggleReminders)
		r.Get("/get-launch-date", h.GetLaunchDate)
		r.Post("/set-launch-date", h.SetLaunchDate)

		r.Get("/get-all-waitlist", h.ListWaitlist)
		r.Get("/waitlist.csv", h.ExportWaitlistCSV)
		r.Post("/clear-waitlist", h.ClearWaitlist)

		r.Get("/admin/posts", h.ListAdminPosts)
		r.Post("/create-post", h.CreatePost)
		r.Put("/posts/{slug}", h.UpdatePost)
		r.Delete("/admin/posts/{slug}", h.DeletePost)
	})

	return r
}

// report sends an error event tagged with the request it came from.
func (h *Handler) report(r *http.Request, message string, err error) {
	h.reporter.Report(r.Context(), telemetry.Event{
		Domain:       r.Host,
		Message:      message,
		ErrorName:    "StoreError",
		ErrorMessage: err.Error(),
		Severity:     telemetry.SeverityError,
		Route:        r.URL.Path,
		Method:       r.Method,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
