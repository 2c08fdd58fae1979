package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SignupEntry is one row of the waitlist roster.
type SignupEntry struct {
	ID        uuid.UUID `json:"id"`
	Seq       int64     `json:"-"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CampaignConfig is the singleton row holding reminder campaign state.
// AdminEntryID references the reserved signup that survives a bulk clear.
type CampaignConfig struct {
	LaunchDate   *time.Time `json:"launch_date"`
	ReminderSent bool       `json:"reminder_sent"`
	AdminEntryID *uuid.UUID `json:"admin_entry_id,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Post is a published blog post.
type Post struct {
	ID          uuid.UUID `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Keywords    *string   `json:"keywords,omitempty"`
	Description *string   `json:"description,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when an insert hits the unique email constraint.
	ErrDuplicateEmail = errors.New("email already on the waitlist")

	// ErrDuplicateSlug is returned when a post slug is already taken.
	ErrDuplicateSlug = errors.New("post slug already exists")
)

const (
	constraintSignupEmail = "signups_email_key"
	constraintPostSlug    = "posts_slug_key"

	sqlStateUniqueViolation = "23505"

	// campaign_config holds exactly one row with this id.
	campaignConfigID = 1
)
