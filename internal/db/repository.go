package db

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Repository handles database operations for the waitlist roster,
// the campaign config singleton and blog posts.
type Repository struct {
	db     *DB
	logger *zap.Logger

	// rosterChecked/rosterExists memoize RosterExists. Only a successful
	// lookup is cached.
	rosterChecked atomic.Bool
	rosterExists  atomic.Bool
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// isUniqueViolation reports whether err is a unique violation on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateUniqueViolation && pgErr.ConstraintName == constraint
}

// InsertSignup adds email to the roster. It returns ErrDuplicateEmail when
// another row already holds the email, including one committed by a
// concurrent caller between a lookup and this insert.
func (r *Repository) InsertSignup(ctx context.Context, email string) (*SignupEntry, error) {
	query := `
		INSERT INTO signups (id, email)
		VALUES ($1, $2)
		RETURNING seq, created_at
	`

	entry := &SignupEntry{
		ID:    uuid.New(),
		Email: email,
	}

	err := r.db.Pool().QueryRow(ctx, query, entry.ID, entry.Email).Scan(&entry.Seq, &entry.CreatedAt)
	if isUniqueViolation(err, constraintSignupEmail) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		r.logger.Error("failed to insert signup",
			zap.Error(err),
			zap.String("signup_id", entry.ID.String()),
		)
		return nil, fmt.Errorf("insert signup: %w", err)
	}

	r.logger.Info("signup created",
		zap.String("signup_id", entry.ID.String()),
		zap.Int64("seq", entry.Seq),
	)

	return entry, nil
}

// FindSignupByEmail returns the entry for email or ErrNotFound.
func (r *Repository) FindSignupByEmail(ctx context.Context, email string) (*SignupEntry, error) {
	query := `
		SELECT id, seq, email, created_at
		FROM signups
		WHERE email = $1
	`

	var entry SignupEntry
	err := r.db.Pool().QueryRow(ctx, query, email).Scan(
		&entry.ID,
		&entry.Seq,
		&entry.Email,
		&entry.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query signup: %w", err)
	}

	return &entry, nil
}

// RankOf returns the 1-based RANK() of email ordered by signup time.
// Entries sharing a created_at share a rank and the next rank skips the tie.
func (r *Repository) RankOf(ctx context.Context, email string) (int64, error) {
	query := `
		SELECT rank
		FROM (
			SELECT email, RANK() OVER (ORDER BY created_at ASC) AS rank
			FROM signups
		) ranked
		WHERE ranked.email = $1
	`

	var rank int64
	err := r.db.Pool().QueryRow(ctx, query, email).Scan(&rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query rank: %w", err)
	}

	return rank, nil
}

// ListSignups returns the whole roster ordered by signup time, ties broken
// by insertion sequence.
func (r *Repository) ListSignups(ctx context.Context) ([]*SignupEntry, error) {
	query := `
		SELECT id, seq, email, created_at
		FROM signups
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query signups: %w", err)
	}
	defer rows.Close()

	var entries []*SignupEntry
	for rows.Next() {
		var entry SignupEntry
		if err := rows.Scan(&entry.ID, &entry.Seq, &entry.Email, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signup: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

// ListRecipients returns every non-blank email in roster order.
func (r *Repository) ListRecipients(ctx context.Context) ([]string, error) {
	query := `
		SELECT email
		FROM signups
		WHERE btrim(email) <> ''
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		emails = append(emails, email)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return emails, nil
}

// DeleteSignupsExcept removes every entry other than keep.
func (r *Repository) DeleteSignupsExcept(ctx context.Context, keep uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM signups WHERE id <> $1`, keep)
	if err != nil {
		r.logger.Error("failed to clear signups", zap.Error(err))
		return 0, fmt.Errorf("delete signups: %w", err)
	}

	r.logger.Info("signups cleared",
		zap.Int64("deleted", result.RowsAffected()),
		zap.String("kept_id", keep.String()),
	)

	return result.RowsAffected(), nil
}

// RosterExists reports whether the signups table is present. A failed
// lookup is reported as false and not cached.
func (r *Repository) RosterExists(ctx context.Context) bool {
	if r.rosterChecked.Load() {
		return r.rosterExists.Load()
	}

	var exists bool
	err := r.db.Pool().QueryRow(ctx, `SELECT to_regclass('public.signups') IS NOT NULL`).Scan(&exists)
	if err != nil {
		r.logger.Warn("roster existence check failed", zap.Error(err))
		return false
	}

	r.rosterExists.Store(exists)
	r.rosterChecked.Store(true)
	return exists
}

// GetCampaignConfig reads the campaign singleton. A missing row reads as
// an empty config (no launch date, reminder not sent).
func (r *Repository) GetCampaignConfig(ctx context.Context) (*CampaignConfig, error) {
	query := `
		SELECT launch_date, reminder_sent, admin_entry_id, updated_at
		FROM campaign_config
		WHERE id = $1
	`

	var cfg CampaignConfig
	err := r.db.Pool().QueryRow(ctx, query, campaignConfigID).Scan(
		&cfg.LaunchDate,
		&cfg.ReminderSent,
		&cfg.AdminEntryID,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &CampaignConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign config: %w", err)
	}

	return &cfg, nil
}

// SetLaunchDate stores the launch date; nil unsets it.
func (r *Repository) SetLaunchDate(ctx context.Context, launchDate *time.Time) (*CampaignConfig, error) {
	query := `
		INSERT INTO campaign_config (id, launch_date, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET launch_date = EXCLUDED.launch_date, updated_at = NOW()
		RETURNING launch_date, reminder_sent, admin_entry_id, updated_at
	`

	var cfg CampaignConfig
	err := r.db.Pool().QueryRow(ctx, query, campaignConfigID, launchDate).Scan(
		&cfg.LaunchDate,
		&cfg.ReminderSent,
		&cfg.AdminEntryID,
		&cfg.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to set launch date", zap.Error(err))
		return nil, fmt.Errorf("update launch date: %w", err)
	}

	r.logger.Info("launch date updated", zap.Timep("launch_date", cfg.LaunchDate))

	return &cfg, nil
}

// lockCampaignConfig ensures the singleton exists and locks it for the
// rest of tx.
func lockCampaignConfig(ctx context.Context, tx pgx.Tx) (*CampaignConfig, error) {
	_, err := tx.Exec(ctx, `INSERT INTO campaign_config (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, campaignConfigID)
	if err != nil {
		return nil, fmt.Errorf("ensure campaign config: %w", err)
	}

	var cfg CampaignConfig
	err = tx.QueryRow(ctx, `
		SELECT launch_date, reminder_sent, admin_entry_id, updated_at
		FROM campaign_config
		WHERE id = $1
		FOR UPDATE
	`, campaignConfigID).Scan(&cfg.LaunchDate, &cfg.ReminderSent, &cfg.AdminEntryID, &cfg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock campaign config: %w", err)
	}

	return &cfg, nil
}

// ToggleReminderSent flips the reminder flag in a read-modify-write
// transaction and returns the new value.
func (r *Repository) ToggleReminderSent(ctx context.Context) (bool, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cfg, err := lockCampaignConfig(ctx, tx)
	if err != nil {
		return false, err
	}

	newFlag := !cfg.ReminderSent
	_, err = tx.Exec(ctx, `UPDATE campaign_config SET reminder_sent = $1, updated_at = NOW() WHERE id = $2`, newFlag, campaignConfigID)
	if err != nil {
		return false, fmt.Errorf("update reminder flag: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("reminder flag toggled", zap.Bool("reminder_sent", newFlag))

	return newFlag, nil
}

// MarkReminderSent sets the reminder flag for the campaign that ran against
// launchDate. If the launch date changed while the campaign ran, the flag is
// left alone and false is returned.
func (r *Repository) MarkReminderSent(ctx context.Context, launchDate time.Time) (bool, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cfg, err := lockCampaignConfig(ctx, tx)
	if err != nil {
		return false, err
	}

	if cfg.LaunchDate == nil || !cfg.LaunchDate.Equal(launchDate) {
		r.logger.Warn("launch date changed during campaign, reminder flag not updated",
			zap.Time("campaign_launch_date", launchDate),
			zap.Timep("current_launch_date", cfg.LaunchDate),
		)
		return false, nil
	}

	_, err = tx.Exec(ctx, `UPDATE campaign_config SET reminder_sent = TRUE, updated_at = NOW() WHERE id = $1`, campaignConfigID)
	if err != nil {
		return false, fmt.Errorf("update reminder flag: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	return true, nil
}
