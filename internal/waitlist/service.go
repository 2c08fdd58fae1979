// Package waitlist implements signups and rank lookups on top of the
// roster store.
package waitlist

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/db"
)

// Store is the subset of the roster repository the service needs.
type Store interface {
	InsertSignup(ctx context.Context, email string) (*db.SignupEntry, error)
	FindSignupByEmail(ctx context.Context, email string) (*db.SignupEntry, error)
	RankOf(ctx context.Context, email string) (int64, error)
	ListSignups(ctx context.Context) ([]*db.SignupEntry, error)
	DeleteSignupsExcept(ctx context.Context, keep uuid.UUID) (int64, error)
	GetCampaignConfig(ctx context.Context) (*db.CampaignConfig, error)
}

// Outcome says whether a signup created a new entry or found an existing one.
type Outcome int

const (
	Created Outcome = iota + 1
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// SignupResult is the outcome of Signup. Rank is always at least 1.
type SignupResult struct {
	Outcome Outcome
	Email   string
	Rank    int64
}

// Service resolves signups against the roster store.
type Service struct {
	store    Store
	validate *validator.Validate
	logger   *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *Service) normalize(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", &ValidationError{Field: "email", Reason: "email is required"}
	}
	if err := s.validate.Var(email, "email,max=320"); err != nil {
		return "", &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	return email, nil
}

// Signup adds email to the waitlist, or reports the rank it already holds.
//
// Two concurrent signups for the same address may both miss the lookup.
// The store's unique constraint lets exactly one insert win; the loser
// re-reads the winner's rank and reports Duplicate.
func (s *Service) Signup(ctx context.Context, email string) (*SignupResult, error) {
	email, err := s.normalize(email)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindSignupByEmail(ctx, email)
	switch {
	case err == nil:
		return s.duplicate(ctx, existing.Email)
	case !errors.Is(err, db.ErrNotFound):
		return nil, &StoreError{Op: "lookup", Err: err}
	}

	entry, err := s.store.InsertSignup(ctx, email)
	if errors.Is(err, db.ErrDuplicateEmail) {
		s.logger.Info("concurrent signup resolved as duplicate", zap.String("email", email))
		return s.duplicate(ctx, email)
	}
	if err != nil {
		return nil, &StoreError{Op: "insert", Err: err}
	}

	rank, err := s.rank(ctx, entry.Email)
	if err != nil {
		return nil, err
	}

	s.logger.Info("signup accepted",
		zap.String("signup_id", entry.ID.String()),
		zap.Int64("rank", rank),
	)

	return &SignupResult{Outcome: Created, Email: entry.Email, Rank: rank}, nil
}

func (s *Service) duplicate(ctx context.Context, email string) (*SignupResult, error) {
	rank, err := s.rank(ctx, email)
	if err != nil {
		return nil, err
	}
	return &SignupResult{Outcome: Duplicate, Email: email, Rank: rank}, nil
}

// rank reads the rank of an entry known to exist. A missing entry here
// means the store is inconsistent.
func (s *Service) rank(ctx context.Context, email string) (int64, error) {
	rank, err := s.store.RankOf(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return 0, &StoreError{Op: "rank", Err: errors.New("entry vanished after signup")}
	}
	if err != nil {
		return 0, &StoreError{Op: "rank", Err: err}
	}
	return rank, nil
}

// RankOf returns the rank of email. It returns db.ErrNotFound when email is
// not on the waitlist.
func (s *Service) RankOf(ctx context.Context, email string) (int64, error) {
	email, err := s.normalize(email)
	if err != nil {
		return 0, err
	}

	rank, err := s.store.RankOf(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return 0, db.ErrNotFound
	}
	if err != nil {
		return 0, &StoreError{Op: "rank", Err: err}
	}
	return rank, nil
}

// Roster returns every entry with its rank, in signup order.
func (s *Service) Roster(ctx context.Context) ([]RankedEntry, error) {
	entries, err := s.store.ListSignups(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return AssignRanks(entries), nil
}

// Clear deletes every entry except the reserved admin entry. Campaign
// state is untouched.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	cfg, err := s.store.GetCampaignConfig(ctx)
	if err != nil {
		return 0, &StoreError{Op: "read config", Err: err}
	}

	keep := uuid.Nil
	if cfg.AdminEntryID != nil {
		keep = *cfg.AdminEntryID
	} else {
		s.logger.Warn("no reserved admin entry configured, clearing entire waitlist")
	}

	deleted, err := s.store.DeleteSignupsExcept(ctx, keep)
	if err != nil {
		return 0, &StoreError{Op: "clear", Err: err}
	}
	return deleted, nil
}
