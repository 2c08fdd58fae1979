package waitlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/db"
)

// memStore is an in-memory roster with the same uniqueness and RANK
// semantics as the Postgres repository.
type memStore struct {
	mu      sync.Mutex
	entries []*db.SignupEntry
	cfg     db.CampaignConfig
	clock   time.Time

	// staleLookup makes every lookup miss, forcing inserts to race.
	staleLookup bool
	failWith    error
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memStore) add(email string, createdAt time.Time) *db.SignupEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &db.SignupEntry{ID: uuid.New(), Seq: int64(len(m.entries) + 1), Email: email, CreatedAt: createdAt}
	m.entries = append(m.entries, e)
	return e
}

func (m *memStore) InsertSignup(ctx context.Context, email string) (*db.SignupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, e := range m.entries {
		if e.Email == email {
			return nil, db.ErrDuplicateEmail
		}
	}
	m.clock = m.clock.Add(time.Millisecond)
	e := &db.SignupEntry{ID: uuid.New(), Seq: int64(len(m.entries) + 1), Email: email, CreatedAt: m.clock}
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memStore) FindSignupByEmail(ctx context.Context, email string) (*db.SignupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	if m.staleLookup {
		return nil, db.ErrNotFound
	}
	for _, e := range m.entries {
		if e.Email == email {
			return e, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) RankOf(ctx context.Context, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var target *db.SignupEntry
	for _, e := range m.entries {
		if e.Email == email {
			target = e
		}
	}
	if target == nil {
		return 0, db.ErrNotFound
	}
	rank := int64(1)
	for _, e := range m.entries {
		if e.CreatedAt.Before(target.CreatedAt) {
			rank++
		}
	}
	return rank, nil
}

func (m *memStore) ListSignups(ctx context.Context) ([]*db.SignupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*db.SignupEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memStore) DeleteSignupsExcept(ctx context.Context, keep uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*db.SignupEntry
	for _, e := range m.entries {
		if e.ID == keep {
			kept = append(kept, e)
		}
	}
	deleted := int64(len(m.entries) - len(kept))
	m.entries = kept
	return deleted, nil
}

func (m *memStore) GetCampaignConfig(ctx context.Context) (*db.CampaignConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	return &cfg, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestSignup_CreatesThenDuplicate(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	first, err := svc.Signup(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Outcome != Created || first.Rank != 1 {
		t.Fatalf("expected created rank 1, got %s rank %d", first.Outcome, first.Rank)
	}

	second, err := svc.Signup(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Rank != 2 {
		t.Errorf("expected rank 2, got %d", second.Rank)
	}

	again, err := svc.Signup(ctx, "  a@example.com ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Outcome != Duplicate || again.Rank != 1 {
		t.Errorf("expected duplicate rank 1, got %s rank %d", again.Outcome, again.Rank)
	}
	if store.count() != 2 {
		t.Errorf("expected 2 entries, got %d", store.count())
	}
}

func TestSignup_Validation(t *testing.T) {
	tests := []struct {
		name  string
		email string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"no at sign", "not-an-email"},
		{"missing domain", "user@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := NewService(store, zap.NewNop())

			_, err := svc.Signup(context.Background(), tt.email)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != "email" {
				t.Errorf("expected field email, got %s", ve.Field)
			}
			if store.count() != 0 {
				t.Error("store must not be touched for invalid input")
			}
		})
	}
}

func TestSignup_LostRaceIsDuplicate(t *testing.T) {
	store := newMemStore()
	store.add("a@example.com", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store.staleLookup = true
	svc := NewService(store, zap.NewNop())

	res, err := svc.Signup(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("lost race must not be an error: %v", err)
	}
	if res.Outcome != Duplicate || res.Rank != 1 {
		t.Errorf("expected duplicate rank 1, got %s rank %d", res.Outcome, res.Rank)
	}
}

func TestSignup_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("connection reset")
	svc := NewService(store, zap.NewNop())

	_, err := svc.Signup(context.Background(), "a@example.com")
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestSignup_ConcurrentDistinct(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]*SignupResult, 2)
	errs := make([]error, 2)
	for i, email := range []string{"a@example.com", "b@example.com"} {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			results[i], errs[i] = svc.Signup(context.Background(), email)
		}(i, email)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
		if results[i].Outcome != Created {
			t.Errorf("signup %d: expected created, got %s", i, results[i].Outcome)
		}
	}
	if store.count() != 2 {
		t.Fatalf("expected 2 entries, got %d", store.count())
	}
	if results[0].Rank == results[1].Rank {
		t.Errorf("distinct signup times should rank differently, both got %d", results[0].Rank)
	}
}

func TestSignup_ConcurrentDuplicates(t *testing.T) {
	store := newMemStore()
	store.staleLookup = true
	svc := NewService(store, zap.NewNop())

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*SignupResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Signup(context.Background(), "same@example.com")
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Rank != 1 {
			t.Errorf("caller %d: expected rank 1, got %d", i, results[i].Rank)
		}
		if results[i].Outcome == Created {
			created++
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one created outcome, got %d", created)
	}
	if store.count() != 1 {
		t.Errorf("expected 1 entry, got %d", store.count())
	}
}

func TestRankOf(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.RankOf(ctx, "nobody@example.com"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	svc.Signup(ctx, "a@example.com")
	rank, err := svc.RankOf(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rank != 1 {
		t.Errorf("expected rank 1, got %d", rank)
	}
}

func TestClear_KeepsAdminEntry(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	admin := store.add("admin@example.com", base)
	store.add("a@example.com", base.Add(time.Second))
	store.add("b@example.com", base.Add(2*time.Second))
	launch := base.Add(time.Hour)
	store.cfg = db.CampaignConfig{AdminEntryID: &admin.ID, LaunchDate: &launch, ReminderSent: true}

	svc := NewService(store, zap.NewNop())
	deleted, err := svc.Clear(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	roster, _ := svc.Roster(context.Background())
	if len(roster) != 1 || roster[0].ID != admin.ID {
		t.Fatalf("expected only the admin entry to remain, got %+v", roster)
	}
	if store.cfg.LaunchDate == nil || !store.cfg.ReminderSent {
		t.Error("clearing the roster must not touch campaign state")
	}
}
