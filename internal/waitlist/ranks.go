package waitlist

import (
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/waitlist/internal/db"
)

// RankedEntry is a roster row together with its signup rank.
type RankedEntry struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	Rank      int64     `json:"rank"`
}

// AssignRanks ranks entries already sorted by signup time. Entries sharing
// a created_at share a rank and the next distinct time skips past the tie,
// so times 1,1,2 rank 1,1,3.
func AssignRanks(entries []*db.SignupEntry) []RankedEntry {
	ranked := make([]RankedEntry, len(entries))

	var rank int64
	for i, e := range entries {
		if i == 0 || !e.CreatedAt.Equal(entries[i-1].CreatedAt) {
			rank = int64(i) + 1
		}
		ranked[i] = RankedEntry{
			ID:        e.ID,
			Email:     e.Email,
			CreatedAt: e.CreatedAt,
			Rank:      rank,
		}
	}

	return ranked
}
