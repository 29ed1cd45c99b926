package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/store"
)

// FollowupStore implements store.FollowupStore on Postgres.
type FollowupStore struct {
	db *sql.DB
}

func NewFollowupStore(db *sql.DB) *FollowupStore {
	return &FollowupStore{db: db}
}

func (s *FollowupStore) CancelPending(ctx context.Context, leadID uuid.UUID) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status = $1 WHERE lead_id = $2 AND status = $3`,
		store.FollowupCancelled, leadID, store.FollowupPending)
	if err != nil {
		return 0, fmt.Errorf("cancel pending followups for lead %s: %w", leadID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *FollowupStore) CreateFollowup(ctx context.Context, f *store.Followup) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.Must(uuid.NewV7())
	}
	if f.Status == "" {
		f.Status = store.FollowupPending
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO followups (id, lead_id, followup_type, attempt_number, status, scheduled_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.LeadID, f.FollowupType, f.AttemptNumber, f.Status, f.ScheduledAt, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create followup for lead %s: %w", f.LeadID, err)
	}
	return nil
}
