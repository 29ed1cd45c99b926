package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/store"
)

// HandoffStore implements store.HandoffStore on Postgres.
type HandoffStore struct {
	db *sql.DB
}

func NewHandoffStore(db *sql.DB) *HandoffStore {
	return &HandoffStore{db: db}
}

func (s *HandoffStore) CreateHandoff(ctx context.Context, h *store.Handoff) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.Must(uuid.NewV7())
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO handoffs (id, lead_id, reason, triggered_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.LeadID, nilStr(h.Reason), h.TriggeredBy, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("create handoff for lead %s: %w", h.LeadID, err)
	}
	return nil
}

// NotificationStore implements store.NotificationStore on Postgres.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) CreateNotification(ctx context.Context, n *store.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.Must(uuid.NewV7())
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, lead_id, kind, title, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.LeadID, n.Kind, n.Title, nilStr(n.Body), n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification for lead %s: %w", n.LeadID, err)
	}
	return nil
}

// SettingsStore implements store.SettingsStore on Postgres. Config rows are
// keyed strings with a jsonb value.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) FollowupConfig(ctx context.Context) (*store.FollowupConfig, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = 'followup'").Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load followup config: %w", err)
	}

	var cfg store.FollowupConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse followup config: %w", err)
	}
	return &cfg, nil
}
