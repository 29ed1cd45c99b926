// Package pg implements the store interfaces on PostgreSQL via database/sql
// with the pgx stdlib driver. Schema is managed by golang-migrate (see
// migrations/).
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/clinicleads/leadflow/internal/store"
)

// OpenDB opens and pings a Postgres connection pool.
func OpenDB(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPGStores creates all stores backed by one Postgres pool.
func NewPGStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Leads:         NewLeadStore(db),
		Messages:      NewMessageStore(db),
		Runs:          NewAiRunStore(db),
		Followups:     NewFollowupStore(db),
		Handoffs:      NewHandoffStore(db),
		Notifications: NewNotificationStore(db),
		Settings:      NewSettingsStore(db),
	}
}

// --- shared scan helpers ---

func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
