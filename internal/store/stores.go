// Package store defines the persistence contracts consumed by the intake
// pipeline. Implementations live in store/pg; tests use in-package fakes.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrLeadNotFound is returned when a lead ID resolves to no row. The job
// processor treats it as fatal for the job (propagated, queue retries).
var ErrLeadNotFound = errors.New("lead not found")

// LeadStore reads and partially updates leads and their profiles.
type LeadStore interface {
	// GetLead loads a lead with its profile attached (profile may be nil
	// when no intake data has been captured yet).
	GetLead(ctx context.Context, id uuid.UUID) (*Lead, error)

	// GetOrCreateByChannelUser resolves the lead for a channel identity,
	// creating an active lead with a fresh conversation on first contact.
	GetOrCreateByChannelUser(ctx context.Context, channel, channelUserID, language string) (*Lead, error)

	// UpdateLead applies a partial update to the lead record itself.
	UpdateLead(ctx context.Context, id uuid.UUID, upd LeadUpdate) error

	// SetStatus moves the lead to a new pipeline status.
	SetStatus(ctx context.Context, id uuid.UUID, status LeadStatus) error

	// AddTag appends a tag unless the lead already carries it.
	AddTag(ctx context.Context, id uuid.UUID, tag string) error

	// UpsertProfile merges a patch into the lead's profile, creating the
	// profile row if absent. Nil patch fields leave stored values intact.
	UpsertProfile(ctx context.Context, id uuid.UUID, patch ProfilePatch) error
}

// MessageStore appends and reads conversation turns.
type MessageStore interface {
	// RecentMessages returns up to limit turns for the conversation,
	// oldest first.
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]ConversationMessage, error)

	CreateMessage(ctx context.Context, msg *ConversationMessage) error
}

// AiRunStore appends inference audit records.
type AiRunStore interface {
	CreateRun(ctx context.Context, run *AiRun) error
}

// FollowupStore manages scheduled reminders.
type FollowupStore interface {
	// CancelPending cancels every pending follow-up for the lead and
	// returns how many were cancelled.
	CancelPending(ctx context.Context, leadID uuid.UUID) (int, error)

	CreateFollowup(ctx context.Context, f *Followup) error
}

// HandoffStore records human-handoff events.
type HandoffStore interface {
	CreateHandoff(ctx context.Context, h *Handoff) error
}

// NotificationStore records best-effort operator notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
}

// SettingsStore exposes operator configuration rows.
type SettingsStore interface {
	// FollowupConfig returns the stored follow-up policy, or nil when none
	// is configured (callers fall back to DefaultFollowupConfig).
	FollowupConfig(ctx context.Context) (*FollowupConfig, error)
}

// Stores is the top-level container handed to the pipeline.
type Stores struct {
	Leads         LeadStore
	Messages      MessageStore
	Runs          AiRunStore
	Followups     FollowupStore
	Handoffs      HandoffStore
	Notifications NotificationStore
	Settings      SettingsStore
}
