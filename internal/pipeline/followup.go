package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/store"
)

const (
	minAITimingDelay = time.Hour
	maxAITimingDelay = 168 * time.Hour
)

// followupScheduler keeps each lead at zero or one pending follow-up by
// cancelling stale entries before creating the next. All failures here are
// logged and swallowed; scheduling never fails the parent job.
type followupScheduler struct {
	followups store.FollowupStore
	settings  store.SettingsStore
	analyzer  Analyzer
}

// schedule cancels pending follow-ups and creates one "reminder" follow-up
// at now plus the first configured interval (or an AI-chosen delay when the
// operator enables AI timing).
func (f *followupScheduler) schedule(ctx context.Context, lead *store.Lead) {
	cfg := f.loadConfig(ctx)

	cancelled, err := f.followups.CancelPending(ctx, lead.ID)
	if err != nil {
		slog.Warn("failed to cancel pending follow-ups", "lead_id", lead.ID, "error", err)
		return
	}
	if cancelled > 0 {
		slog.Debug("pending follow-ups cancelled", "lead_id", lead.ID, "count", cancelled)
	}

	delay := f.nextDelay(ctx, lead, cfg)

	followup := &store.Followup{
		ID:            uuid.Must(uuid.NewV7()),
		LeadID:        lead.ID,
		FollowupType:  "reminder",
		AttemptNumber: 1,
		Status:        store.FollowupPending,
		ScheduledAt:   time.Now().Add(delay),
	}
	if err := f.followups.CreateFollowup(ctx, followup); err != nil {
		slog.Warn("failed to schedule follow-up", "lead_id", lead.ID, "error", err)
		return
	}

	slog.Info("follow-up scheduled",
		"lead_id", lead.ID, "scheduled_at", followup.ScheduledAt, "delay", delay)
}

func (f *followupScheduler) loadConfig(ctx context.Context) *store.FollowupConfig {
	cfg, err := f.settings.FollowupConfig(ctx)
	if err != nil {
		slog.Warn("failed to load follow-up config, using defaults", "error", err)
		return store.DefaultFollowupConfig()
	}
	if cfg == nil || len(cfg.IntervalsHours) == 0 {
		return store.DefaultFollowupConfig()
	}
	return cfg
}

// nextDelay is the first configured interval, or an AI suggestion clamped
// to [1h, 168h] when AI timing is enabled.
func (f *followupScheduler) nextDelay(ctx context.Context, lead *store.Lead, cfg *store.FollowupConfig) time.Duration {
	firstInterval := time.Duration(cfg.IntervalsHours[0]) * time.Hour

	if !cfg.UseAITiming || f.analyzer == nil {
		return firstInterval
	}

	timing, err := f.analyzer.AnalyzeFollowupTiming(ctx, analysis.FollowupTimingRequest{
		LeadID:      lead.ID,
		Language:    lead.Language,
		LeadContext: leadContext(lead),
		Attempt:     1,
	})
	if err != nil || timing == nil || timing.Hours <= 0 {
		slog.Debug("AI follow-up timing unavailable, using first interval",
			"lead_id", lead.ID, "error", err)
		return firstInterval
	}

	delay := time.Duration(timing.Hours * float64(time.Hour))
	if delay < minAITimingDelay {
		return minAITimingDelay
	}
	if delay > maxAITimingDelay {
		return maxAITimingDelay
	}
	return delay
}
