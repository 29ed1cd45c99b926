package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/store"
)

func TestNextDelayUsesConfiguredInterval(t *testing.T) {
	f := &followupScheduler{analyzer: &fakeAnalyzer{}}
	cfg := &store.FollowupConfig{IntervalsHours: []int{48, 96}}

	if got := f.nextDelay(context.Background(), testLead(), cfg); got != 48*time.Hour {
		t.Errorf("delay = %v, want 48h", got)
	}
}

func TestNextDelayAITimingClamped(t *testing.T) {
	tests := []struct {
		name  string
		hours float64
		want  time.Duration
	}{
		{"within range", 36, 36 * time.Hour},
		{"below floor", 0.25, time.Hour},
		{"above ceiling", 500, 168 * time.Hour},
	}

	cfg := &store.FollowupConfig{IntervalsHours: []int{24}, UseAITiming: true}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &followupScheduler{
				analyzer: &fakeAnalyzer{timing: &analysis.FollowupTiming{Hours: tt.hours}},
			}
			if got := f.nextDelay(context.Background(), testLead(), cfg); got != tt.want {
				t.Errorf("delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDelayAITimingFailureFallsBack(t *testing.T) {
	cfg := &store.FollowupConfig{IntervalsHours: []int{24}, UseAITiming: true}
	f := &followupScheduler{analyzer: &fakeAnalyzer{}} // timing nil → error

	if got := f.nextDelay(context.Background(), testLead(), cfg); got != 24*time.Hour {
		t.Errorf("delay = %v, want first interval fallback", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	f := &followupScheduler{settings: &fakeSettingsStore{}}

	cfg := f.loadConfig(context.Background())
	want := store.DefaultFollowupConfig()
	if len(cfg.IntervalsHours) != len(want.IntervalsHours) {
		t.Fatalf("intervals = %v, want %v", cfg.IntervalsHours, want.IntervalsHours)
	}
	for i := range cfg.IntervalsHours {
		if cfg.IntervalsHours[i] != want.IntervalsHours[i] {
			t.Errorf("interval %d = %d, want %d", i, cfg.IntervalsHours[i], want.IntervalsHours[i])
		}
	}
}
