package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/assets"
	"github.com/clinicleads/leadflow/internal/bus"
	"github.com/clinicleads/leadflow/internal/channels"
	"github.com/clinicleads/leadflow/internal/channels/telegram"
	"github.com/clinicleads/leadflow/internal/channels/whatsapp"
	"github.com/clinicleads/leadflow/internal/config"
	"github.com/clinicleads/leadflow/internal/intake"
	"github.com/clinicleads/leadflow/internal/pipeline"
	"github.com/clinicleads/leadflow/internal/store/pg"
	"github.com/clinicleads/leadflow/internal/telemetry"
)

// dedupeTTL bounds how long inbound message IDs are remembered for webhook
// retry suppression.
const dedupeTTL = 20 * time.Minute

func runWorker() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	setupLogging(verbose || cfg.Verbose)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := pg.OpenDB(cfg.Database.PostgresDSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return err
	}
	defer db.Close()

	stores := pg.NewPGStores(db)
	queue := bus.NewJobQueue(db,
		bus.WithVisibilityTimeout(cfg.Pipeline.VisibilityTimeout.Duration(5*time.Minute)),
		bus.WithMaxAttempts(cfg.Pipeline.MaxJobAttempts),
	)

	analyzer := analysis.NewClient(cfg.Analysis.BaseURL, cfg.Analysis.Token)

	dedupe := bus.NewDedupeCache(cfg.Pipeline.DedupeTTL.Duration(dedupeTTL), cfg.Pipeline.DedupeMaxEntries)
	inbound := intake.New(stores.Leads, stores.Messages, queue, dedupe,
		cfg.Analysis.ContextWindow, cfg.Analysis.PromptVersion)

	manager := channels.NewManager(cfg.Pipeline.SendsPerSecond, cfg.Pipeline.SendBurst)

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, inbound.HandleInbound)
		if err != nil {
			return fmt.Errorf("create telegram channel: %w", err)
		}
		if err := manager.Register(tg); err != nil {
			return err
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		wa, err := whatsapp.New(cfg.Channels.WhatsApp, inbound.HandleInbound)
		if err != nil {
			return fmt.Errorf("create whatsapp channel: %w", err)
		}
		if err := manager.Register(wa); err != nil {
			return err
		}
	}

	resolver := assets.NewResolver(cfg.Assets.Dir, cfg.Assets.BaseURL, cfg.Assets.MaxWidth)
	if cfg.Assets.Watch {
		if err := resolver.Watch(); err != nil {
			slog.Warn("template asset watch unavailable", "error", err)
		}
		defer resolver.Close()
	}

	processor := pipeline.NewProcessor(*stores, queue, analyzer, manager, resolver,
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithClaimInterval(cfg.Pipeline.ClaimInterval.Duration(time.Second)),
	)

	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		manager.StopAll(stopCtx)
	}()

	slog.Info("leadflow worker started", "version", Version, "workers", cfg.Pipeline.Workers)
	return processor.Run(ctx)
}
