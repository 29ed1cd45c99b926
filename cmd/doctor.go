package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/assets"
	"github.com/clinicleads/leadflow/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, database, inference service and assets",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("leadflow doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	checkDatabase(cfg)
	checkAnalysis(cfg)
	checkChannels(cfg)
	checkAssets(cfg)
}

func checkDatabase(cfg *config.Config) {
	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.PostgresDSN == "" {
		fmt.Println("    DSN: not set (LEADFLOW_POSTGRES_DSN)")
		return
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		fmt.Printf("    Open: FAILED (%s)\n", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    Ping: FAILED (%s)\n", err)
		return
	}
	fmt.Println("    Ping: OK")

	var pending int
	if err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM analysis_jobs WHERE status = 'pending'").Scan(&pending); err == nil {
		fmt.Printf("    Pending jobs: %d\n", pending)
	}
	var parked int
	if err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM analysis_jobs WHERE status = 'failed'").Scan(&parked); err == nil {
		fmt.Printf("    Parked jobs:  %d\n", parked)
	}
}

func checkAnalysis(cfg *config.Config) {
	fmt.Println()
	fmt.Println("  Inference service:")
	if cfg.Analysis.BaseURL == "" {
		fmt.Println("    URL: not set (LEADFLOW_ANALYSIS_URL)")
		return
	}
	fmt.Printf("    URL: %s\n", cfg.Analysis.BaseURL)

	client := analysis.NewClient(cfg.Analysis.BaseURL, cfg.Analysis.Token)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.HealthCheck(ctx)
	if err != nil {
		fmt.Printf("    Health: FAILED (%s)\n", err)
		return
	}
	fmt.Printf("    Health: %s", health.Status)
	if health.Model != "" {
		fmt.Printf(" (model %s)", health.Model)
	}
	fmt.Println()
}

func checkChannels(cfg *config.Config) {
	fmt.Println()
	fmt.Println("  Channels:")
	status := func(enabled bool, credential string) string {
		switch {
		case !enabled:
			return "disabled"
		case credential == "":
			return "enabled, MISSING CREDENTIALS"
		default:
			return "enabled"
		}
	}
	fmt.Printf("    telegram: %s\n", status(cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token))
	fmt.Printf("    whatsapp: %s\n", status(cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.BridgeURL))
}

func checkAssets(cfg *config.Config) {
	fmt.Println()
	fmt.Println("  Template assets:")
	entries, err := os.ReadDir(cfg.Assets.Dir)
	if err != nil {
		fmt.Printf("    Dir %s: NOT READABLE (%s)\n", cfg.Assets.Dir, err)
		return
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
			continue
		}
		count++
		path := filepath.Join(cfg.Assets.Dir, entry.Name())
		w, h, err := assets.Dimensions(path)
		if err != nil {
			fmt.Printf("    %s: UNREADABLE (%s)\n", entry.Name(), err)
			continue
		}
		fmt.Printf("    %s: %dx%d\n", entry.Name(), w, h)
	}
	if count == 0 {
		fmt.Printf("    Dir %s: no template images\n", cfg.Assets.Dir)
	}
}
