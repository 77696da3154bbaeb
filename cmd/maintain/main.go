// Command maintain runs a single memory-store maintenance pass
// (recompute effective importance, archive what has decayed below
// threshold, purge what has been archived past its retention window) and
// exits. Meant for cron/systemd-timer invocation alongside the daemon's
// own periodic maintenance loop, not as a replacement for it.
//
// Grounded on cmd/consolidate/main.go and cmd/cleanup-traces/main.go's
// shape: flag.Parse() with no subcommands, database opened directly,
// one log line per stage, log.Fatalf on unrecoverable error.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trfife/barnabeenet/internal/config"
	"github.com/trfife/barnabeenet/internal/memstore"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Print the maintenance parameters and exit without touching the store")
	flag.Parse()

	env := config.LoadEnv()
	cfg, err := config.LoadYAML(env.ConfigPath)
	if err != nil {
		log.Printf("load config %s: %v (using spec defaults)", env.ConfigPath, err)
		cfg = &config.Config{}
	}

	log.Printf("memory db: %s", env.MemoryDBPath)
	db, err := sql.Open("sqlite", env.MemoryDBPath)
	if err != nil {
		log.Fatalf("open memory db: %v", err)
	}
	defer db.Close()

	store, err := memstore.NewStore(db, nil, nil)
	if err != nil {
		log.Fatalf("wire memory store: %v", err)
	}

	archiveThreshold, deleteAfterDays, _ := memstore.DefaultMaintenanceParams()
	baseHalfLife := cfg.HalfLifeDays()

	if *dryRun {
		log.Printf("dry run: archive_threshold=%.2f delete_after_days=%d base_half_life_days=%.1f",
			archiveThreshold, deleteAfterDays, baseHalfLife)
		log.Println("dry run does not touch the store; rerun without --dry-run to apply")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	start := time.Now()
	result, err := store.RunMaintenance(ctx, archiveThreshold, deleteAfterDays, baseHalfLife)
	if err != nil {
		log.Fatalf("maintenance pass failed: %v", err)
	}

	log.Printf("maintenance pass complete in %s: scanned=%d archived=%d purged=%d",
		time.Since(start).Round(time.Millisecond), result.Scanned, result.Archived, result.Purged)
}
