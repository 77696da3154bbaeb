// barnabeed is the long-running orchestrator daemon: it loads
// configuration, wires every collaborator (classification cascade,
// memory store, handlers, safety monitor, smart-home platform, audit
// sink), and serves requests over HTTP until told to stop.
//
// Grounded on cmd/bud/main.go's top-level wiring/supervision style:
// env/config load first, then each subsystem in dependency order with a
// log line per step, optional features degrading to "disabled" rather
// than failing startup, and a signal-driven graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shirou/gopsutil/v3/process"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/trfife/barnabeenet/internal/audit"
	"github.com/trfife/barnabeenet/internal/classify"
	"github.com/trfife/barnabeenet/internal/config"
	"github.com/trfife/barnabeenet/internal/convo"
	"github.com/trfife/barnabeenet/internal/extiface"
	"github.com/trfife/barnabeenet/internal/handlers"
	"github.com/trfife/barnabeenet/internal/httpapi"
	"github.com/trfife/barnabeenet/internal/memstore"
	"github.com/trfife/barnabeenet/internal/modelclient"
	"github.com/trfife/barnabeenet/internal/notify"
	"github.com/trfife/barnabeenet/internal/obslog"
	"github.com/trfife/barnabeenet/internal/orchestrator"
	"github.com/trfife/barnabeenet/internal/override"
	"github.com/trfife/barnabeenet/internal/safety"
	"github.com/trfife/barnabeenet/internal/smarthome"
	"github.com/trfife/barnabeenet/internal/undo"
)

const undoRingDepth = 5

// defaultTimerSlots seeds the timer pool when the smart-home platform
// reports no "timer" domain entities of its own (the in-memory fake
// platform, or a real bridge with no timer helpers configured).
var defaultTimerSlots = []string{"timer.slot_1", "timer.slot_2", "timer.slot_3"}

func main() {
	log.Println("barnabeed - BarnabeeNet orchestration core")
	log.Println("===========================================")

	env := config.LoadEnv()

	releasePIDFile := claimPIDFile(env.PIDFile)
	defer releasePIDFile()

	cfg, err := config.LoadYAML(env.ConfigPath)
	if err != nil {
		log.Printf("[config] no config at %s, using spec defaults: %v", env.ConfigPath, err)
		cfg = &config.Config{}
	}

	// The vec0 extension registers itself against the cgo-backed
	// mattn/go-sqlite3 driver; the audit log has no vector column and
	// uses the pure-Go modernc driver so the daemon doesn't need cgo
	// just to append log rows.
	memoryDB, err := sql.Open("sqlite3", env.MemoryDBPath)
	if err != nil {
		log.Fatalf("[main] open memory db: %v", err)
	}
	defer memoryDB.Close()

	auditDB, err := sql.Open("sqlite", env.AuditDBPath)
	if err != nil {
		log.Fatalf("[main] open audit db: %v", err)
	}
	defer auditDB.Close()

	auditSink, err := audit.NewSQLiteSink(auditDB)
	if err != nil {
		log.Fatalf("[main] wire audit sink: %v", err)
	}
	log.Printf("[main] audit sink ready at %s", env.AuditDBPath)

	embedder := memstore.NewOllamaEmbedder(env.OllamaBaseURL, env.OllamaModel, 768)

	vecIndex, err := memstore.NewSQLiteVecIndex(memoryDB, "memory_vectors", embedder.Dimensions())
	if err != nil {
		log.Fatalf("[main] wire vector index: %v", err)
	}

	store, err := memstore.NewStore(memoryDB, vecIndex, auditSink)
	if err != nil {
		log.Fatalf("[main] wire memory store: %v", err)
	}
	retriever := memstore.NewRetriever(store, vecIndex, embedder).WithWeights(cfg.Weights())
	log.Printf("[main] memory store ready at %s", env.MemoryDBPath)

	patternMatcher := classify.NewPatternMatcher(env.PatternSetDir)
	if err := patternMatcher.LoadDir(); err != nil {
		log.Fatalf("[main] load pattern set from %s: %v", env.PatternSetDir, err)
	}
	log.Printf("[main] pattern set loaded from %s", env.PatternSetDir)

	heuristic := classify.NewHeuristic()

	var modelClassifier *classify.Model
	var lm extiface.LanguageModel
	if env.AnthropicAPIKey != "" {
		lm = modelclient.New(embedder)
		modelClassifier = classify.NewModel(lm)
		log.Println("[main] model classifier enabled")
	} else {
		log.Println("[main] ANTHROPIC_API_KEY not set, model classifier disabled (pattern/heuristic tiers only)")
	}
	facade := classify.NewFacade(patternMatcher, heuristic, modelClassifier).WithThresholds(cfg.Thresholds())

	var platform extiface.SmartHomePlatform = smarthome.NewFakePlatform(nil, nil)
	log.Println("[main] smart-home platform: in-memory fake (wire internal/smarthome.MCPBridge for a real backend)")

	registry := smarthome.NewRegistry(platform, nil, nil)
	if err := registry.Refresh(context.Background()); err != nil {
		log.Printf("[main] warning: initial entity registry refresh failed: %v", err)
	}

	timerSlots := registry.EntitiesByDomain("timer")
	timerSlotIDs := make([]string, len(timerSlots))
	for i, e := range timerSlots {
		timerSlotIDs[i] = e.ID
	}
	if len(timerSlotIDs) == 0 {
		timerSlotIDs = defaultTimerSlots
		log.Println("[main] platform reports no timer entities, seeding default timer slot pool")
	}
	timerPool := smarthome.NewTimerPool(timerSlotIDs)

	undoMgr := undo.NewManager(undoRingDepth)
	action := handlers.NewAction(registry, platform, undoMgr, timerPool)

	var summarizer convo.Summarizer
	if lm != nil {
		summarizer = convo.NewModelSummarizer(lm)
	}
	convoCtx := convo.NewContext(summarizer)
	conversation := handlers.NewConversation(lm, convoCtx, retriever)

	memoryOp := handlers.NewMemoryOp(store, retriever, embedder)

	instant := handlers.NewInstant()

	var sink extiface.NotificationSink
	if env.DiscordToken != "" {
		session, derr := discordgo.New("Bot " + env.DiscordToken)
		if derr != nil {
			log.Printf("[main] warning: failed to construct discord session: %v", derr)
		} else if err := session.Open(); err != nil {
			log.Printf("[main] warning: failed to open discord session: %v", err)
		} else {
			defer session.Close()
			sink = notify.NewDiscordSink(func() *discordgo.Session { return session })
			log.Println("[main] safety monitor notifications: discord")
		}
	}
	if sink == nil {
		sink = noopSink{}
		log.Println("[main] DISCORD_TOKEN not set, safety monitor notifications disabled (logged only)")
	}
	monitor := safety.NewMonitor(sink, env.DiscordChannel, nil)

	overrideTable := override.NewTable(cfg.OverrideRules)

	orch := orchestrator.New(facade, retriever, instant, action, conversation, memoryOp, monitor, auditSink).
		WithDeadlines(cfg.Deadlines()).
		WithMaxInFlight(cfg.MaxInFlightOrDefault()).
		WithOverrides(overrideTable)

	go subscribeStateChanges(platform, registry)
	go runMaintenanceLoop(store, cfg)

	server := httpapi.NewServer(orch)
	httpServer := &http.Server{Addr: env.HTTPAddr, Handler: server.Handler()}

	go func() {
		log.Printf("[main] listening on %s", env.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] http server error: %v", err)
		}
	}()

	log.Println("[main] all subsystems started. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[main] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] warning: http server shutdown: %v", err)
	}
	log.Println("[main] goodbye")
}

func subscribeStateChanges(platform extiface.SmartHomePlatform, registry *smarthome.Registry) {
	ctx := context.Background()
	changes, err := platform.SubscribeStateChanges(ctx)
	if err != nil {
		log.Printf("[main] warning: subscribe to state changes: %v", err)
		return
	}
	for range changes {
		if err := registry.Refresh(ctx); err != nil {
			obslog.Error("main", "refresh entity registry after state change: %v", err)
		}
	}
}

func runMaintenanceLoop(store *memstore.Store, cfg *config.Config) {
	archiveThreshold, deleteAfterDays, _ := memstore.DefaultMaintenanceParams()
	halfLife := cfg.HalfLifeDays()
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		result, err := store.RunMaintenance(ctx, archiveThreshold, deleteAfterDays, halfLife)
		cancel()
		if err != nil {
			obslog.Error("main", "maintenance pass failed: %v", err)
			continue
		}
		obslog.Info("main", "maintenance pass complete: %+v", result)
	}
}

// claimPIDFile enforces a single running daemon instance. If path
// already names a live barnabeed process, it is killed and given a
// moment to exit before this process takes the file over; a stale file
// left by a crashed process is simply overwritten. Returns a function
// that removes the file on clean shutdown.
//
// Grounded on cmd/bud/main.go's checkPidFile, simplified from an
// interactive kill/quit prompt to an unconditional takeover: barnabeed
// runs as a supervised service (systemd/launchd), not an interactive
// terminal session, so there is no user to prompt.
func claimPIDFile(path string) func() {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			if proc, err := process.NewProcess(int32(pid)); err == nil {
				if running, _ := proc.IsRunning(); running {
					name, _ := proc.Name()
					if strings.Contains(name, "barnabeed") {
						log.Printf("[main] killing stale barnabeed instance (pid %d, started %s)", pid, processStartTime(proc))
						proc.Kill()
						time.Sleep(500 * time.Millisecond)
					}
				}
			}
		}
		os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		log.Printf("[main] warning: failed to write pid file %s: %v", path, err)
	}

	return func() {
		os.Remove(path)
	}
}

func processStartTime(proc *process.Process) string {
	createTime, err := proc.CreateTime()
	if err != nil {
		return "unknown"
	}
	return time.UnixMilli(createTime).Format("2006-01-02 15:04:05")
}

// noopSink logs alerts instead of delivering them when no notification
// channel is configured.
type noopSink struct{}

func (noopSink) Notify(ctx context.Context, channel, payload string) error {
	obslog.Info("notify", "[%s] %s", channel, payload)
	return nil
}
