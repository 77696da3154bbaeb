// Command barnabeectl inspects and mutates persisted state (the memory
// store, the audit log, the active pattern set) without starting the
// daemon. Grounded on cmd/bud-state/main.go's subcommand dispatch: a flat
// os.Args[1] switch, one flag.NewFlagSet per subcommand, errors to stderr
// with a non-zero exit.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/trfife/barnabeenet/internal/audit"
	"github.com/trfife/barnabeenet/internal/classify"
	"github.com/trfife/barnabeenet/internal/config"
	"github.com/trfife/barnabeenet/internal/memstore"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	env := config.LoadEnv()
	cmd := os.Args[1]

	switch cmd {
	case "memories":
		handleMemories(env, os.Args[2:])
	case "maintain":
		handleMaintain(env, os.Args[2:])
	case "patterns":
		handlePatterns(env, os.Args[2:])
	case "audit":
		handleAudit(env, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`barnabeectl - inspect and mutate BarnabeeNet's persisted state

Usage: barnabeectl <command> [options]

Commands:
  memories              List recent non-archived memories
  memories -n 50         Limit to N memories (default 20)
  memories --forget=<id> --reason=<text>   Soft-delete a memory

  maintain               Run one maintenance pass against the memory store

  patterns --validate=<file>   Validate a candidate pattern set file

  audit --conversation=<id>    Replay a conversation's audit trail

Environment:
  BARNABEE_MEMORY_DB     Memory database path (default: barnabee_memory.db)
  BARNABEE_AUDIT_DB      Audit database path (default: barnabee_audit.db)
  BARNABEE_CONFIG        Declarative config path (default: config/v1/config.yaml)`)
}

func openMemoryStore(env config.Env) (*memstore.Store, error) {
	db, err := sql.Open("sqlite", env.MemoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	return memstore.NewStore(db, nil, nil)
}

func openAuditDB(env config.Env) (*sql.DB, error) {
	db, err := sql.Open("sqlite", env.AuditDBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return db, nil
}

func handleMemories(env config.Env, args []string) {
	fs := flag.NewFlagSet("memories", flag.ExitOnError)
	limit := fs.Int("n", 20, "Number of memories to show")
	forget := fs.String("forget", "", "Soft-delete a memory by id")
	reason := fs.String("reason", "operator request", "Reason recorded for --forget")
	fs.Parse(args)

	store, err := openMemoryStore(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if *forget != "" {
		if err := store.SoftDelete(ctx, *forget, *reason); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Soft-deleted memory %s (%s)\n", *forget, *reason)
		return
	}

	memories, err := store.List(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Memories (%d shown)\n", len(memories))
	fmt.Println("===================")
	for _, m := range memories {
		fmt.Printf("%s [%s] importance=%.2f accesses=%d\n  %s\n\n",
			m.ID, m.Type, m.BaseImportance, m.AccessCount, m.Content)
	}
}

func handleMaintain(env config.Env, args []string) {
	fs := flag.NewFlagSet("maintain", flag.ExitOnError)
	fs.Parse(args)

	store, err := openMemoryStore(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	archiveThreshold, deleteAfterDays, baseHalfLife := memstore.DefaultMaintenanceParams()
	result, err := store.RunMaintenance(context.Background(), archiveThreshold, deleteAfterDays, baseHalfLife)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Maintenance pass complete: scanned=%d archived=%d purged=%d\n",
		result.Scanned, result.Archived, result.Purged)
}

func handlePatterns(env config.Env, args []string) {
	fs := flag.NewFlagSet("patterns", flag.ExitOnError)
	validate := fs.String("validate", "", "Path to a candidate pattern set file")
	fs.Parse(args)

	if *validate == "" {
		fmt.Fprintln(os.Stderr, "Usage: barnabeectl patterns --validate=<file>")
		os.Exit(1)
	}

	specs, err := classify.LoadSpecsFromFile(*validate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	matcher := classify.NewPatternMatcher("")
	if err := matcher.LoadSpecs(specs); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Valid: %d patterns across every required priority group\n", len(specs))
}

func handleAudit(env config.Env, args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	conversationID := fs.String("conversation", "", "Conversation id to replay")
	asJSON := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	if *conversationID == "" {
		fmt.Fprintln(os.Stderr, "Usage: barnabeectl audit --conversation=<id>")
		os.Exit(1)
	}

	db, err := openAuditDB(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	sink, err := audit.NewSQLiteSink(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	entries, err := sink.ForConversation(context.Background(), *conversationID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Audit trail for %s (%d entries)\n", *conversationID, len(entries))
	fmt.Println("=========================================")
	for _, e := range entries {
		marker := ""
		if e.AlertFlag {
			marker = " [ALERT]"
		}
		fmt.Printf("[%s] %s handler=%s intent=%s%s\n  %s\n\n",
			e.Timestamp.Format("15:04:05"), e.Action, e.Handler, e.Intent, marker, e.ResponseText)
	}
}
