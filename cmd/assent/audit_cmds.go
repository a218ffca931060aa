package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/assentworks/assent/pkg/archive"
	"github.com/assentworks/assent/pkg/audit"
	"github.com/assentworks/assent/pkg/config"
)

// openAuditLog opens the audit log over the env-selected database, or
// over an explicit SQLite file when dbPath is set.
func openAuditLog(ctx context.Context, dbPath string) (*audit.Log, *sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	if dbPath != "" {
		db, err = sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
	} else {
		cfg, cfgErr := config.Load()
		if cfgErr != nil {
			return nil, nil, cfgErr
		}
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
	}

	backend := audit.NewSQLBackend(db)
	if err := backend.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log, err := audit.Open(ctx, backend)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return log, db, nil
}

// runVerifyAuditCmd implements `assent verify-audit`.
//
// Walks the persisted audit log, checking chain linkage and recomputing
// every entry hash.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = runtime error
func runVerifyAuditCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath     string
		jsonOutput bool
	)
	cmd.StringVar(&dbPath, "db", "", "Path to a SQLite database (default: env-selected store)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	log, db, err := openAuditLog(ctx, dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()

	verifyErr := log.VerifyChain(ctx)
	seq, head := log.Head()

	if jsonOutput {
		result := map[string]any{
			"valid":      verifyErr == nil,
			"entries":    seq,
			"chain_head": head,
		}
		if verifyErr != nil {
			result["error"] = verifyErr.Error()
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if verifyErr == nil {
		_, _ = fmt.Fprintf(stdout, "✅ Audit chain verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "   Entries: %d\n", seq)
		_, _ = fmt.Fprintf(stdout, "   Head:    %s\n", head)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Audit chain verification FAILED\n")
		_, _ = fmt.Fprintf(stdout, "   %v\n", verifyErr)
	}

	if verifyErr != nil {
		return 1
	}
	return 0
}

// runExportAuditCmd implements `assent export-audit`.
//
// Packages matching audit entries as a zip evidence bundle (entries plus
// manifest) and writes it to a file or pushes it to the archive store.
//
// Exit codes:
//
//	0 = export completed
//	1 = no matching entries
//	2 = runtime error
func runExportAuditCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export-audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath     string
		approvalID string
		sessionID  string
		all        bool
		outPath    string
		toArchive  bool
		jsonOutput bool
	)
	cmd.StringVar(&dbPath, "db", "", "Path to a SQLite database (default: env-selected store)")
	cmd.StringVar(&approvalID, "approval", "", "Export the trail of one approval id")
	cmd.StringVar(&sessionID, "session", "", "Export the trail of one session id")
	cmd.BoolVar(&all, "all", false, "Export the full audit log")
	cmd.StringVar(&outPath, "out", "", "Write the bundle zip to this path")
	cmd.BoolVar(&toArchive, "archive", false, "Push the bundle to the configured archive store")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	selectors := 0
	for _, set := range []bool{approvalID != "", sessionID != "", all} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		_, _ = fmt.Fprintln(stderr, "Error: specify exactly one of --approval, --session, or --all")
		return 2
	}
	if outPath == "" && !toArchive {
		_, _ = fmt.Fprintln(stderr, "Error: specify --out or --archive")
		return 2
	}

	ctx := context.Background()
	log, db, err := openAuditLog(ctx, dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()

	filter := audit.Filter{ApprovalID: approvalID, SessionID: sessionID}

	if toArchive {
		archStore, err := archive.NewStoreFromEnv(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		ref, err := audit.NewExporter(log, archStore).ArchivePack(ctx, filter)
		if errors.Is(err, audit.ErrNoEntries) {
			_, _ = fmt.Fprintln(stderr, "Error: no audit entries match the selector")
			return 1
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		printExportResult(stdout, jsonOutput, map[string]any{
			"status": "archived",
			"ref":    ref,
		}, "✅ Evidence bundle archived: %s\n", ref)
		return 0
	}

	pack, hash, err := audit.NewExporter(log, nil).GeneratePack(ctx, filter)
	if errors.Is(err, audit.ErrNoEntries) {
		_, _ = fmt.Fprintln(stderr, "Error: no audit entries match the selector")
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := os.WriteFile(outPath, pack, 0644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write bundle: %v\n", err)
		return 2
	}
	printExportResult(stdout, jsonOutput, map[string]any{
		"status":      "created",
		"bundle_path": outPath,
		"bundle_hash": hash,
	}, "✅ Evidence bundle created: %s (%s)\n", outPath, hash)
	return 0
}

func printExportResult(stdout io.Writer, jsonOutput bool, result map[string]any, format string, args ...any) {
	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return
	}
	_, _ = fmt.Fprintf(stdout, format, args...)
}
