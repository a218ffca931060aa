package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/assentworks/assent/pkg/api"
	"github.com/assentworks/assent/pkg/audit"
	"github.com/assentworks/assent/pkg/auth"
	"github.com/assentworks/assent/pkg/chat"
	"github.com/assentworks/assent/pkg/config"
	"github.com/assentworks/assent/pkg/executor"
	"github.com/assentworks/assent/pkg/gate"
	"github.com/assentworks/assent/pkg/observability"
	"github.com/assentworks/assent/pkg/policy"
	"github.com/assentworks/assent/pkg/registry"
	"github.com/assentworks/assent/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for tests.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}

	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "verify-audit":
		return runVerifyAuditCmd(args[2:], stdout, stderr)
	case "export-audit":
		return runExportAuditCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "assent %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServer(stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sAssent %s%s\n", ColorBold+ColorBlue, "v"+version, ColorReset)
	fmt.Fprintf(w, "%sModels propose. Humans approve. Then it runs.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  assent <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "ENGINE")
	printCommand(w, "server", "Run the governance server (default)")
	printCommand(w, "health", "Check server health (HTTP)")

	printSection(w, "AUDIT")
	printCommand(w, "verify-audit", "Verify the audit log hash chain (--db, --json)")
	printCommand(w, "export-audit", "Export an evidence bundle (--approval, --session, --out)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-14s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func runServer(stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("server failed", "error", err)
		return 1
	}
	return 0
}

// serve wires the engine and runs the HTTP surface until ctx ends.
func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("assent starting", "version", version, "environment", cfg.Environment)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "assent",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTELEnabled,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cmdStore := store.NewSQLCommandStore(db)
	if err := cmdStore.Init(ctx); err != nil {
		return err
	}

	var arms store.ArmStore
	if cfg.RedisAddr != "" {
		redisArms := store.NewRedisArmStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisArms.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer redisArms.Close()
		slog.Info("arm store: redis", "addr", cfg.RedisAddr)
		arms = redisArms
	} else {
		sqlArms := store.NewSQLArmStore(db)
		if err := sqlArms.Init(ctx); err != nil {
			return err
		}
		arms = sqlArms
	}

	auditBackend := audit.NewSQLBackend(db)
	if err := auditBackend.Init(ctx); err != nil {
		return err
	}
	log, err := audit.Open(ctx, auditBackend)
	if err != nil {
		return err
	}
	seq, head := log.Head()
	slog.Info("audit log: ready", "seq", seq, "head", head)

	idemStore := api.NewSQLIdempotencyStore(db, cfg.IdempotencyTTL)
	if err := idemStore.Init(ctx); err != nil {
		return err
	}

	g := gate.New(arms, log)

	adapters := executor.NewRegistry()
	var adapter executor.Adapter
	if cfg.BridgeURL != "" {
		adapter = executor.NewHTTPAdapter(executor.BridgeConfig{
			URL:       cfg.BridgeURL,
			AuthToken: cfg.BridgeToken,
			Timeout:   cfg.ExecutorTimeout,
		})
		slog.Info("executor: bridge adapter", "url", cfg.BridgeURL)
	} else {
		adapter = executor.NewEchoAdapter()
		slog.Info("executor: echo adapter (no BRIDGE_URL set)")
	}
	if err := adapters.Register(adapter); err != nil {
		return fmt.Errorf("register adapter: %w", err)
	}
	exec := executor.New(adapters).WithTimeout(cfg.ExecutorTimeout)

	reg := registry.New(cmdStore, log, exec)

	guard, err := policy.NewGuard()
	if err != nil {
		return fmt.Errorf("init policy guard: %w", err)
	}
	if cfg.PolicyProfile != "" {
		profile, err := policy.LoadProfile(cfg.PolicyProfile)
		if err != nil {
			return err
		}
		if err := guard.Load(profile); err != nil {
			return fmt.Errorf("load policy profile: %w", err)
		}
		slog.Info("policy guard: profile loaded", "profile", profile.Name, "rules", len(profile.Rules))
	}

	chatSvc := chat.NewService(g, chat.NewHeuristicClassifier(), chat.Phrases{
		Activate:   cfg.ArmPhrase,
		Deactivate: cfg.DisarmPhrase,
	})

	srv := api.NewServer(chatSvc, reg, g, log, guard).
		WithReadiness(func(ctx context.Context) error {
			return db.PingContext(ctx)
		})

	var validator *auth.Validator
	if cfg.JWTSecret != "" {
		validator = auth.NewValidator([]byte(cfg.JWTSecret))
	} else if cfg.RequireAuth {
		return fmt.Errorf("REQUIRE_AUTH is set but JWT_SECRET is empty")
	}

	handler := srv.Handler(api.ServerOptions{
		Validator:   validator,
		RequireAuth: cfg.RequireAuth,
		RateLimiter: api.NewActorRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Idempotency: idemStore,
		CORSOrigins: cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      obs.HTTPHandler(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		slog.Info("assent ready", "addr", "http://localhost:"+cfg.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// Expired idempotency keys are rejected on read; this sweep just
	// keeps the table from growing without bound.
	eg.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-egCtx.Done():
				return nil
			case <-ticker.C:
				if err := idemStore.Cleanup(egCtx); err != nil {
					slog.Warn("idempotency cleanup failed", "error", err)
				}
			}
		}
	})

	return eg.Wait()
}

func runHealthCmd(out, errOut io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	_, _ = fmt.Fprintln(out, "OK")
	return 0
}
