package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fieldops/workflow-engine/internal/config"
	"github.com/fieldops/workflow-engine/internal/httpapi"
	"github.com/fieldops/workflow-engine/internal/metrics"
	"github.com/fieldops/workflow-engine/internal/platform/database"
	"github.com/fieldops/workflow-engine/internal/platform/migrations"
	"github.com/fieldops/workflow-engine/internal/workflow/access"
	"github.com/fieldops/workflow-engine/internal/workflow/engine"
	"github.com/fieldops/workflow-engine/internal/workflow/inventory"
	"github.com/fieldops/workflow-engine/internal/workflow/notify"
	"github.com/fieldops/workflow-engine/internal/workflow/recovery"
	"github.com/fieldops/workflow-engine/internal/workflow/registry"
	"github.com/fieldops/workflow-engine/internal/workflow/staffcreate"
	"github.com/fieldops/workflow-engine/internal/workflow/state"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/internal/workflow/store/memstore"
	"github.com/fieldops/workflow-engine/internal/workflow/store/postgres"
	"github.com/fieldops/workflow-engine/pkg/logger"
	"github.com/fieldops/workflow-engine/pkg/ratelimit"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	apiTokensFlag := flag.String("api-tokens", "", "comma-separated API tokens for HTTP admin authentication")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	rootCtx := context.Background()

	var (
		db *sql.DB
		s  store.Store
	)

	dsnVal := resolveDSN(*dsn, cfg)
	if dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.WithError(err).Fatal("connect to postgres")
		}
		configurePool(db, cfg)
		if *runMigrations && cfg.Database.MigrateOnStart {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.WithError(err).Fatal("apply migrations")
			}
		}
		s = postgres.New(db)
		log.Info("using postgres store")
	} else {
		s = memstore.New()
		log.Info("using in-memory store (no DSN configured)")
	}
	if db != nil {
		defer db.Close()
	}

	// Leaf-first construction: Store precedes everything that reads it,
	// the Registry precedes Access Control and the State Manager, and the
	// Engine is assembled last from all of its collaborators.
	reg := registry.New()
	accessChecker := access.New(s, log)
	stateMgr := state.New(s, reg)
	enhancedMgr := state.NewEnhanced(stateMgr, log)

	transport := notify.NewLogTransport(log)
	dispatcher := notify.New(s, transport, log)

	inv := inventory.New(s, log)

	eng := engine.New(reg, accessChecker, stateMgr, dispatcher, inv, log)
	resolver := staffcreate.NewClientResolver(s)
	staffHandler := staffcreate.New(eng, resolver, s, log)

	detector := recovery.NewDetector(s)
	recoverer := recovery.NewRecoverer(stateMgr, log)
	health := recovery.NewHealthReporter(s, enhancedMgr, cfg.Workflow.HealthDegradedThreshold)

	tokens := resolveAPITokens(*apiTokensFlag, cfg)
	limiter := ratelimit.New(ratelimit.DefaultConfig())

	api := httpapi.New(eng, staffHandler, inv, detector, recoverer, health, s, tokens, limiter, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", metrics.InstrumentHandler(api.Router()))

	listenAddr := determineAddr(*addr, cfg)
	httpServer := &http.Server{Addr: listenAddr, Handler: mux}

	drain := notify.NewRetryDrain(s, transport, log)
	if err := drain.Start(rootCtx); err != nil {
		log.WithError(err).Fatal("start notification retry drain")
	}

	recoveryLoop := recovery.NewLoop(detector, health, log, time.Duration(cfg.Workflow.StuckThresholdHours)*time.Hour)
	if err := recoveryLoop.Start(rootCtx); err != nil {
		log.WithError(err).Fatal("start recovery loop")
	}

	go func() {
		log.WithField("addr", listenAddr).Info("workflow engine listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown")
	}
	if err := recoveryLoop.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("recovery loop shutdown")
	}
	if err := drain.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("notification retry drain shutdown")
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	if cfg != nil && cfg.Server.Port != 0 {
		host := strings.TrimSpace(cfg.Server.Host)
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	}
	return ":8080"
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if cfg == nil {
		return ""
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func resolveAPITokens(flagTokens string, cfg *config.Config) []string {
	var tokens []string
	tokens = append(tokens, splitTokens(flagTokens)...)
	if cfg != nil {
		tokens = append(tokens, cfg.Auth.Tokens...)
	}
	tokens = append(tokens, splitTokens(os.Getenv("API_TOKENS"))...)
	return tokens
}

func splitTokens(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed
}
