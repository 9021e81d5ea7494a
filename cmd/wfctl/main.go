// Command wfctl is the workflow engine's admin CLI: stuck-request
// detection, admin recovery actions, inventory reconciliation, a health
// report, and a view of the pending notification retry queue.
//
// Usage:
//
//	wfctl detect_stuck
//	wfctl recover -actor-id <id> -actor-role admin <request_id> <option> [args]
//	wfctl reconcile_inventory
//	wfctl health
//	wfctl show_retries
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fieldops/workflow-engine/internal/config"
	"github.com/fieldops/workflow-engine/internal/platform/database"
	"github.com/fieldops/workflow-engine/internal/platform/migrations"
	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/inventory"
	"github.com/fieldops/workflow-engine/internal/workflow/recovery"
	"github.com/fieldops/workflow-engine/internal/workflow/registry"
	"github.com/fieldops/workflow-engine/internal/workflow/state"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/internal/workflow/store/memstore"
	"github.com/fieldops/workflow-engine/internal/workflow/store/postgres"
	"github.com/fieldops/workflow-engine/pkg/logger"
)

const (
	exitOK               = 0
	exitInvalidArgs      = 2
	exitPermissionDenied = 3
	exitNotFound         = 4
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidArgs)
	}

	log := logger.NewDefault("wfctl")
	s, err := openStore(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInvalidArgs)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	ctx := context.Background()

	detector := recovery.NewDetector(s)
	stateMgr := state.New(s, registry.New())
	recoverer := recovery.NewRecoverer(stateMgr, log)
	health := recovery.NewHealthReporter(s, nil, 10)
	inv := inventory.New(s, log)

	switch cmd {
	case "detect_stuck":
		cmdDetectStuck(ctx, detector, args)
	case "recover":
		cmdRecover(ctx, recoverer, args)
	case "reconcile_inventory":
		cmdReconcileInventory(ctx, inv, args)
	case "health":
		cmdHealth(ctx, health, args)
	case "show_retries":
		cmdShowRetries(ctx, s, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitInvalidArgs)
	}
}

func printUsage() {
	fmt.Println(`wfctl - workflow engine admin CLI

Usage:
  wfctl <command> [arguments]

Commands:
  detect_stuck                                          List requests stuck past their staleness threshold
  recover -actor-id <id> -actor-role admin <request_id> <option> [args]
                                                         Apply an admin recovery action
  reconcile_inventory                                    Reconcile equipment stock against completed requests
  health                                                 Print the engine health report
  show_retries                                           List queued notification retries

Recovery options:
  force_transition <target_role>
  reset_to_previous_state
  complete_workflow <admin_note>
  reassign_role <new_actor_id>

Exit codes:
  0  success
  2  invalid arguments
  3  permission denied (-actor-role is not admin)
  4  request not found`)
}

func openStore(ctx context.Context) (store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		if cfg.Database.Host != "" && cfg.Database.Name != "" {
			dsn = cfg.Database.ConnectionString()
		}
	}
	if dsn == "" {
		return memstore.New(), nil
	}
	db, err := database.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, db); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return postgres.New(db), nil
}

// requireAdmin is the CLI's access-control gate: only an actor with
// role=admin may invoke a recovery action, matching the spec's
// "permission denied" exit code for non-admin callers.
func requireAdmin(actorRole string) bool {
	return workflow.Role(actorRole) == workflow.RoleAdmin
}

func cmdDetectStuck(ctx context.Context, d *recovery.Detector, args []string) {
	fs := flag.NewFlagSet("detect_stuck", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		os.Exit(exitInvalidArgs)
	}

	reports, err := d.DetectStuck(ctx, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInvalidArgs)
	}
	if len(reports) == 0 {
		fmt.Println("No stuck requests")
		return
	}
	fmt.Printf("%-36s %-20s %-20s %10s  %s\n", "ID", "Workflow Type", "Current Role", "Stuck (h)", "Description")
	for _, r := range reports {
		fmt.Printf("%-36s %-20s %-20s %10.1f  %s\n", r.RequestID, r.WorkflowType, r.CurrentRole, r.StuckDurationHours, r.DescriptionSnippet)
	}
}

func cmdRecover(ctx context.Context, r *recovery.Recoverer, args []string) {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	actorID := fs.String("actor-id", "", "admin user id performing the recovery")
	actorRole := fs.String("actor-role", "", "acting role, must be admin")
	if err := fs.Parse(args); err != nil {
		os.Exit(exitInvalidArgs)
	}

	remaining := fs.Args()
	if len(remaining) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: wfctl recover -actor-id <id> -actor-role admin <request_id> <option> [args]")
		os.Exit(exitInvalidArgs)
	}
	if !requireAdmin(*actorRole) {
		fmt.Fprintln(os.Stderr, "Error: recover requires -actor-role admin")
		os.Exit(exitPermissionDenied)
	}
	if strings.TrimSpace(*actorID) == "" {
		fmt.Fprintln(os.Stderr, "Error: -actor-id is required")
		os.Exit(exitInvalidArgs)
	}

	requestID := remaining[0]
	option := recovery.RecoveryOption(remaining[1])
	rest := remaining[2:]

	switch option {
	case recovery.OptionForceTransition:
		if len(rest) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: wfctl recover <request_id> force_transition <target_role>")
			os.Exit(exitInvalidArgs)
		}
		req, err := r.ForceTransition(ctx, requestID, workflow.Role(rest[0]), *actorID)
		exitOnRecoveryResult(req, err)
	case recovery.OptionResetToPrevious:
		req, err := r.ResetToPreviousState(ctx, requestID, *actorID)
		exitOnRecoveryResult(req, err)
	case recovery.OptionCompleteWorkflow:
		note := ""
		if len(rest) > 0 {
			note = strings.Join(rest, " ")
		}
		req, err := r.CompleteWorkflow(ctx, requestID, *actorID, note)
		exitOnRecoveryResult(req, err)
	case recovery.OptionReassignRole:
		if len(rest) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: wfctl recover <request_id> reassign_role <new_actor_id>")
			os.Exit(exitInvalidArgs)
		}
		if err := r.ReassignRole(ctx, requestID, rest[0], *actorID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitNotFound)
		}
		fmt.Printf("Request %s reassigned to %s\n", requestID, rest[0])
	default:
		fmt.Fprintf(os.Stderr, "Unknown recovery option: %s\n", option)
		os.Exit(exitInvalidArgs)
	}
}

func exitOnRecoveryResult(req workflow.Request, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitNotFound)
	}
	fmt.Printf("Request %s -> role=%s status=%s\n", req.ID, req.CurrentRole, req.CurrentStatus)
}

func cmdReconcileInventory(ctx context.Context, r *inventory.Reconciler, args []string) {
	fs := flag.NewFlagSet("reconcile_inventory", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		os.Exit(exitInvalidArgs)
	}

	report, err := r.ReconcileCompleted(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInvalidArgs)
	}
	fmt.Printf("Attempted %d requests, %d shortages\n", report.Attempted, len(report.Shortages))
	for _, s := range report.Shortages {
		fmt.Printf("  %s\n", s)
	}
	if report.Discrepancy != nil {
		for _, e := range report.Discrepancy.Errors {
			fmt.Printf("  discrepancy: %v\n", e)
		}
	}
}

func cmdHealth(ctx context.Context, h *recovery.HealthReporter, args []string) {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		os.Exit(exitInvalidArgs)
	}

	report, err := h.Report(ctx, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInvalidArgs)
	}
	fmt.Printf("Status: %s\n", report.Status)
	fmt.Printf("Active transactions: %d\n", report.ActiveTransactions)
	fmt.Printf("Pending notification retries: %d\n", report.PendingNotificationRetries)
	fmt.Printf("Critical errors (last hour): %d\n", report.CriticalErrorsLastHour)
	fmt.Println("Errors by category (last 24h):")
	for category, count := range report.ErrorsByCategoryLast24h {
		fmt.Printf("  %-20s %d\n", category, count)
	}
}

func cmdShowRetries(ctx context.Context, s store.Store, args []string) {
	fs := flag.NewFlagSet("show_retries", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		os.Exit(exitInvalidArgs)
	}

	entries, err := s.ListNotificationRetries(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInvalidArgs)
	}
	if len(entries) == 0 {
		fmt.Println("No queued notification retries")
		return
	}
	fmt.Printf("%-36s %-36s %-20s %10s %-25s %s\n", "ID", "Request ID", "Recipient Role", "Attempts", "Next Retry", "Manual Review")
	for _, e := range entries {
		fmt.Printf("%-36s %-36s %-20s %10d %-25s %v\n", e.ID, e.RequestID, e.IntendedRecipientRole, e.RetryCount, e.NextRetryAt.Format(time.RFC3339), e.ManualReview)
	}
}
