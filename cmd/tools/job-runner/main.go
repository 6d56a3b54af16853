// Package main implements the job-runner CLI tool for invoking the
// notification service's scheduled maintenance tasks once, outside the
// service's cron loop.
//
// This tool is intended for local development, manual cleanup after an
// outage, and operational debugging. It wires the same services the
// notification service registers with its scheduler and runs one of them.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=retention-cleanup
//	go run ./cmd/tools/job-runner --task=retention-cleanup --reference-time=2026-01-15T02:00:00Z
//	go run ./cmd/tools/job-runner --task=retention-cleanup --retention=720h
//	go run ./cmd/tools/job-runner --dry-run --task=retention-cleanup
//	go run ./cmd/tools/job-runner --list
//
// The tool reads DATABASE_URL from environment variables (or .env file via
// godotenv). In --dry-run mode, it prints the resolved cutoff without
// touching the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"medinotify/internal/db"
	"medinotify/internal/logging"
	"medinotify/internal/scheduler"
	"medinotify/internal/types"
)

const taskRetentionCleanup = "retention-cleanup"

// validTasks is the set of tasks the notification service schedules.
var validTasks = map[string]string{
	taskRetentionCleanup: "Delete notifications and successful delivery logs older than the retention window",
}

const defaultRetention = 90 * 24 * time.Hour

// fixedClock pins the reference time for a run.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// runPlan is what a run will do, printed in --dry-run mode.
type runPlan struct {
	Task          string    `json:"task"`
	ReferenceTime time.Time `json:"reference_time"`
	Retention     string    `json:"retention"`
	Cutoff        time.Time `json:"cutoff"`
}

func main() {
	taskFlag := flag.String("task", "", "Task to execute (e.g., retention-cleanup)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T02:00:00Z)")
	retentionFlag := flag.Duration("retention", defaultRetention, "Retention window for retention-cleanup")
	listFlag := flag.Bool("list", false, "List all available tasks and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the resolved plan without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run a notification service maintenance task once.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available tasks.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}

	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, ok := validTasks[*taskFlag]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task %q\n\n", *taskFlag)
		printAvailableTasks()
		os.Exit(1)
	}
	if *retentionFlag <= 0 {
		fmt.Fprintf(os.Stderr, "error: --retention must be positive, got %s\n", *retentionFlag)
		os.Exit(1)
	}

	refTime := time.Now().UTC()
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-01-15T02:00:00Z\n")
			os.Exit(1)
		}
		refTime = t.UTC()
	}

	plan := runPlan{
		Task:          *taskFlag,
		ReferenceTime: refTime,
		Retention:     retentionFlag.String(),
		Cutoff:        refTime.Add(-*retentionFlag),
	}

	if *dryRunFlag {
		printPlan(plan)
		return
	}

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded (this is fine in production)", "error", err)
	}
	logger := logging.New("job-runner", os.Getenv("LOG_LEVEL"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	if err := executeTask(ctx, plan, *retentionFlag, logger); err != nil {
		logger.Error("task execution failed", "task", plan.Task, "error", err)
		os.Exit(1)
	}
	logger.Info("task execution succeeded", "task", plan.Task, "duration", time.Since(start).String())
}

// executeTask connects to the database and runs the selected task against
// the plan's reference time.
func executeTask(ctx context.Context, plan runPlan, retention time.Duration, logger types.Logger) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: databaseURL, MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	switch plan.Task {
	case taskRetentionCleanup:
		svc := scheduler.NewRetentionService(
			db.NewNotificationRepository(pool),
			db.NewDeliveryLogRepository(pool),
			retention,
			logger,
			scheduler.WithClock(fixedClock{t: plan.ReferenceTime}),
		)
		res, err := svc.Purge(ctx)
		logger.Info("retention cleanup finished",
			"cutoff", res.Cutoff.Format(time.RFC3339),
			"notifications_deleted", res.Notifications,
			"delivery_logs_deleted", res.DeliveryLogs,
		)
		return err
	default:
		return fmt.Errorf("no dispatch for task %q", plan.Task)
	}
}

func printAvailableTasks() {
	names := make([]string, 0, len(validTasks))
	for name := range validTasks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available tasks:")
	fmt.Println()
	for _, name := range names {
		fmt.Printf("  %-20s %s\n", name, validTasks[name])
	}
}

func printPlan(plan runPlan) {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal plan: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
