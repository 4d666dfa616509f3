// Command billingctl runs operational checks against the billing ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/clinic-billing/cmd/billingctl/cli"
	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	"github.com/odyssey-erp/clinic-billing/internal/app"
	"github.com/odyssey-erp/clinic-billing/internal/platform/db"
)

const usage = `usage: billingctl <command> [flags]

commands:
  ledger-check [-limit N] [-json]   report ledger rows with inconsistent totals
  jobs-trigger <task>               enqueue a background job
  jobs-stats                        print default queue counters`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	switch os.Args[1] {
	case "ledger-check":
		fs := flag.NewFlagSet("ledger-check", flag.ExitOnError)
		limit := fs.Int("limit", 500, "maximum rows to report")
		asJSON := fs.Bool("json", false, "print JSON")
		_ = fs.Parse(os.Args[2:])

		pool, err := db.New(ctx, cfg.PGDSN, 2)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		code := cli.NewLedgerCLI(accruals.NewRepository(pool)).CheckCommand(ctx, cli.CheckOptions{Limit: *limit, JSONOutput: *asJSON})
		pool.Close()
		os.Exit(code)
	case "jobs-trigger", "jobs-stats":
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		code := runJobs(ctx, jobsCLI, os.Args[1], os.Args[2:])
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("close jobs cli", slog.Any("error", err))
		}
		os.Exit(code)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func runJobs(ctx context.Context, c *cli.JobsCLI, command string, args []string) int {
	if command == "jobs-stats" {
		stats, err := c.InspectQueue()
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "jobs-trigger: task name required")
		return 2
	}
	info, err := c.Trigger(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs-trigger: %v\n", err)
		return 1
	}
	fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
	return 0
}
