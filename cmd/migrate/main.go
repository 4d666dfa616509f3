package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/odyssey-erp/clinic-billing/internal/app"
	"github.com/odyssey-erp/clinic-billing/internal/platform/migrate"
	"github.com/odyssey-erp/clinic-billing/migrations"
)

const usage = `usage: migrate [-dsn DSN] <command>

commands:
  up          apply all pending migrations
  down        roll back every migration
  steps N     apply N migrations, negative N rolls back
  force V     mark version V as applied
  version     print the applied version`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", os.Getenv("PG_DSN"), "postgres connection string")
	fs.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 || *dsn == "" {
		fs.Usage()
		return 2
	}

	logger := app.NewLogger(&app.Config{LogFormat: os.Getenv("LOG_FORMAT"), LogLevel: os.Getenv("LOG_LEVEL")})
	m, err := migrate.New(migrations.FS, *dsn, logger)
	if err != nil {
		logger.Error("init migrator", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("close migrator", slog.Any("error", err))
		}
	}()

	if err := dispatch(m, fs.Args()); err != nil {
		logger.Error("migrate", slog.String("command", fs.Arg(0)), slog.Any("error", err))
		return 1
	}
	return 0
}

func dispatch(m *migrate.Migrator, args []string) error {
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "steps", "force":
		if len(args) < 2 {
			return fmt.Errorf("%s requires a number", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if args[0] == "steps" {
			return m.Steps(n)
		}
		return m.Force(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
