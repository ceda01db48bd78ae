package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	"github.com/odyssey-erp/odyssey-ledger/migrations"
)

type migrator struct {
	dsn    string
	logger *slog.Logger
}

func (m migrator) Up() error                    { return migrations.Up(m.dsn, m.logger) }
func (m migrator) Down(steps int) error         { return migrations.Down(m.dsn, steps, m.logger) }
func (m migrator) Version() (uint, bool, error) { return migrations.Version(m.dsn) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(cli.ExitError)
	}
	logger := app.NewLogger(cfg)

	commands := &cli.Commands{
		Migrator: func() (cli.Migrator, error) {
			if cfg.PGDSN == "" {
				return nil, errors.New("PG_DSN is not set")
			}
			return migrator{dsn: cfg.PGDSN, logger: logger}, nil
		},
		Queue: func() (cli.Queue, error) {
			return cli.NewJobsCLI(cfg.RedisAddr)
		},
		Verify: func(ctx context.Context) (cli.VerifyReport, error) {
			rt, err := app.Bootstrap(ctx, cfg, logger, nil)
			if err != nil {
				return cli.VerifyReport{}, err
			}
			defer rt.Close()
			var report cli.VerifyReport
			issues, err := jobs.NewLedgerIntegrityJob(rt.Ledger, logger, nil, nil).Run(ctx, jobs.LedgerIntegrityPayload{RequestedBy: "ledgerctl"})
			if err != nil && !errors.Is(err, jobs.ErrIntegrity) {
				return report, err
			}
			report.LedgerIssues = len(issues)
			mismatches, err := jobs.NewStockReplayJob(rt.Stock, logger, nil, nil).Run(ctx, jobs.StockReplayPayload{RequestedBy: "ledgerctl"})
			if err != nil && !errors.Is(err, jobs.ErrIntegrity) {
				return report, err
			}
			report.StockMismatch = len(mismatches)
			return report, nil
		},
	}
	os.Exit(commands.Run(ctx, os.Args[1:]))
}
