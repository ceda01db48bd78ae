// Package cli implements the ledgerctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
	// ExitDrift reports a verify run that found integrity issues.
	ExitDrift = 10
)

// Migrator applies schema migrations.
type Migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
}

// Queue enqueues and inspects background jobs.
type Queue interface {
	Trigger(ctx context.Context, name string) (string, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
	Close() error
}

// VerifyReport is the outcome of an inline integrity run.
type VerifyReport struct {
	LedgerIssues  int `json:"ledger_issues"`
	StockMismatch int `json:"stock_mismatches"`
}

// OK reports whether no drift was found.
func (r VerifyReport) OK() bool { return r.LedgerIssues == 0 && r.StockMismatch == 0 }

// Commands carries the dependencies of every subcommand. Factories are
// called lazily so that a command only connects to what it uses.
type Commands struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Migrator func() (Migrator, error)
	Queue    func() (Queue, error)
	Verify   func(ctx context.Context) (VerifyReport, error)
}

const usage = `usage: ledgerctl <command> [flags]

commands:
  migrate up|down|version   manage the postgres schema
  jobs trigger <task>       enqueue ledger:integrity or stock:replay_audit
  jobs stats                show default queue counters
  verify                    run the integrity checks inline
`

// Run dispatches args and returns the process exit code.
func (c *Commands) Run(ctx context.Context, args []string) int {
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if len(args) == 0 {
		_, _ = fmt.Fprint(c.Stderr, usage)
		return ExitUsage
	}
	var err error
	switch args[0] {
	case "migrate":
		err = c.migrate(args[1:])
	case "jobs":
		err = c.jobs(ctx, args[1:])
	case "verify":
		return c.verify(ctx, args[1:])
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(c.Stdout, usage)
		return ExitOK
	default:
		err = usageError("unknown command %q", args[0])
	}
	return c.exit(args[0], err)
}

type usageErr struct{ msg string }

func (e *usageErr) Error() string { return e.msg }

func usageError(format string, args ...any) error {
	return &usageErr{msg: fmt.Sprintf(format, args...)}
}

func (c *Commands) exit(cmd string, err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, pflag.ErrHelp) {
		return ExitOK
	}
	_, _ = fmt.Fprintf(c.Stderr, "%s: %v\n", cmd, err)
	var ue *usageErr
	if errors.As(err, &ue) {
		_, _ = fmt.Fprint(c.Stderr, usage)
		return ExitUsage
	}
	return ExitError
}

func (c *Commands) migrate(args []string) error {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("expected one of up, down, version")
	}
	if c.Migrator == nil {
		return errors.New("migrator not configured")
	}
	m, err := c.Migrator()
	if err != nil {
		return err
	}
	switch fs.Arg(0) {
	case "up":
		return m.Up()
	case "down":
		return m.Down(*steps)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(c.Stdout, "version %d dirty=%t\n", version, dirty)
		return err
	}
	return usageError("unknown migrate action %q", fs.Arg(0))
}

func (c *Commands) jobs(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("jobs", pflag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	asJSON := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usageError("expected trigger or stats")
	}
	action := fs.Arg(0)
	switch action {
	case "trigger":
		if fs.NArg() != 2 {
			return usageError("jobs trigger takes one task name")
		}
		if task := fs.Arg(1); task != jobs.TaskLedgerIntegrity && task != jobs.TaskStockReplayAudit {
			return usageError("unsupported task %q", task)
		}
	case "stats":
	default:
		return usageError("unknown jobs action %q", action)
	}
	if c.Queue == nil {
		return errors.New("queue not configured")
	}
	q, err := c.Queue()
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	if action == "trigger" {
		id, err := q.Trigger(ctx, fs.Arg(1))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(c.Stdout, "enqueued %s id=%s\n", fs.Arg(1), id)
		return err
	}
	stats, err := q.InspectQueue(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return json.NewEncoder(c.Stdout).Encode(stats)
	}
	_, err = fmt.Fprintf(c.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed)
	return err
}

func (c *Commands) verify(ctx context.Context, args []string) int {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	asJSON := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return c.exit("verify", err)
	}
	if c.Verify == nil {
		return c.exit("verify", errors.New("verifier not configured"))
	}
	report, err := c.Verify(ctx)
	if err != nil {
		return c.exit("verify", err)
	}
	if *asJSON {
		if err := json.NewEncoder(c.Stdout).Encode(report); err != nil {
			return c.exit("verify", err)
		}
	} else {
		_, _ = fmt.Fprintf(c.Stdout, "ledger issues: %d\nstock mismatches: %d\n", report.LedgerIssues, report.StockMismatch)
	}
	if !report.OK() {
		return ExitDrift
	}
	return ExitOK
}
