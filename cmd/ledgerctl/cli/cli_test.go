package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubMigrator struct {
	calls []string
	steps int
}

func (s *stubMigrator) Up() error {
	s.calls = append(s.calls, "up")
	return nil
}

func (s *stubMigrator) Down(steps int) error {
	s.calls = append(s.calls, "down")
	s.steps = steps
	return nil
}

func (s *stubMigrator) Version() (uint, bool, error) { return 3, false, nil }

type stubQueue struct {
	triggered []string
	closed    bool
}

func (s *stubQueue) Trigger(_ context.Context, name string) (string, error) {
	s.triggered = append(s.triggered, name)
	return "task-1", nil
}

func (s *stubQueue) InspectQueue(context.Context) (QueueStats, error) {
	return QueueStats{Queue: "default", Pending: 2}, nil
}

func (s *stubQueue) Close() error {
	s.closed = true
	return nil
}

func newCommands(m *stubMigrator, q *stubQueue) (*Commands, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	return &Commands{
		Stdout:   stdout,
		Stderr:   stderr,
		Migrator: func() (Migrator, error) { return m, nil },
		Queue:    func() (Queue, error) { return q, nil },
	}, stdout, stderr
}

func TestMigrateCommands(t *testing.T) {
	m := &stubMigrator{}
	cmds, stdout, _ := newCommands(m, &stubQueue{})
	ctx := context.Background()

	require.Equal(t, ExitOK, cmds.Run(ctx, []string{"migrate", "up"}))
	require.Equal(t, ExitOK, cmds.Run(ctx, []string{"migrate", "down", "--steps", "2"}))
	require.Equal(t, ExitOK, cmds.Run(ctx, []string{"migrate", "version"}))
	require.Equal(t, []string{"up", "down"}, m.calls)
	require.Equal(t, 2, m.steps)
	require.Contains(t, stdout.String(), "version 3 dirty=false")
}

func TestUsageErrors(t *testing.T) {
	cmds, _, stderr := newCommands(&stubMigrator{}, &stubQueue{})
	ctx := context.Background()

	require.Equal(t, ExitUsage, cmds.Run(ctx, nil))
	require.Equal(t, ExitUsage, cmds.Run(ctx, []string{"frobnicate"}))
	require.Equal(t, ExitUsage, cmds.Run(ctx, []string{"migrate", "sideways"}))
	require.Equal(t, ExitUsage, cmds.Run(ctx, []string{"jobs", "trigger", "mail:send"}))
	require.True(t, strings.Contains(stderr.String(), "unsupported task"))
}

func TestJobsTriggerAndStats(t *testing.T) {
	q := &stubQueue{}
	cmds, stdout, _ := newCommands(&stubMigrator{}, q)
	ctx := context.Background()

	require.Equal(t, ExitOK, cmds.Run(ctx, []string{"jobs", "trigger", "ledger:integrity"}))
	require.Equal(t, []string{"ledger:integrity"}, q.triggered)
	require.True(t, q.closed)
	require.Contains(t, stdout.String(), "id=task-1")

	stdout.Reset()
	require.Equal(t, ExitOK, cmds.Run(ctx, []string{"jobs", "stats", "--json"}))
	require.JSONEq(t, `{"queue":"default","pending":2,"active":0,"scheduled":0,"retry":0,"failed":0}`, stdout.String())
}

func TestVerifyExitCodes(t *testing.T) {
	cmds, stdout, _ := newCommands(&stubMigrator{}, &stubQueue{})
	ctx := context.Background()

	cmds.Verify = func(context.Context) (VerifyReport, error) { return VerifyReport{}, nil }
	require.Equal(t, ExitOK, cmds.Run(ctx, []string{"verify"}))

	cmds.Verify = func(context.Context) (VerifyReport, error) { return VerifyReport{StockMismatch: 1}, nil }
	stdout.Reset()
	require.Equal(t, ExitDrift, cmds.Run(ctx, []string{"verify", "--json"}))
	require.JSONEq(t, `{"ledger_issues":0,"stock_mismatches":1}`, stdout.String())

	cmds.Verify = func(context.Context) (VerifyReport, error) { return VerifyReport{}, errors.New("boom") }
	require.Equal(t, ExitError, cmds.Run(ctx, []string{"verify"}))
}
