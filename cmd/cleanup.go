package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mutation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/server"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
	"github.com/londonzade-stack/agent-seller-sub000/internal/unsubscribe"
)

// CleanupConfig describes one run of a recurring job. Exactly one action is
// set.
type CleanupConfig struct {
	Debug        bool
	ConnectionID string

	ArchiveQuery    string
	TrashQuery      string
	UnsubscribeScan string
	Max             int

	Vault VaultConfig
}

// action returns the job action named by the config.
func (c CleanupConfig) action() (string, string, error) {
	var action, query string
	n := 0
	if c.ArchiveQuery != "" {
		action, query = "archive", c.ArchiveQuery
		n++
	}
	if c.TrashQuery != "" {
		action, query = "trash", c.TrashQuery
		n++
	}
	if c.UnsubscribeScan != "" {
		action, query = "unsubscribe_scan", c.UnsubscribeScan
		n++
	}
	if n != 1 {
		return "", "", errors.New("exactly one of --archive-query, --trash-query or --unsubscribe-scan is required")
	}
	return action, query, nil
}

func newCleanupCmd() *cobra.Command {
	var cfg CleanupConfig

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one recurring cleanup job against a mailbox",
		Long: `Run a single cleanup job. This is the entry point an external scheduler
invokes for jobs created with the schedule_job tool; it does not decide when
to run.

Jobs were approved by the user when they were scheduled, so they run
without a further confirmation step:
  --archive-query Q       archive every message matching Q
  --trash-query Q         trash messages matching Q, at most --max
  --unsubscribe-scan Q    report unsubscribable senders among messages matching Q

The report is printed to stdout as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadVaultEnvVars(cmd, &cfg.Vault)
			envString(cmd, "connection", "MAILAGENT_CONNECTION", &cfg.ConnectionID)
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runCleanup(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cfg.ConnectionID, "connection", "", "Connection ID to clean up. Can also use MAILAGENT_CONNECTION env var.")
	cmd.Flags().StringVar(&cfg.ArchiveQuery, "archive-query", "", "Archive every message matching this search query")
	cmd.Flags().StringVar(&cfg.TrashQuery, "trash-query", "", "Trash messages matching this search query")
	cmd.Flags().StringVar(&cfg.UnsubscribeScan, "unsubscribe-scan", "", "Find unsubscribable senders among messages matching this query")
	cmd.Flags().IntVar(&cfg.Max, "max", 0, "Upper bound on messages touched or scanned (0 uses the engine default)")
	addVaultFlags(cmd, &cfg.Vault)
	return cmd
}

func runCleanup(ctx context.Context, cfg CleanupConfig, out io.Writer) error {
	action, query, err := cfg.action()
	if err != nil {
		return err
	}
	if cfg.ConnectionID == "" {
		return errors.New("--connection or MAILAGENT_CONNECTION is required")
	}

	logger := newLogger(cfg.Debug)
	v, store, err := openVault(ctx, cfg.Vault, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	sc, err := server.NewServerContext(ctx, server.Config{Vault: v, Logger: logger})
	if err != nil {
		return err
	}
	defer sc.Shutdown()

	session, err := sc.Session(ctx, cfg.ConnectionID)
	if err != nil {
		return err
	}
	report, err := runJob(ctx, session.Deps, action, query, cfg.Max)
	logging.WithConnection(logger, cfg.ConnectionID).Info("cleanup finished",
		logging.Operation(action),
		slog.Bool("ok", err == nil),
	)
	if report != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	}
	return err
}

// runJob executes one job action. A partial report is returned alongside
// an error whenever one exists.
func runJob(ctx context.Context, d *tools.Deps, action, query string, limit int) (any, error) {
	switch action {
	case "archive", "trash":
		op := mutation.OpArchive
		if action == "trash" {
			op = mutation.OpTrash
		}
		outcome, err := d.Mutator.Apply(ctx, mutation.Request{
			Query:     query,
			Operation: op,
			Limit:     limit,
			Confirmed: true,
		})
		return outcome, err
	case "unsubscribe_scan":
		candidates, err := d.Unsubscriber.FindCandidates(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		if candidates == nil {
			candidates = []unsubscribe.Candidate{}
		}
		return map[string]any{"candidates": candidates, "count": len(candidates)}, nil
	default:
		return nil, fmt.Errorf("unknown job action %q", action)
	}
}
