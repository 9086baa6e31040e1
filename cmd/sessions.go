package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/service"
)

// ledgerProvider opens the session ledger and returns a cleanup function.
// Tests substitute a provider backed by memory.
type ledgerProvider func(ctx context.Context, cfg config.Interface) (schemas.SessionLedger, func(), error)

func defaultLedgerProvider(ctx context.Context, cfg config.Interface) (schemas.SessionLedger, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (TANDEM_DATABASE_URL)")
	}
	s, pool, err := service.InitializeLedger(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed (via sessions cleanup).")
	}
	return s, cleanup, nil
}

// newSessionsCmd lists recent query sessions from the ledger.
func newSessionsCmd(provider ledgerProvider, cfg *config.Config) *cobra.Command {
	var limit int

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent query sessions recorded in the session ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ledger, cleanup, err := provider(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := ledger.RecentSessions(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			observability.GetLogger().Debug("Listed sessions.", zap.Int("count", len(records)))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tDELEGATIONS\tSTATUS\tQUERY")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID,
					time.UnixMilli(r.StartedAt).Format(time.RFC3339),
					time.Duration(r.FinishedAt-r.StartedAt)*time.Millisecond,
					r.Delegations,
					sessionStatus(r),
					truncate(r.Query, 60))
			}
			return w.Flush()
		},
	}
	sessionsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list")
	return sessionsCmd
}

func sessionStatus(r schemas.SessionRecord) string {
	switch {
	case r.Failed:
		return "failed"
	case r.Terminated:
		return "answered"
	default:
		return "budget"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
