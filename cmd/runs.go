package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/store"
)

type runLister interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

var newRunLister = func(ctx context.Context, url string, logger *zap.Logger) (runLister, func(), error) {
	pool, err := store.NewPool(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

func newRunsCmd() *cobra.Command {
	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recently journaled runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.DatabaseCfg.URL == "" {
				return errors.New("no database configured (database.url or WEBPILOT_DATABASE_URL)")
			}
			lister, closeFn, err := newRunLister(cmd.Context(), cfg.DatabaseCfg.URL, observability.GetLogger())
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := lister.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeRuns(cmd.OutOrStdout(), runs)
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return runsCmd
}

func writeRuns(w io.Writer, runs []store.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tREASON\tSTEPS\tTASK")
	for _, r := range runs {
		task := []rune(r.Task)
		if len(task) > 60 {
			task = append(task[:57], '.', '.', '.')
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.SessionID, r.StartedAt.Format("2006-01-02 15:04"), r.Reason, r.Iterations, string(task))
	}
	return tw.Flush()
}
