package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// surface is the browser side of a run.
type surface interface {
	schemas.PageModelProvider
	schemas.ActionBackend
	Close() error
}

// Component factories, replaced in tests.
var (
	newSurface = func(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (surface, error) {
		return browser.NewSession(ctx, logger, cfg)
	}
	newLLMClient = func(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
		return llmclient.NewRouterFromConfig(ctx, cfg, logger)
	}
	newJournal = openJournal
)

type runOptions struct {
	task    string
	output  string
	noStore bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the agent on a single task",
		Example: `  webpilot run --task "find the cheapest flight from Berlin to Rome next Friday" --url https://www.google.com
  webpilot run -t "apply to 3 jobs" --max-iterations 80 --headless=false`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			bindings := map[string]string{
				"agent.max_iterations": "max-iterations",
				"browser.headless":     "headless",
				"browser.start_url":    "url",
			}
			for key, flag := range bindings {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.task) == "" {
				return errors.New("a task is required (--task)")
			}
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			return runTask(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}

	runCmd.Flags().StringVarP(&opts.task, "task", "t", "", "task to complete, in plain language")
	runCmd.Flags().StringP("url", "u", "", "page to open before the first step")
	runCmd.Flags().Int("max-iterations", 50, "maximum observe/decide/act cycles")
	runCmd.Flags().Bool("headless", true, "run the browser without a window")
	runCmd.Flags().StringVarP(&opts.output, "output", "o", "text", "result format: text or json")
	runCmd.Flags().BoolVar(&opts.noStore, "no-store", false, "do not journal the run even if a database is configured")
	return runCmd
}

// runTask wires the collaborators, runs the controller and prints the result.
// An interrupt stops the controller at its next checkpoint.
func runTask(ctx context.Context, w io.Writer, cfg *config.Config, opts runOptions) error {
	logger := observability.ForTask(opts.task)

	client, err := newLLMClient(ctx, cfg.AgentCfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("Failed to close LLM client", zap.Error(cerr))
		}
	}()

	ctrlOpts := []agent.Option{}
	if cfg.DatabaseCfg.URL != "" && !opts.noStore {
		journal, closeJournal, err := newJournal(ctx, cfg.DatabaseCfg.URL, logger)
		if err != nil {
			return err
		}
		defer closeJournal()
		ctrlOpts = append(ctrlOpts, agent.WithJournal(journal))
	}

	surf, err := newSurface(ctx, logger, cfg.BrowserCfg)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if cerr := surf.Close(); cerr != nil {
			logger.Warn("Failed to close browser", zap.Error(cerr))
		}
	}()

	oracle := agent.NewLLMOracle(logger, client)
	ctrl := agent.New(logger, cfg.AgentCfg, surf, surf, oracle, ctrlOpts...)

	var (
		result *agent.RunResult
		runErr error
	)
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		result, runErr = ctrl.Run(gctx, opts.task)
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			logger.Info("Interrupt received, stopping the agent")
			ctrl.Stop()
		case <-done:
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if result != nil {
		if werr := writeResult(w, result, opts.output); werr != nil {
			return werr
		}
	}
	if errors.Is(runErr, agent.ErrStopped) {
		return nil
	}
	return runErr
}

// openJournal connects to the database and makes sure the schema exists.
func openJournal(ctx context.Context, url string, logger *zap.Logger) (agent.RunJournal, func(), error) {
	pool, err := store.NewPool(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

func writeResult(w io.Writer, r *agent.RunResult, format string) error {
	if format == "json" {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	status := "FAILED"
	if r.Success {
		status = "DONE"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) after %d iterations in %s\n",
		status, r.Reason, r.Iterations, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "Task: %s\n", r.Task)
	if r.Message != "" {
		fmt.Fprintf(&b, "Result: %s\n", r.Message)
	}
	if r.Loop != nil {
		fmt.Fprintf(&b, "Loop: %s\n", r.Loop.Reason)
	}
	if len(r.Records) > 0 {
		b.WriteString("Steps:\n")
		for _, rec := range r.Records {
			mark := "ok"
			if !rec.Result.Success {
				mark = "fail"
			} else if !rec.Valid {
				mark = "no effect"
			}
			fmt.Fprintf(&b, "  %2d. %-18s %s\n", rec.Iteration, rec.Action, mark)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
