// Package cli provides the tradecrew command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradecrew-ai/tradecrew/internal/config"
	"github.com/tradecrew-ai/tradecrew/internal/debug"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/server"
	"github.com/tradecrew-ai/tradecrew/internal/service"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// NewRootCmd creates the tradecrew command tree.
func NewRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "tradecrew",
		Short: "tradecrew - multi-agent trading analysis",
		Long: `tradecrew runs a staged multi-agent pipeline over a stock ticker:
analysts gather evidence, researchers debate it, a trader plans, risk
reviews the plan and a portfolio manager issues the final call.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	rootCmd.AddCommand(newAnalyzeCmd(&cfgPath))
	rootCmd.AddCommand(newServeCmd(&cfgPath))
	rootCmd.AddCommand(newStatusCmd(&cfgPath))
	rootCmd.AddCommand(newRetryCmd(&cfgPath))
	rootCmd.AddCommand(newCancelCmd(&cfgPath))
	rootCmd.AddCommand(newInitCmd(&cfgPath))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func loadManager(path string) (*config.Manager, error) {
	var opts []config.ManagerOption
	if path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	return config.NewManager(opts...)
}

func loadConfig(path string) (*config.Config, error) {
	m, err := loadManager(path)
	if err != nil {
		return nil, err
	}
	cfg := m.Get()
	return &cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
}

func newAnalyzeCmd(cfgPath *string) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "analyze TICKER",
		Short: "Run a full analysis for a ticker and print the decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cfg, args[0], wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 30*time.Minute, "how long to wait for the run to settle")
	return cmd
}

func runAnalyze(ctx context.Context, cfg *config.Config, ticker string, wait time.Duration) error {
	log := newLogger(cfg)

	if err := debug.InitEino(ctx, cfg, log); err != nil {
		return err
	}

	svc, err := service.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	run, err := svc.Coordinator.StartRun(ctx, ticker, "cli")
	if err != nil {
		return err
	}

	fmt.Println(renderBanner(run.Ticker, run.ID))

	final, err := waitForRun(ctx, svc.Store, run.ID, wait)
	if err != nil {
		return err
	}

	insights, err := svc.Store.ListInsights(ctx, run.ID)
	if err != nil {
		return err
	}
	fmt.Println(renderDecision(final, insights))

	if final.Status != workflow.RunCompleted {
		return fmt.Errorf("run settled as %s: %s", final.Status, final.Reason)
	}
	return nil
}

// waitForRun polls the store until the run reaches a terminal status,
// echoing phase transitions as they happen.
func waitForRun(ctx context.Context, st *store.Store, runID string, wait time.Duration) (*workflow.Run, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	lastPhase := workflow.Phase("")
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("run %s did not settle within %s", runID, wait)
		case <-tick.C:
		}

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, fmt.Errorf("run %s disappeared", runID)
		}
		if run.CurrentPhase != lastPhase {
			lastPhase = run.CurrentPhase
			fmt.Println(renderPhase(run.CurrentPhase))
		}
		if run.Status.IsTerminal() {
			return run, nil
		}
	}
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and agent workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := loadManager(*cfgPath)
			if err != nil {
				return err
			}
			cfg := m.Get()
			log := newLogger(&cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := debug.InitEino(ctx, &cfg, log); err != nil {
				return err
			}

			svc, err := service.New(ctx, &cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			// Edits to the config file retune the running pipeline.
			if err := m.Watch(ctx, svc.ApplyConfig); err != nil {
				return err
			}

			srv := server.New(svc.Coordinator, svc.Store, svc.RunAgent, log)
			return srv.ListenAndServe(ctx, cfg.HTTPAddr)
		},
	}
}

func newStatusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [RUN_ID]",
		Short: "Show one run, or the most recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if len(args) == 0 {
				runs, err := st.ListRuns(ctx, "", 20)
				if err != nil {
					return err
				}
				fmt.Println(renderRunList(runs))
				return nil
			}

			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			steps, err := st.ListSteps(ctx, run.ID)
			if err != nil {
				return err
			}
			fmt.Println(renderRunStatus(run, steps))
			return nil
		},
	}
}

func newRetryCmd(cfgPath *string) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "retry RUN_ID",
		Short: "Resume a failed run from its first failed step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			ctx := cmd.Context()

			svc, err := service.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			agent, err := svc.Coordinator.Resume(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("resumed at %s\n", agent)

			final, err := waitForRun(ctx, svc.Store, args[0], wait)
			if err != nil {
				return err
			}
			insights, err := svc.Store.ListInsights(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(renderDecision(final, insights))
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 30*time.Minute, "how long to wait for the run to settle")
	return cmd
}

func newCancelCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			cancelled, err := st.SetRunStatus(cmd.Context(), args[0],
				[]workflow.RunStatus{workflow.RunPending, workflow.RunRunning},
				workflow.RunCancelled, "cancelled by operator")
			if err != nil {
				return err
			}
			if !cancelled {
				return fmt.Errorf("run %s already settled", args[0])
			}
			fmt.Println("cancelled")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println("tradecrew v0.1.0")
		},
	}
}
