package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polypipe/internal/adapters/bundle"
	"github.com/alejandrodnm/polypipe/internal/adapters/notify"
	"github.com/alejandrodnm/polypipe/internal/adapters/storage"
	"github.com/alejandrodnm/polypipe/internal/application/pipeline"
	"github.com/alejandrodnm/polypipe/internal/domain"
	"github.com/alejandrodnm/polypipe/internal/ports"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the full pass without persistence, writing paper trading results",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := executePass(cmd, nil, nil)
		if err != nil {
			return err
		}
		if err := bundle.WriteDocument(outPath(bundle.FilePaperTrading), paperPayload(run)); err != nil {
			return err
		}
		return bundle.SaveExecutionBundle(outPath(bundle.FileBundle), run.UpdatedBundle)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pass: analyze, map, gate, build, simulate, persist",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := executePass(cmd, store, notify.NewConsole(flagTable))
		if err != nil {
			return err
		}
		if err := bundle.WriteRunOutputs(cfg.Pipeline.OutputDir, run); err != nil {
			return err
		}
		slog.Info("run persisted", "run_id", run.ID, "dsn", cfg.Storage.DSN, "out", cfg.Pipeline.OutputDir)
		return nil
	},
}

func executePass(cmd *cobra.Command, store ports.RunStorage, notifier ports.Notifier) (domain.PipelineRun, error) {
	env, err := loadStageEnv(true)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	approvals, err := bundle.LoadApprovals(flagApprovals, true)
	if err != nil {
		return domain.PipelineRun{}, err
	}

	p := pipeline.New(pipelineConfig(), approvals, store, notifier)
	return p.Run(cmd.Context(), pipeline.Input{
		Markets:          env.agent.Markets,
		Snapshots:        bundle.AnalyzerInputs(env.agent, env.md),
		Candidates:       env.agent.Candidates,
		Bundle:           env.bundle,
		PortfolioID:      env.agent.PortfolioID,
		Liquidity:        env.md.LiquidityMap(),
		CautionOverrides: env.agent.Overrides(),
	})
}

func paperPayload(run domain.PipelineRun) bundle.PaperTradingPayload {
	return bundle.PaperTradingPayload{
		SimulationID:    run.SimulationID,
		GeneratedAt:     run.GeneratedAt,
		ExecutedOrders:  run.ExecutedOrders,
		SkippedOrders:   run.SkippedOrders,
		Executions:      run.Executions,
		AuditTrail:      run.AuditTrail,
		PositionUpdates: run.PositionUpdates,
		PnL:             run.PnL,
		UpdatedBundle:   run.UpdatedBundle,
	}
}

func init() {
	rootCmd.AddCommand(simulateCmd, runCmd)
}
