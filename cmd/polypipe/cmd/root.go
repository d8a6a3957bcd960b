package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polypipe/config"
	"github.com/alejandrodnm/polypipe/internal/application/analyzer"
	"github.com/alejandrodnm/polypipe/internal/application/builder"
	"github.com/alejandrodnm/polypipe/internal/application/gate"
	"github.com/alejandrodnm/polypipe/internal/application/pipeline"
	"github.com/alejandrodnm/polypipe/internal/application/sim"
)

var (
	flagConfig       string
	flagAgentContext string
	flagMarketData   string
	flagBundle       string
	flagApprovals    string
	flagOut          string
	flagTable        bool
	flagVerbose      bool
	flagLogFormat    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "polypipe",
	Short: "Prediction-market signal fusion and risk-gated paper execution",
	Long: `Polypipe turns raw prediction-market microstructure data and agent
decision proposals into risk-gated paper trades.

The pipeline stages, each also exposed as its own subcommand:

  decisions   analyze order books + trades, map candidate decisions
  gate        evaluate decisions against the portfolio's risk policy
  orders      build order proposals from gated decisions
  simulate    fill proposals against simulated liquidity, update positions
  run         the full pass end to end, persisted to SQLite`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagVerbose {
			cfg.Log.Level = "debug"
		}
		if flagLogFormat != "" {
			cfg.Log.Format = flagLogFormat
		}
		if flagOut != "" {
			cfg.Pipeline.OutputDir = flagOut
		}
		setupLogger(cfg.Log)
		return nil
	},
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		return err
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "path to YAML config file")
	pf.StringVar(&flagAgentContext, "agent-context", "agent_context.json", "agent context document (markets + candidate decisions)")
	pf.StringVar(&flagMarketData, "market-data", "market_data.json", "market capture document (books + trades + liquidity)")
	pf.StringVar(&flagBundle, "bundle", "execution_bundle.json", "fund execution state document")
	pf.StringVar(&flagApprovals, "approvals", "approvals.json", "human approvals document (optional)")
	pf.StringVar(&flagOut, "out", "", "output directory (overrides config)")
	pf.BoolVar(&flagTable, "table", false, "print full tables instead of the compact one-line summary")
	pf.BoolVar(&flagVerbose, "verbose", false, "set log level to debug")
	pf.StringVar(&flagLogFormat, "format", "", "log format: text|json (overrides config)")
}

// pipelineConfig assembles the per-stage config from the loaded file config.
func pipelineConfig() pipeline.Config {
	return pipeline.Config{
		Workers: cfg.Pipeline.Workers,
		Analyzer: analyzer.Config{
			TopNLevels:          cfg.Analyzer.TopNLevels,
			WideSpreadThreshold: cfg.Analyzer.WideSpreadThreshold,
			DivergenceThreshold: cfg.Analyzer.DivergenceThreshold,
			DepthReference:      cfg.Analyzer.DepthReference,
			DepthTargetSize:     cfg.Analyzer.DepthTargetSize,
			TradeReferenceSize:  cfg.Analyzer.TradeReferenceSize,
			TinyTradeThreshold:  cfg.Analyzer.TinyTradeThreshold,
			StaleTradeThreshold: time.Duration(cfg.Analyzer.StaleTradeSeconds) * time.Second,
			ChurnRatioThreshold: cfg.Analyzer.ChurnRatioThreshold,
		},
		Gate: gate.Config{
			DefaultOrderSizeUSD:       cfg.Gate.DefaultOrderSizeUSD,
			SizingMode:                gate.Sizing(cfg.Gate.SizingMode),
			MinConfidence:             cfg.Gate.MinConfidence,
			ManipulationRiskThreshold: cfg.Gate.ManipulationRiskThreshold,
		},
		Builder: builder.Config{
			OrderType:            orderType(cfg.Pipeline.OrderType),
			AllowCautionOverride: cfg.Pipeline.AllowCautionOverride,
		},
		Sim: sim.Config{
			FillModel:       sim.FillModel(cfg.Simulator.FillModel),
			FillRatio:       cfg.Simulator.FillRatio,
			FeeBps:          cfg.Simulator.FeeBps,
			SlippageBps:     cfg.Simulator.SlippageBps,
			ExecuteProposed: cfg.Simulator.ExecuteProposed,
		},
	}
}

func setupLogger(lc config.LogConfig) {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
