package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polypipe/internal/adapters/bundle"
	"github.com/alejandrodnm/polypipe/internal/application/analyzer"
	"github.com/alejandrodnm/polypipe/internal/application/builder"
	"github.com/alejandrodnm/polypipe/internal/application/gate"
	"github.com/alejandrodnm/polypipe/internal/application/mapper"
	"github.com/alejandrodnm/polypipe/internal/domain"
)

// stageEnv is the shared input set for the per-stage commands.
type stageEnv struct {
	agent  bundle.AgentContext
	md     bundle.MarketData
	bundle domain.ExecutionBundle
}

func loadStageEnv(withBundle bool) (stageEnv, error) {
	var env stageEnv
	var err error
	if env.agent, err = bundle.LoadAgentContext(flagAgentContext); err != nil {
		return stageEnv{}, err
	}
	if env.md, err = bundle.LoadMarketData(flagMarketData); err != nil {
		return stageEnv{}, err
	}
	if withBundle {
		if env.bundle, err = bundle.LoadExecutionBundle(flagBundle); err != nil {
			return stageEnv{}, err
		}
	}
	return env, nil
}

// analyzeAndMap runs the two stateless head stages shared by every
// subcommand.
func (env stageEnv) analyzeAndMap(ctx context.Context) (
	[]domain.MarketMicrostructureState,
	map[string]domain.MarketMicrostructureState,
	[]domain.DecisionRecord,
	[]domain.MappingFailure,
) {
	pc := pipelineConfig()
	states := analyzer.AnalyzeConcurrent(ctx, analyzer.New(pc.Analyzer), bundle.AnalyzerInputs(env.agent, env.md), pc.Workers)
	byOutcome := make(map[string]domain.MarketMicrostructureState, len(states))
	for _, st := range states {
		byOutcome[st.OutcomeID] = st
	}
	records, failures := mapper.New(env.agent.Markets).MapAll(env.agent.Candidates, byOutcome)
	return states, byOutcome, records, failures
}

func (env stageEnv) evaluateGate(ctx context.Context, records []domain.DecisionRecord, states map[string]domain.MarketMicrostructureState) (domain.GateReport, error) {
	approvals, err := bundle.LoadApprovals(flagApprovals, true)
	if err != nil {
		return domain.GateReport{}, err
	}
	return gate.New(pipelineConfig().Gate, approvals).Evaluate(ctx, env.bundle, env.agent.PortfolioID, records, states)
}

func outPath(name string) string {
	return filepath.Join(cfg.Pipeline.OutputDir, name)
}

func orderType(raw string) domain.OrderType {
	if raw == string(domain.OrderMarket) {
		return domain.OrderMarket
	}
	return domain.OrderLimit
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Analyze market microstructure and map candidate decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadStageEnv(false)
		if err != nil {
			return err
		}
		states, _, records, failures := env.analyzeAndMap(cmd.Context())
		now := time.Now().UTC().Truncate(time.Second)

		if err := bundle.WriteDocument(outPath(bundle.FileMicrostructure), bundle.MicrostructurePayload{
			GeneratedAt: now,
			States:      states,
		}); err != nil {
			return err
		}
		return bundle.WriteDocument(outPath(bundle.FileDecisionRecords), bundle.DecisionRecordsPayload{
			GeneratedAt: now,
			Decisions:   records,
			Failures:    failures,
		})
	},
}

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Evaluate decisions against the portfolio's risk policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadStageEnv(true)
		if err != nil {
			return err
		}
		_, byOutcome, records, _ := env.analyzeAndMap(cmd.Context())
		report, err := env.evaluateGate(cmd.Context(), records, byOutcome)
		if err != nil {
			return err
		}
		return bundle.WriteDocument(outPath(bundle.FileGateReport), report)
	},
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Build order proposals from gated decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadStageEnv(true)
		if err != nil {
			return err
		}
		_, byOutcome, records, _ := env.analyzeAndMap(cmd.Context())
		report, err := env.evaluateGate(cmd.Context(), records, byOutcome)
		if err != nil {
			return err
		}
		orders, skipped := builder.New(pipelineConfig().Builder).Build(records, report, env.agent.Overrides())
		return bundle.WriteDocument(outPath(bundle.FileOrderProposals), bundle.OrderProposalsPayload{
			GeneratedAt: report.GeneratedAt,
			Orders:      orders,
			Skipped:     skipped,
		})
	},
}

func init() {
	rootCmd.AddCommand(decisionsCmd, gateCmd, ordersCmd)
}
