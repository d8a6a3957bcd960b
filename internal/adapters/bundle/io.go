package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// Output file names written by WriteRunOutputs.
const (
	FileMicrostructure  = "microstructure_states.json"
	FileDecisionRecords = "decision_records.json"
	FileGateReport      = "risk_gate_report.json"
	FileOrderProposals  = "order_proposals.json"
	FilePaperTrading    = "paper_trading_results.json"
	FileBundle          = "execution_bundle.json"
)

// LoadAgentContext reads the agent context document.
func LoadAgentContext(path string) (AgentContext, error) {
	var ctx AgentContext
	if err := readJSON(path, &ctx); err != nil {
		return AgentContext{}, fmt.Errorf("bundle.LoadAgentContext: %w", err)
	}
	if ctx.PortfolioID == "" {
		return AgentContext{}, fmt.Errorf("bundle.LoadAgentContext: %s: missing portfolio_id", path)
	}
	return ctx, nil
}

// LoadMarketData reads the market capture document.
func LoadMarketData(path string) (MarketData, error) {
	var md MarketData
	if err := readJSON(path, &md); err != nil {
		return MarketData{}, fmt.Errorf("bundle.LoadMarketData: %w", err)
	}
	return md, nil
}

// LoadExecutionBundle reads the fund execution state.
func LoadExecutionBundle(path string) (domain.ExecutionBundle, error) {
	var b domain.ExecutionBundle
	if err := readJSON(path, &b); err != nil {
		return domain.ExecutionBundle{}, fmt.Errorf("bundle.LoadExecutionBundle: %w", err)
	}
	return b, nil
}

// SaveExecutionBundle writes the updated fund execution state.
func SaveExecutionBundle(path string, b domain.ExecutionBundle) error {
	if err := writeJSON(path, b); err != nil {
		return fmt.Errorf("bundle.SaveExecutionBundle: %w", err)
	}
	return nil
}

// WriteRunOutputs writes the per-stage output documents of one pass into
// dir, creating it if needed.
func WriteRunOutputs(dir string, run domain.PipelineRun) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bundle.WriteRunOutputs: %w", err)
	}
	docs := map[string]any{
		FileMicrostructure: MicrostructurePayload{
			GeneratedAt: run.GeneratedAt,
			States:      run.States,
		},
		FileDecisionRecords: DecisionRecordsPayload{
			GeneratedAt: run.GeneratedAt,
			Decisions:   run.Decisions,
			Failures:    run.MappingFailures,
		},
		FileGateReport: run.GateReport,
		FileOrderProposals: OrderProposalsPayload{
			GeneratedAt: run.GeneratedAt,
			Orders:      run.Orders,
			Skipped:     run.SkippedDecisions,
		},
		FilePaperTrading: PaperTradingPayload{
			SimulationID:    run.SimulationID,
			GeneratedAt:     run.GeneratedAt,
			ExecutedOrders:  run.ExecutedOrders,
			SkippedOrders:   run.SkippedOrders,
			Executions:      run.Executions,
			AuditTrail:      run.AuditTrail,
			PositionUpdates: run.PositionUpdates,
			PnL:             run.PnL,
			UpdatedBundle:   run.UpdatedBundle,
		},
		FileBundle: run.UpdatedBundle,
	}
	for name, doc := range docs {
		if err := writeJSON(filepath.Join(dir, name), doc); err != nil {
			return fmt.Errorf("bundle.WriteRunOutputs: %s: %w", name, err)
		}
	}
	return nil
}

// WriteDocument writes one JSON document, creating parent directories.
func WriteDocument(path string, doc any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("bundle.WriteDocument: %w", err)
		}
	}
	if err := writeJSON(path, doc); err != nil {
		return fmt.Errorf("bundle.WriteDocument: %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
