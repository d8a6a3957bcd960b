package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polypipe/internal/domain"
	"github.com/alejandrodnm/polypipe/internal/ports"
)

// Console implements ports.Notifier, rendering a pipeline pass as tables
// on stdout.
type Console struct {
	out   io.Writer
	table bool
}

var _ ports.Notifier = (*Console)(nil)

// NewConsole creates a notifier that writes to stdout. table=false prints
// the one-line compact summary only.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify prints the run in the configured mode.
func (c *Console) Notify(_ context.Context, run domain.PipelineRun) error {
	if c.table {
		c.printFull(run)
	} else {
		c.printCompact(run)
	}
	return nil
}

func (c *Console) printCompact(run domain.PipelineRun) {
	allow, caution, block := countVerdicts(run.GateReport)
	fmt.Fprintf(c.out, "[%s] run %s | decisions:%d A:%d C:%d B:%d orders:%d filled:%d pnl:$%.4f\n",
		time.Now().Format("15:04:05"), run.ID,
		len(run.Decisions), allow, caution, block,
		len(run.Orders), len(run.ExecutedOrders), run.PnL.NetRealizedPnLUSD,
	)
}

func (c *Console) printFull(run domain.PipelineRun) {
	allow, caution, block := countVerdicts(run.GateReport)
	fmt.Fprintf(c.out, "\n[%s] run %s | portfolio %s, policy %s | A:%d C:%d B:%d\n",
		run.GeneratedAt.Format("15:04:05"), run.ID, run.PortfolioID, run.RiskPolicyID,
		allow, caution, block,
	)

	c.printGateTable(run.GateReport)
	if len(run.ExecutedOrders) > 0 {
		c.printOrdersTable(run)
	}
	if len(run.PositionUpdates) > 0 {
		c.printPositionsTable(run.PositionUpdates)
	}
	c.printPnL(run.PnL)
}

func (c *Console) printGateTable(report domain.GateReport) {
	if len(report.Results) == 0 {
		fmt.Fprintln(c.out, "  no decisions gated")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Decision", "Market", "Action", "Conf", "Notional", "Verdict", "Reasons")
	for _, r := range report.Results {
		table.Append(
			shortID(r.DecisionID),
			shortID(r.MarketID),
			string(r.ProposedAction),
			fmt.Sprintf("%.2f", r.DecisionConfidence),
			fmt.Sprintf("$%.2f", r.ProposedNotionalUSD),
			verdictIcon(r.RiskGate),
			strings.Join(r.RiskReasons, ","),
		)
	}
	table.Render()
}

func (c *Console) printOrdersTable(run domain.PipelineRun) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Order", "Filled", "Avg Px", "Notional", "Fee", "Status")
	for _, eo := range run.ExecutedOrders {
		table.Append(
			shortID(eo.OrderID),
			fmt.Sprintf("%.2f", eo.FilledQuantity),
			fmt.Sprintf("%.4f", eo.AvgFilledPrice),
			fmt.Sprintf("$%.2f", eo.NotionalUSD),
			fmt.Sprintf("$%.4f", eo.FeeUSD),
			string(eo.StatusAfter),
		)
	}
	table.Render()
}

func (c *Console) printPositionsTable(positions []domain.Position) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Position", "Side", "Size", "Avg Entry", "Mark", "Unrealized", "Status")
	for _, p := range positions {
		table.Append(
			shortID(p.ID),
			string(p.Side),
			fmt.Sprintf("%.2f", p.Size),
			fmt.Sprintf("%.4f", p.AvgEntryPrice),
			fmt.Sprintf("%.4f", p.MarkPrice),
			fmt.Sprintf("$%.4f", p.UnrealizedPnL),
			string(p.Status),
		)
	}
	table.Render()
}

func (c *Console) printPnL(pnl domain.PnLSummary) {
	fmt.Fprintf(c.out, "\n  Gross notional: $%.2f  fees: $%.4f\n", pnl.GrossNotionalUSD, pnl.FeeUSD)
	fmt.Fprintf(c.out, "  Realized: $%.4f  net: $%.4f  unrealized: $%.4f\n",
		pnl.RealizedPnLUSD, pnl.NetRealizedPnLUSD, pnl.TotalUnrealizedPnLUSD)
	fmt.Fprintf(c.out, "  Positions: %d open, %d closed\n\n", pnl.OpenPositions, pnl.ClosedPositions)
}

func countVerdicts(report domain.GateReport) (allow, caution, block int) {
	for _, r := range report.Results {
		switch r.RiskGate {
		case domain.VerdictAllow:
			allow++
		case domain.VerdictCaution:
			caution++
		case domain.VerdictBlock:
			block++
		}
	}
	return
}

func verdictIcon(v domain.Verdict) string {
	switch v {
	case domain.VerdictAllow:
		return "✓ allow"
	case domain.VerdictCaution:
		return "⚠ caution"
	case domain.VerdictBlock:
		return "✗ block"
	}
	return string(v)
}

func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:13] + "..."
}
