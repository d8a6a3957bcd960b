package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/polypipe/internal/domain"
	"github.com/alejandrodnm/polypipe/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id             TEXT PRIMARY KEY,
    generated_at   DATETIME NOT NULL,
    portfolio_id   TEXT NOT NULL,
    risk_policy_id TEXT NOT NULL,
    simulation_id  TEXT NOT NULL,
    gross_notional REAL NOT NULL DEFAULT 0,
    fees_usd       REAL NOT NULL DEFAULT 0,
    realized_pnl   REAL NOT NULL DEFAULT 0,
    bundle_json    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
    id              TEXT PRIMARY KEY,
    run_id          TEXT NOT NULL,
    market_id       TEXT NOT NULL,
    outcome_id      TEXT NOT NULL,
    proposed_action TEXT NOT NULL,
    confidence      REAL NOT NULL,
    thesis          TEXT,
    created_at      DATETIME NOT NULL,
    created_by      TEXT
);

CREATE TABLE IF NOT EXISTS gate_results (
    run_id        TEXT NOT NULL,
    decision_id   TEXT NOT NULL,
    risk_gate     TEXT NOT NULL,
    risk_reasons  TEXT NOT NULL,
    price_proxy   REAL NOT NULL DEFAULT 0,
    notional_usd  REAL NOT NULL DEFAULT 0,
    quantity      REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, decision_id)
);

CREATE TABLE IF NOT EXISTS orders (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    portfolio_id TEXT NOT NULL,
    market_id    TEXT NOT NULL,
    outcome_id   TEXT NOT NULL,
    side         TEXT NOT NULL,
    order_type   TEXT NOT NULL,
    quantity     REAL NOT NULL,
    limit_price  REAL,
    status       TEXT NOT NULL,
    decision_id  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id              TEXT PRIMARY KEY,
    run_id          TEXT NOT NULL,
    order_id        TEXT NOT NULL,
    timestamp       DATETIME NOT NULL,
    filled_quantity REAL NOT NULL,
    filled_price    REAL NOT NULL,
    tx_hash         TEXT,
    fee_usd         REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS positions (
    run_id          TEXT NOT NULL,
    id              TEXT NOT NULL,
    portfolio_id    TEXT NOT NULL,
    market_id       TEXT NOT NULL,
    outcome_id      TEXT NOT NULL,
    side            TEXT NOT NULL,
    size            REAL NOT NULL,
    avg_entry_price REAL NOT NULL,
    mark_price      REAL NOT NULL,
    unrealized_pnl  REAL NOT NULL,
    status          TEXT NOT NULL,
    PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_runs_at          ON runs(generated_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_run    ON decisions(run_id);
CREATE INDEX IF NOT EXISTS idx_orders_run       ON orders(run_id);
CREATE INDEX IF NOT EXISTS idx_executions_run   ON executions(run_id);
CREATE INDEX IF NOT EXISTS idx_executions_order ON executions(order_id);
`

// SQLiteStorage implements ports.RunStorage using SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var _ ports.RunStorage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// SaveRun persists one pipeline pass in a single transaction.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run domain.PipelineRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: begin: %w", err)
	}
	defer tx.Rollback()

	bundleJSON, err := json.Marshal(run.UpdatedBundle)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: encode bundle: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, generated_at, portfolio_id, risk_policy_id, simulation_id,
		                  gross_notional, fees_usd, realized_pnl, bundle_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GeneratedAt.UTC(), run.PortfolioID, run.RiskPolicyID, run.SimulationID,
		run.PnL.GrossNotionalUSD, run.PnL.FeeUSD, run.PnL.RealizedPnLUSD, string(bundleJSON),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: insert run %s: %w", run.ID, err)
	}

	for _, d := range run.Decisions {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO decisions
			(id, run_id, market_id, outcome_id, proposed_action, confidence, thesis, created_at, created_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, run.ID, d.MarketID, d.OutcomeID, string(d.ProposedAction),
			d.Confidence, d.Thesis, d.CreatedAt.UTC(), d.CreatedByAgent,
		)
		if err != nil {
			return fmt.Errorf("storage.SaveRun: insert decision %s: %w", d.ID, err)
		}
	}

	for _, r := range run.GateReport.Results {
		reasons, err := json.Marshal(r.RiskReasons)
		if err != nil {
			return fmt.Errorf("storage.SaveRun: encode reasons for %s: %w", r.DecisionID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO gate_results
			(run_id, decision_id, risk_gate, risk_reasons, price_proxy, notional_usd, quantity)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, r.DecisionID, string(r.RiskGate), string(reasons),
			r.PriceProxy, r.ProposedNotionalUSD, r.ProposedQuantity,
		)
		if err != nil {
			return fmt.Errorf("storage.SaveRun: insert gate result %s: %w", r.DecisionID, err)
		}
	}

	for _, o := range run.Orders {
		var limitPrice any
		if o.LimitPrice != nil {
			limitPrice = *o.LimitPrice
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO orders
			(id, run_id, portfolio_id, market_id, outcome_id, side, order_type, quantity, limit_price, status, decision_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, run.ID, o.PortfolioID, o.MarketID, o.OutcomeID, string(o.Side),
			string(o.OrderType), o.Quantity, limitPrice, string(o.Status), o.DecisionRecordID,
		)
		if err != nil {
			return fmt.Errorf("storage.SaveRun: insert order %s: %w", o.ID, err)
		}
	}

	for _, e := range run.Executions {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO executions
			(id, run_id, order_id, timestamp, filled_quantity, filled_price, tx_hash, fee_usd)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, run.ID, e.OrderID, e.Timestamp.UTC(), e.FilledQuantity, e.FilledPrice, e.TxHash, e.FeeUSD,
		)
		if err != nil {
			return fmt.Errorf("storage.SaveRun: insert execution %s: %w", e.ID, err)
		}
	}

	for _, p := range run.PositionUpdates {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO positions
			(run_id, id, portfolio_id, market_id, outcome_id, side, size, avg_entry_price, mark_price, unrealized_pnl, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, p.ID, p.PortfolioID, p.MarketID, p.OutcomeID, string(p.Side),
			p.Size, p.AvgEntryPrice, p.MarkPrice, p.UnrealizedPnL, string(p.Status),
		)
		if err != nil {
			return fmt.Errorf("storage.SaveRun: insert position %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveRun: commit: %w", err)
	}
	return nil
}

// GetRunIDs returns persisted run ids, newest first.
func (s *SQLiteStorage) GetRunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY generated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetRunIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage.GetRunIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetRunBundle loads the execution bundle persisted with a run, letting the
// next pass start from stored state instead of a file.
func (s *SQLiteStorage) GetRunBundle(ctx context.Context, runID string) (domain.ExecutionBundle, time.Time, error) {
	var (
		raw         string
		generatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT bundle_json, generated_at FROM runs WHERE id = ?`, runID,
	).Scan(&raw, &generatedAt)
	if err != nil {
		return domain.ExecutionBundle{}, time.Time{}, fmt.Errorf("storage.GetRunBundle: %s: %w", runID, err)
	}
	var b domain.ExecutionBundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return domain.ExecutionBundle{}, time.Time{}, fmt.Errorf("storage.GetRunBundle: decode %s: %w", runID, err)
	}
	return b, generatedAt, nil
}

// Close releases the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
