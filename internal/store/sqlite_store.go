package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

// SQLiteStore is the embedded-database Store implementation, selected
// when --store/STORE_DSN names a file path. It stores most rows as
// JSON blobs alongside a few indexed columns, mirroring the
// cache-table convention in aristath-sentinel's clientdata.Repository
// rather than a fully normalized relational schema — spec.md §1 treats
// "the relational store itself" as out of scope, so this exists only
// to give Store a real embedded backing, not a tuned schema.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite database at dsn
// and ensures its schema exists.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 serializes writers; avoid SQLITE_BUSY storms

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS portfolio (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			btc REAL NOT NULL,
			usd REAL NOT NULL,
			total_value_usd REAL NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TIMESTAMP NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS market_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TIMESTAMP NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			at TIMESTAMP NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			at TIMESTAMP NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS source_metrics (
			source TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cycle_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			at TIMESTAMP NOT NULL,
			data TEXT NOT NULL
		)`,
	}
	for _, kind := range types.AllSourceKinds() {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS signals_%s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				at TIMESTAMP NOT NULL,
				data TEXT NOT NULL
			)`, string(kind)))
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ReadPortfolio(ctx context.Context) (types.Portfolio, error) {
	var p types.Portfolio
	var updatedAt time.Time
	row := s.db.QueryRowContext(ctx, `SELECT btc, usd, total_value_usd, updated_at FROM portfolio WHERE id = 1`)
	if err := row.Scan(&p.BTC, &p.USD, &p.TotalValueUsd, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return types.Portfolio{}, nil
		}
		return types.Portfolio{}, fmt.Errorf("read portfolio: %w", err)
	}
	p.UpdatedAt = updatedAt
	return p, nil
}

func (s *SQLiteStore) WritePortfolio(ctx context.Context, p types.Portfolio) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portfolio (id, btc, usd, total_value_usd, updated_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET btc=excluded.btc, usd=excluded.usd,
		 total_value_usd=excluded.total_value_usd, updated_at=excluded.updated_at`,
		p.BTC, p.USD, p.TotalValueUsd, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write portfolio: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendPortfolioSnapshot(ctx context.Context, p types.Portfolio) error {
	return s.appendJSON(ctx, "portfolio_history", "at, data", p.UpdatedAt, p)
}

func (s *SQLiteStore) AppendAgentExecution(ctx context.Context, e AgentExecution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_executions (agent_id, at, data) VALUES (?, ?, ?)`,
		string(e.AgentId), e.At, mustJSON(e))
	if err != nil {
		return fmt.Errorf("append agent execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendDecision(ctx context.Context, d types.DecisionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_decisions (cycle_id, agent_id, type, at, data) VALUES (?, ?, ?, ?, ?)`,
		d.Decision.CycleId, string(d.Decision.AgentId), string(d.Decision.Type), d.Decision.At, mustJSON(d))
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendSignal(ctx context.Context, kind types.SignalKind, sig types.Signal) error {
	table := "signals_" + sourceTableSuffix(kind)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (at, data) VALUES (?, ?)`, table),
		sig.At, mustJSON(sig))
	if err != nil {
		return fmt.Errorf("append signal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadSourceMetrics(ctx context.Context) (map[types.SourceKind]types.SourceMetric, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, data FROM source_metrics`)
	if err != nil {
		return nil, fmt.Errorf("read source metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[types.SourceKind]types.SourceMetric)
	for rows.Next() {
		var source, data string
		if err := rows.Scan(&source, &data); err != nil {
			return nil, fmt.Errorf("scan source metric: %w", err)
		}
		var m types.SourceMetric
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("unmarshal source metric: %w", err)
		}
		out[types.SourceKind(source)] = m
	}
	return out, rows.Err()
}

func (s *SQLiteStore) WriteSourceMetrics(ctx context.Context, m map[types.SourceKind]types.SourceMetric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin source metrics tx: %w", err)
	}
	defer tx.Rollback()

	for kind, metric := range m {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_metrics (source, data) VALUES (?, ?)
			 ON CONFLICT(source) DO UPDATE SET data=excluded.data`,
			string(kind), mustJSON(metric)); err != nil {
			return fmt.Errorf("write source metric %s: %w", kind, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListAgentExecutions(ctx context.Context, agentId types.AgentId, limit int) ([]AgentExecution, error) {
	var rows *sql.Rows
	var err error
	if agentId != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT data FROM agent_executions WHERE agent_id = ? ORDER BY id DESC LIMIT ?`,
			string(agentId), nonZeroLimit(limit))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT data FROM agent_executions ORDER BY id DESC LIMIT ?`, nonZeroLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("list agent executions: %w", err)
	}
	defer rows.Close()

	var out []AgentExecution
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan agent execution: %w", err)
		}
		var e AgentExecution
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("unmarshal agent execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListRecentTrades(ctx context.Context, limit int) ([]AgentExecution, error) {
	return s.ListAgentExecutions(ctx, "", limit)
}

func (s *SQLiteStore) ReadPerformanceMetrics(ctx context.Context) (PerformanceMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM agent_decisions ORDER BY id DESC LIMIT 5000`)
	if err != nil {
		return PerformanceMetrics{}, fmt.Errorf("read performance metrics: %w", err)
	}
	defer rows.Close()

	var success, total int64
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return PerformanceMetrics{}, fmt.Errorf("scan decision: %w", err)
		}
		var d types.DecisionRecord
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return PerformanceMetrics{}, fmt.Errorf("unmarshal decision: %w", err)
		}
		if d.Execution == nil {
			continue
		}
		total++
		if d.Execution.Success {
			success++
		}
	}
	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total)
	}
	return PerformanceMetrics{SuccessRate: rate, TotalCount: total}, rows.Err()
}

func (s *SQLiteStore) AppendCycleSummary(ctx context.Context, c CycleSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_summaries (cycle_id, at, data) VALUES (?, ?, ?)`,
		c.CycleId, c.At, mustJSON(c))
	if err != nil {
		return fmt.Errorf("append cycle summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRecentDecisions(ctx context.Context, limit int) ([]types.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM agent_decisions ORDER BY id DESC LIMIT ?`, nonZeroLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	defer rows.Close()

	var out []types.DecisionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		var d types.DecisionRecord
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		out = append(out, d)
	}
	// reverse to oldest-first, matching MemStore.ListRecentDecisions
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) appendJSON(ctx context.Context, table, cols string, at time.Time, v any) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?)`, table, cols), at, mustJSON(v))
	if err != nil {
		return fmt.Errorf("append to %s: %w", table, err)
	}
	return nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable on a programming error (unmarshalable type); the
		// schema here is append-only JSON blobs, never hand-constructed.
		panic(fmt.Sprintf("store: marshal %T: %v", v, err))
	}
	return string(b)
}

func nonZeroLimit(limit int) int {
	if limit <= 0 {
		return 1000000
	}
	return limit
}

func sourceTableSuffix(kind types.SignalKind) string {
	switch kind {
	case types.SignalWhale:
		return "whale"
	case types.SignalNarrative:
		return "narrative"
	case types.SignalArbitrage:
		return "arbitrage"
	case types.SignalInfluencer:
		return "influencer"
	case types.SignalTechnical:
		return "technical"
	case types.SignalInstitutional:
		return "institutional"
	case types.SignalDerivative:
		return "derivative"
	case types.SignalMacro:
		return "macro"
	default:
		return "unknown"
	}
}
