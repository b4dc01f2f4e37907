package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// SQLiteStore implements DataStore using SQLite. Money columns are stored as
// decimal text so values round-trip exactly.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer keeps ledger snapshots ordered
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, timeout: 5 * time.Second}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per IST trading day, overwritten on every ledger mutation
	CREATE TABLE IF NOT EXISTS daily_ledger (
		day TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		trades_taken INTEGER NOT NULL,
		capital_deployed TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Every sizing decision, accepted or not
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		day TEXT NOT NULL,
		underlying TEXT NOT NULL,
		symbol TEXT,
		strike TEXT,
		option_type TEXT,
		last_price TEXT,
		open_interest INTEGER,
		distance TEXT,
		tier INTEGER NOT NULL,
		score REAL NOT NULL,
		confidence REAL NOT NULL,
		lots INTEGER NOT NULL,
		lot_multiplier INTEGER NOT NULL,
		position_value TEXT NOT NULL,
		risk_amount TEXT NOT NULL,
		stop_loss TEXT NOT NULL,
		target TEXT NOT NULL,
		reason TEXT,
		outcome TEXT NOT NULL,
		order_id TEXT
	);

	-- Realized exits reported by the operator or the gateway
	CREATE TABLE IF NOT EXISTS closes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		day TEXT NOT NULL,
		underlying TEXT,
		pnl TEXT NOT NULL,
		note TEXT,
		closed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_day ON decisions(day);
	CREATE INDEX IF NOT EXISTS idx_decisions_underlying ON decisions(underlying, created_at);
	CREATE INDEX IF NOT EXISTS idx_closes_day ON closes(day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Ledger Methods
// ============================================================================

// SaveLedger upserts the ledger row for its day. It implements
// budget.Persister and so carries no context of its own.
func (s *SQLiteStore) SaveLedger(ledger models.DailyLedger) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO daily_ledger (day, state, trades_taken, capital_deployed, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ledger.Day, string(ledger.State), ledger.TradesTakenToday, ledger.CapitalDeployedToday, ledger.RealizedPnLToday, time.Now())
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to save ledger for %s: %v", ledger.Day, err)
	}
	return nil
}

// LoadLedger returns the stored ledger for day, or ErrDataNotFound.
func (s *SQLiteStore) LoadLedger(ctx context.Context, day string) (models.DailyLedger, error) {
	var l models.DailyLedger
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT day, state, trades_taken, capital_deployed, realized_pnl
		FROM daily_ledger WHERE day = ?
	`, day).Scan(&l.Day, &state, &l.TradesTakenToday, &l.CapitalDeployedToday, &l.RealizedPnLToday)
	if err == sql.ErrNoRows {
		return l, errors.Wrapf(errors.ErrDataNotFound, "no ledger for %s", day)
	}
	if err != nil {
		return l, errors.Wrapf(errors.ErrDatabaseError, "failed to load ledger: %v", err)
	}
	l.State = models.LedgerState(state)
	return l, nil
}

// LedgerHistory returns the most recent ledgers, newest first.
func (s *SQLiteStore) LedgerHistory(ctx context.Context, limit int) ([]models.DailyLedger, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, state, trades_taken, capital_deployed, realized_pnl
		FROM daily_ledger ORDER BY day DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to query ledgers: %v", err)
	}
	defer rows.Close()

	var out []models.DailyLedger
	for rows.Next() {
		var l models.DailyLedger
		var state string
		if err := rows.Scan(&l.Day, &state, &l.TradesTakenToday, &l.CapitalDeployedToday, &l.RealizedPnLToday); err != nil {
			return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to scan ledger: %v", err)
		}
		l.State = models.LedgerState(state)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ============================================================================
// Decision Methods
// ============================================================================

// SaveDecision journals a sizing decision.
func (s *SQLiteStore) SaveDecision(ctx context.Context, d *models.SizingDecision, outcome models.DecisionOutcome) error {
	var symbol, optionType sql.NullString
	var strike, lastPrice, distance sql.NullString
	var oi sql.NullInt64
	if q := d.Strike; q != nil {
		symbol = sql.NullString{String: q.TradingSymbol, Valid: true}
		optionType = sql.NullString{String: string(q.OptionType), Valid: true}
		strike = sql.NullString{String: q.StrikePrice.String(), Valid: true}
		lastPrice = sql.NullString{String: q.LastPrice.String(), Valid: true}
		distance = sql.NullString{String: q.UnderlyingDistance.String(), Valid: true}
		oi = sql.NullInt64{Int64: q.OpenInterest, Valid: true}
	}

	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO decisions (id, created_at, day, underlying, symbol, strike, option_type, last_price, open_interest, distance,
			tier, score, confidence, lots, lot_multiplier, position_value, risk_amount, stop_loss, target, reason, outcome, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')
	`, d.ID, created, calendar.DayKey(created), d.Underlying, symbol, strike, optionType, lastPrice, oi, distance,
		int(d.Tier), d.Score, d.Confidence, d.Lots, d.LotMultiplier,
		d.PositionValue, d.RiskAmount, d.StopLossPrice, d.TargetPrice, string(d.RejectionReason), string(outcome))
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to save decision %s: %v", d.ID, err)
	}
	return nil
}

// UpdateDecisionOutcome records what happened to a journaled decision.
func (s *SQLiteStore) UpdateDecisionOutcome(ctx context.Context, id string, outcome models.DecisionOutcome, orderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET outcome = ?, order_id = ? WHERE id = ?
	`, string(outcome), orderID, id)
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to update decision: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrDataNotFound, "decision %s", id)
	}
	return nil
}

// GetDecisions retrieves journaled decisions, newest first.
func (s *SQLiteStore) GetDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error) {
	query := `SELECT id, created_at, day, underlying, COALESCE(symbol, ''), COALESCE(strike, ''), COALESCE(option_type, ''),
		COALESCE(last_price, '0'), COALESCE(open_interest, 0), COALESCE(distance, '0'),
		tier, score, confidence, lots, lot_multiplier, position_value, risk_amount, stop_loss, target,
		COALESCE(reason, ''), outcome, COALESCE(order_id, '')
		FROM decisions WHERE 1=1`
	args := []interface{}{}

	if filter.Day != "" {
		query += " AND day = ?"
		args = append(args, filter.Day)
	}
	if filter.Underlying != "" {
		query += " AND underlying = ?"
		args = append(args, filter.Underlying)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if !filter.StartDate.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to query decisions: %v", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var symbol, strike, optionType, reason, outcome string
		var lastPrice, distance decimal.Decimal
		var oi int64
		var tier int
		d := &r.Decision

		if err := rows.Scan(&d.ID, &d.CreatedAt, &r.Day, &d.Underlying, &symbol, &strike, &optionType,
			&lastPrice, &oi, &distance,
			&tier, &d.Score, &d.Confidence, &d.Lots, &d.LotMultiplier,
			&d.PositionValue, &d.RiskAmount, &d.StopLossPrice, &d.TargetPrice,
			&reason, &outcome, &r.OrderID); err != nil {
			return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to scan decision: %v", err)
		}

		d.Tier = models.OITier(tier)
		d.RejectionReason = models.RejectionReason(reason)
		r.Outcome = models.DecisionOutcome(outcome)
		if strike != "" {
			strikePrice, err := decimal.NewFromString(strike)
			if err != nil {
				return nil, errors.Wrapf(errors.ErrDatabaseError, "bad strike %q on %s", strike, d.ID)
			}
			d.Strike = &models.StrikeQuote{
				TradingSymbol:      symbol,
				StrikePrice:        strikePrice,
				OptionType:         models.OptionType(optionType),
				LastPrice:          lastPrice,
				OpenInterest:       oi,
				UnderlyingDistance: distance,
			}
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// ============================================================================
// Close Methods
// ============================================================================

// SaveClose journals a realized exit.
func (s *SQLiteStore) SaveClose(ctx context.Context, rec models.CloseRecord) error {
	closedAt := rec.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	day := rec.Day
	if day == "" {
		day = calendar.DayKey(closedAt)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closes (day, underlying, pnl, note, closed_at) VALUES (?, ?, ?, ?, ?)
	`, day, rec.Underlying, rec.PnL, rec.Note, closedAt)
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to save close: %v", err)
	}
	return nil
}

// GetCloses returns the closes recorded for day in insertion order.
func (s *SQLiteStore) GetCloses(ctx context.Context, day string) ([]models.CloseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, COALESCE(underlying, ''), pnl, COALESCE(note, ''), closed_at
		FROM closes WHERE day = ? ORDER BY id
	`, day)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to query closes: %v", err)
	}
	defer rows.Close()

	var out []models.CloseRecord
	for rows.Next() {
		var rec models.CloseRecord
		if err := rows.Scan(&rec.Day, &rec.Underlying, &rec.PnL, &rec.Note, &rec.ClosedAt); err != nil {
			return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to scan close: %v", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ DataStore = (*SQLiteStore)(nil)
