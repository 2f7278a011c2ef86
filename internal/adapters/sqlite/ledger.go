// Package sqlite implements the ports.Ledger interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Ledger is the append-only trade record store.
type Ledger struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite ledger.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewLedger opens (creating if needed) the ledger database.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for SQLite ledger", ports.ErrConfigurationError)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/pullbackbot.db"
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
			cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
			return nil, err
		}
	}

	// WAL mode for concurrent appends from multiple trade cycles.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	// A single connection serializes writers and keeps :memory: databases
	// from splitting into one DB per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite ledger connection established", map[string]interface{}{"path": dbPath})

	ledger := &Ledger{db: db, logger: cfg.Logger}
	if err := ledger.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize ledger schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}
	return ledger, nil
}

func (l *Ledger) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		side TEXT NOT NULL,
		profit_pct REAL NOT NULL,
		profit_split_ratio REAL NOT NULL,
		risk_multiplier REAL NOT NULL,
		volatility REAL NOT NULL DEFAULT 0,
		volume_24h REAL NOT NULL DEFAULT 0,
		price_change_24h REAL NOT NULL DEFAULT 0,
		paper INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_exit_time ON trades (symbol, exit_time);
	`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		l.logger.Info(context.Background(), "Closing SQLite ledger connection")
		return l.db.Close()
	}
	return nil
}

// Append stores one completed trade record and returns its assigned ID.
func (l *Ledger) Append(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (symbol, entry_price, exit_price, entry_time, exit_time, side,
	                    profit_pct, profit_split_ratio, risk_multiplier,
	                    volatility, volume_24h, price_change_24h, paper)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := l.db.ExecContext(ctx, query,
		trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.EntryTime, trade.ExitTime, trade.Side,
		trade.ProfitPct, trade.ProfitSplitRatio, trade.RiskMultiplier,
		trade.Volatility, trade.Volume24h, trade.PriceChange24h, boolToInt(trade.Paper))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert trade for symbol %s: %w", ports.ErrQueryFailed, trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get last insert ID for trade %s: %w", ports.ErrQueryFailed, trade.Symbol, err)
	}
	trade.ID = id
	l.logger.Debug(ctx, "Trade appended to ledger", map[string]interface{}{
		"tradeID": id, "symbol": trade.Symbol, "side": trade.Side, "profitPct": trade.ProfitPct,
	})
	return id, nil
}

const selectColumns = `
	SELECT id, symbol, entry_price, exit_price, entry_time, exit_time, side,
	       profit_pct, profit_split_ratio, risk_multiplier,
	       volatility, volume_24h, price_change_24h, paper
	FROM trades`

// FindBySymbol retrieves the most recent records for a symbol, up to limit.
// A limit of zero or less returns every record for the symbol.
func (l *Ledger) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	query := selectColumns + ` WHERE symbol = ? ORDER BY exit_time DESC`
	args := []interface{}{symbol}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query trades for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// FindAll retrieves every record, ordered by exit time ascending.
func (l *Ledger) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	query := selectColumns + ` ORDER BY exit_time ASC, id ASC`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query all trades: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// TotalProfitPct sums the realized profit percentages of all records.
func (l *Ledger) TotalProfitPct(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(profit_pct), 0) FROM trades`

	var total float64
	if err := l.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: failed to sum profit: %w", ports.ErrQueryFailed, err)
	}
	return total, nil
}

// CountToday counts records appended today (UTC) for a symbol.
func (l *Ledger) CountToday(ctx context.Context, symbol string) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE symbol = ? AND exit_time >= ?`

	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var count int
	if err := l.db.QueryRowContext(ctx, query, symbol, startOfDay).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count today's trades for %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	return count, nil
}

func scanTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t := &domain.Trade{}
		var paper int
		err := rows.Scan(&t.ID, &t.Symbol, &t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime, &t.Side,
			&t.ProfitPct, &t.ProfitSplitRatio, &t.RiskMultiplier,
			&t.Volatility, &t.Volume24h, &t.PriceChange24h, &paper)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Paper = paper != 0
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
