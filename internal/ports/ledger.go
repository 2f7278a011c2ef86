package ports

import (
	"context"

	"pullbackbot/internal/domain"
)

// Ledger is the append-only sink for completed trade records. Append must be
// safe under concurrent writers from every trade cycle; each record is
// written atomically. Ordering across symbols is not guaranteed, only
// records from the same symbol land in their causal exit order.
type Ledger interface {
	// Append stores one completed trade record and returns its assigned ID.
	Append(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent records for a symbol, up to limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// FindAll retrieves every record, ordered by exit time ascending.
	FindAll(ctx context.Context) ([]*domain.Trade, error)
	// TotalProfitPct sums the realized profit percentages of all records.
	TotalProfitPct(ctx context.Context) (float64, error)
	// CountToday counts records appended today (UTC) for a symbol.
	CountToday(ctx context.Context, symbol string) (int, error)
}
