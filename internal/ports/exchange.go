package ports

import (
	"context"
	"time"

	"pullbackbot/internal/domain"
)

// OrderResult holds the essential details of a filled or placed order.
type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	AvgPrice      float64 // Volume-weighted fill price
	ExecutedQty   float64 // Base-asset quantity filled
	QuoteQty      float64 // Quote-asset amount spent/received
	Status        string
	Timestamp     time.Time
}

// SymbolRules holds the exchange trading constraints for one symbol.
type SymbolRules struct {
	Symbol         string
	StepSize       float64 // Base quantity increment
	MinQty         float64
	MaxQty         float64
	MinNotional    float64 // Minimum order value in quote asset
	PricePrecision int
}

// DailyStat is one row of the exchange's rolling 24h ticker.
type DailyStat struct {
	Symbol         string
	LastPrice      float64
	PriceChangePct float64
	QuoteVolume    float64
	Volume         float64
}

// ExchangeClient defines the account and market-data operations the bot
// consumes. Implementations must wrap transport failures with the sentinel
// errors in this package so callers can classify them.
type ExchangeClient interface {
	// SetServerTime synchronizes the client clock with the exchange, which
	// signed endpoints require.
	SetServerTime(ctx context.Context) error

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// MarketBuy places a market buy spending quoteAmount of the quote asset.
	MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error)

	// MarketSell places a market sell of quantity base asset, quantized to
	// the symbol's step size.
	MarketSell(ctx context.Context, symbol string, quantity float64) (*OrderResult, error)

	// GetBalance returns the free balance of an asset (e.g. "USDT").
	GetBalance(ctx context.Context, asset string) (float64, error)

	// GetSymbolRules returns the trading constraints for a symbol.
	GetSymbolRules(ctx context.Context, symbol string) (*SymbolRules, error)

	// GetKlines returns the most recent limit klines for symbol/interval.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// GetKlinesRange returns all klines between start and end, paging as
	// needed.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)

	// GetDailyStats returns the 24h ticker for every symbol on the exchange.
	GetDailyStats(ctx context.Context) ([]*DailyStat, error)

	// GetDailyStat returns the 24h ticker for one symbol.
	GetDailyStat(ctx context.Context, symbol string) (*DailyStat, error)
}

// StreamSource provides a single live kline subscription. One call opens one
// session: when the session ends for any reason the done channel closes and
// it is the caller's job to resubscribe (reconnect policy, backoff and the
// daily reset all live in the ingestor, not the adapter).
type StreamSource interface {
	Subscribe(ctx context.Context, symbol, interval string,
		handler func(kline *domain.Kline), errHandler func(err error)) (done <-chan struct{}, stop chan<- struct{}, err error)
}
