// Package screener ranks exchange symbols by 24h statistics to build a
// trading roster when no explicit symbol list is configured.
package screener

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pullbackbot/internal/ports"
)

// Screener selects candidate symbols from the exchange's rolling 24h tickers.
type Screener struct {
	exchange   ports.ExchangeClient
	logger     ports.Logger
	quoteAsset string
}

// New creates a screener restricted to pairs quoted in quoteAsset.
func New(exchange ports.ExchangeClient, logger ports.Logger, quoteAsset string) (*Screener, error) {
	if exchange == nil {
		return nil, fmt.Errorf("%w: exchange client is required for screener", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for screener", ports.ErrConfigurationError)
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Screener{exchange: exchange, logger: logger, quoteAsset: quoteAsset}, nil
}

// TopGainers returns up to n symbols ranked by 24h price change descending,
// keeping only symbols whose change lies in [minPct, maxPct]. The band cuts
// off already-pumped pairs that have no pullback room left.
func (s *Screener) TopGainers(ctx context.Context, n int, minPct, maxPct float64) ([]string, error) {
	stats, err := s.quoteStats(ctx)
	if err != nil {
		return nil, err
	}

	filtered := stats[:0]
	for _, st := range stats {
		if st.PriceChangePct >= minPct && st.PriceChangePct <= maxPct {
			filtered = append(filtered, st)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].PriceChangePct > filtered[j].PriceChangePct
	})

	symbols := collect(filtered, n)
	s.logger.Info(ctx, "Screened top gainers", map[string]interface{}{
		"requested": n, "selected": len(symbols), "minPct": minPct, "maxPct": maxPct,
	})
	return symbols, nil
}

// TopVolume returns up to n symbols ranked by 24h quote volume descending.
func (s *Screener) TopVolume(ctx context.Context, n int) ([]string, error) {
	stats, err := s.quoteStats(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].QuoteVolume > stats[j].QuoteVolume
	})

	symbols := collect(stats, n)
	s.logger.Info(ctx, "Screened top volume", map[string]interface{}{
		"requested": n, "selected": len(symbols),
	})
	return symbols, nil
}

// quoteStats fetches all 24h tickers and keeps pairs quoted in the
// configured asset. Leveraged tokens (UP/DOWN pairs) are excluded.
func (s *Screener) quoteStats(ctx context.Context) ([]*ports.DailyStat, error) {
	all, err := s.exchange.GetDailyStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching 24h stats: %w", err)
	}

	stats := make([]*ports.DailyStat, 0, len(all))
	for _, st := range all {
		if !strings.HasSuffix(st.Symbol, s.quoteAsset) {
			continue
		}
		base := strings.TrimSuffix(st.Symbol, s.quoteAsset)
		if base == "" || strings.HasSuffix(base, "UP") || strings.HasSuffix(base, "DOWN") {
			continue
		}
		stats = append(stats, st)
	}
	return stats, nil
}

func collect(stats []*ports.DailyStat, n int) []string {
	if n > len(stats) {
		n = len(stats)
	}
	symbols := make([]string, 0, n)
	for _, st := range stats[:n] {
		symbols = append(symbols, st.Symbol)
	}
	return symbols
}
