package backtest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/utils"
)

// CSVSource serves klines from files written by cmd/fetch_klines. It expects
// one file per (symbol, interval) named <SYMBOL>_<interval>.csv under Dir.
type CSVSource struct {
	Dir string
}

// GetKlinesRange loads the file for (symbol, interval) and returns the klines
// whose open time falls in [start, end].
func (s *CSVSource) GetKlinesRange(_ context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	path := filepath.Join(s.Dir, fmt.Sprintf("%s_%s.csv", symbol, interval))
	all, err := utils.ReadKlinesFromCSV(path)
	if err != nil {
		return nil, err
	}

	klines := make([]*domain.Kline, 0, len(all))
	for _, k := range all {
		if k.OpenTime.Before(start) || k.OpenTime.After(end) {
			continue
		}
		klines = append(klines, k)
	}
	return klines, nil
}
