package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"pullbackbot/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume", "trade_count"}

// WriteKlinesToCSV saves klines for later offline replay.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("creating directory for '%s': %w", filename, err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write(klineHeader)
	for _, k := range klines {
		writer.Write([]string{
			k.OpenTime.Format(time.RFC3339),
			k.CloseTime.Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			strconv.FormatFloat(k.Open, 'f', -1, 64),
			strconv.FormatFloat(k.High, 'f', -1, 64),
			strconv.FormatFloat(k.Low, 'f', -1, 64),
			strconv.FormatFloat(k.Close, 'f', -1, 64),
			strconv.FormatFloat(k.Volume, 'f', -1, 64),
			strconv.FormatInt(k.TradeCount, 10),
		})
	}
	return writer.Error()
}

// ReadKlinesFromCSV loads klines written by WriteKlinesToCSV. Files without
// the trailing trade_count column (older exports) still load.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading '%s': %w", filename, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("'%s' contains no kline rows", filename)
	}

	klines := make([]*domain.Kline, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < 9 {
			return nil, fmt.Errorf("'%s' row %d: expected at least 9 fields, got %d", filename, i+2, len(rec))
		}
		k, err := parseKlineRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("'%s' row %d: %w", filename, i+2, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKlineRecord(rec []string) (*domain.Kline, error) {
	openTime, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return nil, fmt.Errorf("parsing open_time '%s': %w", rec[0], err)
	}
	closeTime, err := time.Parse(time.RFC3339, rec[1])
	if err != nil {
		return nil, fmt.Errorf("parsing close_time '%s': %w", rec[1], err)
	}
	open, err := strconv.ParseFloat(rec[4], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open '%s': %w", rec[4], err)
	}
	high, err := strconv.ParseFloat(rec[5], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high '%s': %w", rec[5], err)
	}
	low, err := strconv.ParseFloat(rec[6], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low '%s': %w", rec[6], err)
	}
	cls, err := strconv.ParseFloat(rec[7], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close '%s': %w", rec[7], err)
	}
	vol, err := strconv.ParseFloat(rec[8], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", rec[8], err)
	}
	var tradeCount int64
	if len(rec) > 9 {
		tradeCount, err = strconv.ParseInt(rec[9], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing trade_count '%s': %w", rec[9], err)
		}
	}

	return &domain.Kline{
		OpenTime:   openTime,
		CloseTime:  closeTime,
		Symbol:     rec[2],
		Interval:   rec[3],
		Open:       open,
		High:       high,
		Low:        low,
		Close:      cls,
		Volume:     vol,
		TradeCount: tradeCount,
		IsFinal:    true,
	}, nil
}

// WriteTradesToCSV exports ledger records for external analysis.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("creating directory for '%s': %w", filename, err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"id", "symbol", "entry_price", "exit_price", "entry_time", "exit_time",
		"side", "profit_pct", "profit_split_ratio", "risk_multiplier",
		"volatility", "volume_24h", "price_change_24h", "paper"})
	for _, t := range trades {
		writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Symbol,
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			t.Side,
			strconv.FormatFloat(t.ProfitPct, 'f', -1, 64),
			strconv.FormatFloat(t.ProfitSplitRatio, 'f', -1, 64),
			strconv.FormatFloat(t.RiskMultiplier, 'f', -1, 64),
			strconv.FormatFloat(t.Volatility, 'f', -1, 64),
			strconv.FormatFloat(t.Volume24h, 'f', -1, 64),
			strconv.FormatFloat(t.PriceChange24h, 'f', -1, 64),
			strconv.FormatBool(t.Paper),
		})
	}
	return writer.Error()
}
