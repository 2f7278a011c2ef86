// Downloads a date range of klines per symbol/interval to CSV files that
// `pullbackbot backtest --csv-dir` can replay offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"pullbackbot/config"
	"pullbackbot/internal/adapters/binanceclient"
	"pullbackbot/internal/adapters/logger"
	"pullbackbot/internal/utils"
)

func main() {
	var (
		symbolsFlag  = flag.String("symbols", "ETHUSDT", "comma-separated symbols")
		intervalFlag = flag.String("intervals", "5m,1h", "comma-separated intervals")
		days         = flag.Int("days", 90, "days of history to download")
		outDir       = flag.String("out", "data", "output directory")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	ctx := context.Background()
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	for _, symbol := range strings.Split(*symbolsFlag, ",") {
		symbol = strings.TrimSpace(strings.ToUpper(symbol))
		if symbol == "" {
			continue
		}
		for _, interval := range strings.Split(*intervalFlag, ",") {
			interval = strings.TrimSpace(interval)
			if interval == "" {
				continue
			}

			fmt.Printf("Fetching %s %s from %s to %s...\n", symbol, interval,
				start.Format("2006-01-02"), end.Format("2006-01-02"))
			klines, err := client.GetKlinesRange(ctx, symbol, interval, start, end)
			if err != nil {
				log.Fatalf("Error fetching klines for %s %s: %v", symbol, interval, err)
			}

			filename := filepath.Join(*outDir, fmt.Sprintf("%s_%s.csv", symbol, interval))
			if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
				log.Fatalf("Error writing CSV '%s': %v", filename, err)
			}
			fmt.Printf("Saved %d klines to %s\n", len(klines), filename)
		}
	}
}
