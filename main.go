package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pullbackbot/config"
	"pullbackbot/internal/adapters/binanceclient"
	"pullbackbot/internal/adapters/logger"
	"pullbackbot/internal/adapters/sqlite"
	"pullbackbot/internal/app"
	"pullbackbot/internal/backtest"
	"pullbackbot/internal/screener"
	"pullbackbot/internal/utils"
)

// bootstrap loads configuration and builds the shared logger and exchange
// client; every subcommand starts from these.
func bootstrap() (*config.Config, *logger.StdLogger, *binanceclient.Client, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize Binance client: %w", err)
	}
	return cfg, appLogger, client, nil
}

func newLiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Run the live trading engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, client, err := bootstrap()
			if err != nil {
				return err
			}

			ledger, err := sqlite.NewLedger(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
			if err != nil {
				return fmt.Errorf("failed to initialize ledger: %w", err)
			}
			defer func() {
				if err := ledger.Close(); err != nil {
					appLogger.Error(context.Background(), err, "Error closing ledger")
				}
			}()

			engine, err := app.NewEngine(cfg, appLogger, client, client, ledger)
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}
			return engine.Start(cmd.Context())
		},
	}
}

func newBacktestCmd() *cobra.Command {
	var (
		days        int
		symbolsFlag string
		csvDir      string
		variantFile string
		exportCSV   string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical klines through the live entry/exit rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, client, err := bootstrap()
			if err != nil {
				return err
			}

			symbols := cfg.Symbols
			if symbolsFlag != "" {
				symbols = nil
				for _, s := range strings.Split(symbolsFlag, ",") {
					if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
						symbols = append(symbols, s)
					}
				}
			}
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols: set SYMBOLS or pass --symbols")
			}

			var source backtest.HistorySource = client
			if csvDir != "" {
				source = &backtest.CSVSource{Dir: csvDir}
			}

			runner, err := backtest.NewRunner(backtest.Config{
				Source:        source,
				Logger:        appLogger,
				Params:        cfg.Params(),
				ShortInterval: cfg.ShortInterval,
				LongInterval:  cfg.LongInterval,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if variantFile != "" {
				variants, err := backtest.LoadVariants(variantFile)
				if err != nil {
					return err
				}
				results, err := runner.RunVariants(ctx, symbols, days, variants)
				if err != nil {
					return err
				}
				for _, vr := range results {
					fmt.Printf("%-20s aggregate %+.4f\n", vr.Variant.Name, vr.Result.Aggregate)
				}
				return nil
			}

			result, err := runner.Run(ctx, symbols, days)
			if err != nil {
				return err
			}
			for symbol, sr := range result.PerSymbol {
				fmt.Printf("%-12s factor %.4f trades %d\n", symbol, sr.Factor, len(sr.Trades))
				if exportCSV != "" {
					name := fmt.Sprintf("%s/%s_trades.csv", exportCSV, symbol)
					if err := utils.WriteTradesToCSV(sr.Trades, name); err != nil {
						return fmt.Errorf("exporting %s trades: %w", symbol, err)
					}
				}
			}
			fmt.Printf("aggregate %+.4f\n", result.Aggregate)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "days of history to replay")
	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated symbols (overrides SYMBOLS)")
	cmd.Flags().StringVar(&csvDir, "csv-dir", "", "replay from CSV files instead of the exchange API")
	cmd.Flags().StringVar(&variantFile, "variants", "", "YAML file of parameter variants to sweep")
	cmd.Flags().StringVar(&exportCSV, "export", "", "directory to export per-symbol trade CSVs")
	return cmd
}

func newScreenCmd() *cobra.Command {
	var (
		top      int
		byVolume bool
	)

	cmd := &cobra.Command{
		Use:   "screen",
		Short: "List candidate symbols by 24h stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, client, err := bootstrap()
			if err != nil {
				return err
			}

			scr, err := screener.New(client, appLogger, cfg.QuoteAsset)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var symbols []string
			if byVolume {
				symbols, err = scr.TopVolume(ctx, top)
			} else {
				symbols, err = scr.TopGainers(ctx, top, cfg.ScreenerMin, cfg.ScreenerMax)
			}
			if err != nil {
				return err
			}
			for _, s := range symbols {
				fmt.Println(s)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of symbols to list")
	cmd.Flags().BoolVar(&byVolume, "volume", false, "rank by 24h quote volume instead of price change")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "pullbackbot",
		Short:         "Multi-symbol EMA pullback trading bot for Binance spot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newLiveCmd(), newBacktestCmd(), newScreenCmd())

	if err := root.Execute(); err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(1)
	}
}
