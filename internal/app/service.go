// Package app wires the live trading engine: one worker per symbol, a shared
// admission gate, and a supervisor that keeps the roster healthy.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pullbackbot/config"
	"pullbackbot/internal/marketdata"
	"pullbackbot/internal/ports"
	"pullbackbot/internal/screener"
	"pullbackbot/internal/trade"
)

// symbolWorker is one symbol's live machinery: two stream ingestors (short
// and long interval) and the trade cycle consuming their caches.
type symbolWorker struct {
	symbol string

	shortIngestor *marketdata.Ingestor
	longIngestor  *marketdata.Ingestor
	shortDone     chan struct{}
	longDone      chan struct{}

	cycle     *trade.Cycle
	cycleDone chan struct{}
	cycleErr  error // valid after cycleDone is closed
}

// Engine owns the process-wide state of a live run.
type Engine struct {
	cfg       *config.Config
	logger    ports.Logger
	exchange  ports.ExchangeClient
	stream    ports.StreamSource
	ledger    ports.Ledger
	admission *trade.Admission

	staggerLock sync.Mutex // shared by all ingestors for reconnect staggering

	mu       sync.Mutex
	registry map[string]*symbolWorker
}

// NewEngine validates dependencies and creates the engine.
func NewEngine(cfg *config.Config, logger ports.Logger, exchange ports.ExchangeClient,
	stream ports.StreamSource, ledger ports.Ledger) (*Engine, error) {

	if cfg == nil || logger == nil || exchange == nil || stream == nil || ledger == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for engine", ports.ErrConfigurationError)
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		stream:    stream,
		ledger:    ledger,
		admission: trade.NewAdmission(cfg.MaxOpenPositions),
		registry:  make(map[string]*symbolWorker),
	}, nil
}

// Start runs the engine until the context is canceled or a shutdown signal
// arrives. All workers observe the same context and release any held
// admission token before exiting.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info(ctx, "Starting engine")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			e.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := e.exchange.SetServerTime(ctx); err != nil {
		return fmt.Errorf("failed to synchronize server time: %w", err)
	}
	e.logger.Info(ctx, "Server time synchronized")

	symbols, err := e.roster(ctx)
	if err != nil {
		return err
	}
	e.logger.Info(ctx, "Symbol roster assembled", map[string]interface{}{
		"symbols": symbols, "maxOpenPositions": e.admission.Capacity(),
	})

	for _, symbol := range symbols {
		worker, err := e.startWorker(ctx, symbol)
		if err != nil {
			// One symbol failing to start must not take the roster down.
			e.logger.Error(ctx, err, "Failed to start symbol worker", map[string]interface{}{"symbol": symbol})
			continue
		}
		e.mu.Lock()
		e.registry[symbol] = worker
		e.mu.Unlock()
	}

	e.mu.Lock()
	started := len(e.registry)
	e.mu.Unlock()
	if started == 0 {
		return fmt.Errorf("%w: no symbol workers could be started", ports.ErrConfigurationError)
	}

	e.supervise(ctx)

	// Let cycles observe the cancellation and release their tokens.
	e.mu.Lock()
	workers := make([]*symbolWorker, 0, len(e.registry))
	for _, w := range e.registry {
		workers = append(workers, w)
	}
	e.mu.Unlock()
	for _, w := range workers {
		<-w.cycleDone
	}

	e.shutdownReport(context.Background())
	return nil
}

// roster returns the configured symbols, or screens the exchange for
// candidates when none are configured.
func (e *Engine) roster(ctx context.Context) ([]string, error) {
	if len(e.cfg.Symbols) > 0 {
		return e.cfg.Symbols, nil
	}

	scr, err := screener.New(e.exchange, e.logger, e.cfg.QuoteAsset)
	if err != nil {
		return nil, err
	}
	symbols, err := scr.TopGainers(ctx, e.cfg.ScreenerTop, e.cfg.ScreenerMin, e.cfg.ScreenerMax)
	if err != nil {
		return nil, fmt.Errorf("screening symbols: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: screener returned no symbols", ports.ErrNotFound)
	}
	return symbols, nil
}

// startWorker seeds both caches from REST history, then launches the
// ingestors and the trade cycle.
func (e *Engine) startWorker(ctx context.Context, symbol string) (*symbolWorker, error) {
	shortCache := marketdata.NewKlineCache(symbol, e.cfg.ShortInterval, e.cfg.CacheSize)
	longCache := marketdata.NewKlineCache(symbol, e.cfg.LongInterval, e.cfg.CacheSize)

	if err := e.seedCache(ctx, shortCache); err != nil {
		return nil, err
	}
	if err := e.seedCache(ctx, longCache); err != nil {
		return nil, err
	}

	worker := &symbolWorker{symbol: symbol}

	worker.shortIngestor = marketdata.NewIngestor(marketdata.IngestorConfig{
		Symbol:      symbol,
		Interval:    e.cfg.ShortInterval,
		Source:      e.stream,
		Cache:       shortCache,
		Logger:      e.logger,
		DailyReset:  e.cfg.DailyReset,
		StaggerLock: &e.staggerLock,
	})
	worker.longIngestor = marketdata.NewIngestor(marketdata.IngestorConfig{
		Symbol:      symbol,
		Interval:    e.cfg.LongInterval,
		Source:      e.stream,
		Cache:       longCache,
		Logger:      e.logger,
		DailyReset:  e.cfg.DailyReset,
		StaggerLock: &e.staggerLock,
	})

	cycle, err := trade.NewCycle(trade.CycleConfig{
		Symbol:         symbol,
		ShortInterval:  e.cfg.ShortInterval,
		LongInterval:   e.cfg.LongInterval,
		Params:         e.cfg.Params(),
		Paper:          e.cfg.Paper,
		QuoteQuantity:  e.cfg.QuoteQuantity,
		QuoteAsset:     e.cfg.QuoteAsset,
		ScanSleep:      e.cfg.ScanSleep,
		HoldSleep:      e.cfg.HoldSleep,
		AcquireTimeout: e.cfg.AcquireTimeout,
	}, e.logger, e.exchange, e.ledger, e.admission, shortCache, longCache)
	if err != nil {
		return nil, err
	}
	worker.cycle = cycle

	worker.shortDone = e.runIngestor(ctx, worker.shortIngestor)
	worker.longDone = e.runIngestor(ctx, worker.longIngestor)

	worker.cycleDone = make(chan struct{})
	go func() {
		defer close(worker.cycleDone)
		worker.cycleErr = cycle.Run(ctx)
	}()

	e.logger.Info(ctx, "Symbol worker started", map[string]interface{}{
		"symbol": symbol, "short": e.cfg.ShortInterval, "long": e.cfg.LongInterval,
	})
	return worker, nil
}

func (e *Engine) seedCache(ctx context.Context, cache *marketdata.KlineCache) error {
	klines, err := e.exchange.GetKlines(ctx, cache.Symbol(), cache.Interval(), e.cfg.CacheSize)
	if err != nil {
		return fmt.Errorf("seeding %s/%s cache: %w", cache.Symbol(), cache.Interval(), err)
	}
	if err := cache.Seed(klines); err != nil {
		return fmt.Errorf("seeding %s/%s cache: %w", cache.Symbol(), cache.Interval(), err)
	}
	e.logger.Debug(ctx, "Cache seeded", map[string]interface{}{
		"symbol": cache.Symbol(), "interval": cache.Interval(), "count": cache.Len(),
	})
	return nil
}

// runIngestor launches the ingestor loop and returns a channel closed when
// the goroutine exits. The loop only returns on context cancellation, so an
// early close while the context is live means the goroutine died.
func (e *Engine) runIngestor(ctx context.Context, in *marketdata.Ingestor) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		in.Run(ctx)
	}()
	return done
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// supervise polls worker liveness until shutdown. Dead ingestor goroutines
// are restarted; a dead cycle worker is removed from the roster without
// crashing the process, leaving other symbols unaffected.
func (e *Engine) supervise(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SupervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		for symbol, w := range e.registry {
			if closed(w.cycleDone) {
				e.logger.Error(ctx, w.cycleErr, "Trade cycle worker died, removing from roster", map[string]interface{}{
					"symbol": symbol,
				})
				delete(e.registry, symbol)
				continue
			}
			if closed(w.shortDone) {
				e.logger.Warn(ctx, "Short-interval ingestor died, restarting", map[string]interface{}{"symbol": symbol})
				w.shortDone = e.runIngestor(ctx, w.shortIngestor)
			}
			if closed(w.longDone) {
				e.logger.Warn(ctx, "Long-interval ingestor died, restarting", map[string]interface{}{"symbol": symbol})
				w.longDone = e.runIngestor(ctx, w.longIngestor)
			}

			count, err := e.ledger.CountToday(ctx, symbol)
			if err != nil {
				e.logger.Warn(ctx, "Could not read today's trade count", map[string]interface{}{
					"symbol": symbol, "error": err.Error(),
				})
				count = -1
			}
			e.logger.Debug(ctx, "Worker healthy", map[string]interface{}{
				"symbol":      symbol,
				"state":       w.cycle.State().String(),
				"lastEventAt": w.shortIngestor.LastEventAt().Format(time.RFC3339),
				"tradesToday": count,
			})
		}
		remaining := len(e.registry)
		e.mu.Unlock()

		if remaining == 0 {
			e.logger.Error(ctx, nil, "All symbol workers have died, shutting down")
			return
		}
	}
}

// shutdownReport logs the running total after the workers have stopped.
func (e *Engine) shutdownReport(ctx context.Context) {
	total, err := e.ledger.TotalProfitPct(ctx)
	if err != nil {
		e.logger.Warn(ctx, "Could not read ledger total on shutdown", map[string]interface{}{"error": err.Error()})
		return
	}
	e.logger.Info(ctx, "Engine stopped", map[string]interface{}{"totalProfitPct": total})
}
