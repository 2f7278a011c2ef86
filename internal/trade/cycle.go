package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/marketdata"
	"pullbackbot/internal/ports"
	"pullbackbot/internal/strategy/indicators"
	"pullbackbot/internal/strategy/pullback"
)

// volatilityWindow is the number of short-interval closes whose standard
// deviation is recorded as a diagnostic at entry.
const volatilityWindow = 15

// CycleConfig configures one symbol's trade cycle.
type CycleConfig struct {
	Symbol        string
	ShortInterval string // decision interval, e.g. "5m"
	LongInterval  string // trend-filter interval, e.g. "1h"
	Params        pullback.Params

	// Paper mode skips the exchange entirely: entries fill at the current
	// close and no orders are placed.
	Paper bool

	// QuoteQuantity is the quote-asset amount spent per entry. Zero means
	// spend the full free balance.
	QuoteQuantity float64
	QuoteAsset    string // e.g. "USDT"

	// ScanSleep is the inter-tick pause while looking for an entry;
	// HoldSleep the shorter pause while a position is open, to react faster
	// to price moves.
	ScanSleep time.Duration
	HoldSleep time.Duration

	// AcquireTimeout bounds the wait for the admission gate on a passing
	// entry signal.
	AcquireTimeout time.Duration
}

func (c *CycleConfig) setDefaults() {
	if c.ShortInterval == "" {
		c.ShortInterval = "5m"
	}
	if c.LongInterval == "" {
		c.LongInterval = "1h"
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.ScanSleep <= 0 {
		c.ScanSleep = 2 * time.Second
	}
	if c.HoldSleep <= 0 {
		c.HoldSleep = 500 * time.Millisecond
	}
	if c.AcquireTimeout < 0 {
		c.AcquireTimeout = 0
	}
}

// Cycle is the per-symbol trade state machine. It consumes kline snapshots,
// evaluates the shared pullback predicates, requests order placement and
// emits completed-trade records. One instance lives for the whole process
// and is re-armed after every closed trade.
type Cycle struct {
	cfg       CycleConfig
	logger    ports.Logger
	exchange  ports.ExchangeClient
	ledger    ports.Ledger
	admission *Admission
	short     *marketdata.KlineCache
	long      *marketdata.KlineCache

	state domain.TradeState
	pos   *domain.Position
	token *Token
}

// NewCycle wires a trade cycle. The exchange may be nil only in paper mode.
func NewCycle(cfg CycleConfig, logger ports.Logger, exchange ports.ExchangeClient,
	ledger ports.Ledger, admission *Admission, short, long *marketdata.KlineCache) (*Cycle, error) {

	cfg.setDefaults()
	if logger == nil || ledger == nil || admission == nil || short == nil || long == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for trade cycle", ports.ErrConfigurationError)
	}
	if !cfg.Paper && exchange == nil {
		return nil, fmt.Errorf("%w: exchange client required outside paper mode", ports.ErrConfigurationError)
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	return &Cycle{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		ledger:    ledger,
		admission: admission,
		short:     short,
		long:      long,
		state:     domain.StateScanning,
	}, nil
}

// State returns the cycle's current lifecycle state.
func (c *Cycle) State() domain.TradeState { return c.state }

// Position returns the currently held position, or nil while scanning.
func (c *Cycle) Position() *domain.Position { return c.pos }

// Symbol returns the configured symbol.
func (c *Cycle) Symbol() string { return c.cfg.Symbol }

// Run drives the cycle until ctx is cancelled, classifying every Step error:
// data-sufficiency errors skip the tick, transient errors are retried,
// invariant violations terminate this worker only. Any held admission token
// is released on the way out.
func (c *Cycle) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.releaseToken(ctx)
			return ctx.Err()
		default:
		}

		err := c.Step(ctx, time.Now().UTC())
		switch {
		case err == nil:
		case errors.Is(err, ports.ErrInsufficientHistory),
			errors.Is(err, ports.ErrInsufficientWindow),
			errors.Is(err, ports.ErrStaleData):
			c.logger.Debug(ctx, "Tick skipped", map[string]interface{}{
				"symbol": c.cfg.Symbol, "reason": err.Error(),
			})
		case errors.Is(err, ports.ErrInvariantViolation):
			c.logger.Error(ctx, err, "Invariant violated, terminating worker", map[string]interface{}{
				"symbol": c.cfg.Symbol, "state": c.state.String(),
			})
			c.releaseToken(ctx)
			return err
		default:
			c.logger.Warn(ctx, "Transient error, retrying next tick", map[string]interface{}{
				"symbol": c.cfg.Symbol, "error": err.Error(),
			})
		}

		sleep := c.cfg.ScanSleep
		if c.state == domain.StateHolding {
			sleep = c.cfg.HoldSleep
		}
		select {
		case <-ctx.Done():
			c.releaseToken(ctx)
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Step performs exactly one evaluation of the state machine at the given
// instant. It is the unit the backtest comparison drives directly.
func (c *Cycle) Step(ctx context.Context, now time.Time) error {
	switch c.state {
	case domain.StateScanning:
		return c.stepScanning(ctx, now)
	case domain.StateHolding:
		return c.stepHolding(ctx, now)
	default:
		return fmt.Errorf("%w: unexpected state %s", ports.ErrInvariantViolation, c.state)
	}
}

func (c *Cycle) stepScanning(ctx context.Context, now time.Time) error {
	if c.short.IsStale(now) || c.long.IsStale(now) {
		return fmt.Errorf("%w: %s blocked from entering on stale candles", ports.ErrStaleData, c.cfg.Symbol)
	}

	shortKlines, err := c.short.Snapshot(c.cfg.Params.ShortRequired())
	if err != nil {
		return err
	}
	longKlines, err := c.long.Snapshot(c.cfg.Params.LongRequired())
	if err != nil {
		return err
	}

	sig, failed, err := pullback.EvaluateEntry(longKlines, shortKlines, c.cfg.Params)
	if err != nil {
		return err
	}
	if sig == nil {
		c.logger.Debug(ctx, "Entry criteria not met", map[string]interface{}{
			"symbol": c.cfg.Symbol, "criterion": failed,
		})
		return nil
	}

	token, ok := c.admission.TryAcquire(ctx, c.cfg.AcquireTimeout)
	if !ok {
		c.logger.Debug(ctx, "Admission gate busy, staying in scanning", map[string]interface{}{
			"symbol": c.cfg.Symbol,
		})
		return nil
	}

	pos, err := c.enter(ctx, sig, shortKlines, now)
	if err != nil || pos == nil {
		// Entry abandoned or failed: hand the slot back either way.
		if relErr := token.Release(); relErr != nil {
			return relErr
		}
		return err
	}

	c.token = token
	c.pos = pos
	c.state = domain.StateHolding
	c.logger.Info(ctx, "Entered position", map[string]interface{}{
		"symbol":  c.cfg.Symbol,
		"entry":   pos.EntryPrice,
		"stop":    pos.StopPrice,
		"target":  pos.TargetPrice,
		"riskPct": pos.RiskPct,
		"paper":   c.cfg.Paper,
	})
	return nil
}

// enter fills the position, on the exchange or on paper. A nil position with
// a nil error means the attempt was abandoned for this tick (business
// rejection); the cycle stays in Scanning and retries later.
func (c *Cycle) enter(ctx context.Context, sig *pullback.EntrySignal, shortKlines []*domain.Kline, now time.Time) (*domain.Position, error) {
	pos := pullback.NewPosition(c.cfg.Symbol, sig, c.cfg.Params, now)
	c.attachDiagnostics(ctx, pos, shortKlines)

	if c.cfg.Paper {
		return pos, nil
	}

	quote := c.cfg.QuoteQuantity
	if quote <= 0 {
		balance, err := c.exchange.GetBalance(ctx, c.cfg.QuoteAsset)
		if err != nil {
			return nil, fmt.Errorf("balance check before entry: %w", err)
		}
		quote = balance
	}

	order, err := c.exchange.MarketBuy(ctx, c.cfg.Symbol, quote)
	if err != nil {
		if isBusinessRejection(err) {
			c.logger.Warn(ctx, "Entry abandoned for this tick", map[string]interface{}{
				"symbol": c.cfg.Symbol, "quote": quote, "reason": err.Error(),
			})
			return nil, nil
		}
		return nil, fmt.Errorf("entry market buy: %w", err)
	}

	// Re-anchor on the actual fill; the stop stays where the setup put it.
	if order.AvgPrice > 0 {
		pos.EntryPrice = order.AvgPrice
		pos.OriginalEntry = order.AvgPrice
		pos.RiskPct = order.AvgPrice/pos.StopPrice - 1
		pos.TargetPrice = order.AvgPrice * (1 + pos.RiskPct*pos.RiskMultiplier)
		if pos.RiskPct <= 0 {
			// Fill landed at or below the stop; unwind immediately.
			if _, sellErr := c.exchange.MarketSell(ctx, c.cfg.Symbol, order.ExecutedQty); sellErr != nil {
				c.logger.Error(ctx, sellErr, "Failed to unwind degenerate fill", map[string]interface{}{
					"symbol": c.cfg.Symbol, "quantity": order.ExecutedQty,
				})
			}
			return nil, nil
		}
	}
	pos.Quantity = order.ExecutedQty
	return pos, nil
}

func (c *Cycle) attachDiagnostics(ctx context.Context, pos *domain.Position, shortKlines []*domain.Kline) {
	if vol, err := indicators.StdDev(indicators.Closes(shortKlines), volatilityWindow); err == nil {
		pos.Volatility = vol
	}
	if c.exchange == nil {
		return
	}
	stat, err := c.exchange.GetDailyStat(ctx, c.cfg.Symbol)
	if err != nil {
		c.logger.Debug(ctx, "Daily stat unavailable at entry", map[string]interface{}{
			"symbol": c.cfg.Symbol, "error": err.Error(),
		})
		return
	}
	pos.Volume24h = stat.QuoteVolume
	pos.PriceChange24h = stat.PriceChangePct
}

func (c *Cycle) stepHolding(ctx context.Context, now time.Time) error {
	snap, err := c.short.Snapshot(1)
	if err != nil {
		return err
	}
	price := snap[0].Close

	switch pullback.EvaluateExit(c.pos, price) {
	case pullback.ExitStop:
		return c.exitStop(ctx, price, now)
	case pullback.ExitProfit:
		return c.exitProfit(ctx, price, now)
	default:
		return nil
	}
}

func (c *Cycle) exitStop(ctx context.Context, price float64, now time.Time) error {
	if !c.cfg.Paper && c.pos.Quantity > 0 {
		if _, err := c.exchange.MarketSell(ctx, c.cfg.Symbol, c.pos.Quantity); err != nil {
			// Position stays open; retried on the next (fast) holding tick.
			return fmt.Errorf("stop-loss market sell: %w", err)
		}
	}

	rec, _ := pullback.ApplyStopLoss(c.pos, price, now)
	rec.Paper = c.cfg.Paper
	c.append(ctx, rec)
	c.logger.Info(ctx, "Stop-loss exit", map[string]interface{}{
		"symbol": c.cfg.Symbol, "exit": price, "profitPct": rec.ProfitPct * 100,
	})
	return c.rearm()
}

func (c *Cycle) exitProfit(ctx context.Context, price float64, now time.Time) error {
	qtyBefore := c.pos.Quantity
	rec, _, done := pullback.ApplyTakeProfit(c.pos, price, now)
	rec.Paper = c.cfg.Paper

	if !c.cfg.Paper && qtyBefore > 0 {
		sellQty := qtyBefore
		if !done {
			sellQty = qtyBefore - c.pos.Quantity
		}
		if _, err := c.exchange.MarketSell(ctx, c.cfg.Symbol, sellQty); err != nil {
			c.logger.Error(ctx, err, "Take-profit market sell failed; ledger records the decision", map[string]interface{}{
				"symbol": c.cfg.Symbol, "quantity": sellQty,
			})
		}
	}

	c.append(ctx, rec)
	c.logger.Info(ctx, "Take-profit exit", map[string]interface{}{
		"symbol": c.cfg.Symbol, "slice": rec.Side, "exit": price, "profitPct": rec.ProfitPct * 100,
	})

	if done {
		return c.rearm()
	}
	c.logger.Info(ctx, "Ratcheted position", map[string]interface{}{
		"symbol": c.cfg.Symbol,
		"stop":   c.pos.StopPrice,
		"entry":  c.pos.EntryPrice,
		"target": c.pos.TargetPrice,
		"index":  c.pos.PartialExitIndex,
	})
	return nil
}

// rearm closes out the position state and returns the cycle to Scanning.
func (c *Cycle) rearm() error {
	c.pos = nil
	c.state = domain.StateScanning
	if c.token == nil {
		return fmt.Errorf("%w: %w", ports.ErrInvariantViolation, ports.ErrTokenNotHeld)
	}
	err := c.token.Release()
	c.token = nil
	return err
}

func (c *Cycle) releaseToken(ctx context.Context) {
	if c.token == nil {
		return
	}
	if err := c.token.Release(); err != nil {
		c.logger.Error(ctx, err, "Failed to release admission token on shutdown", map[string]interface{}{
			"symbol": c.cfg.Symbol,
		})
	}
	c.token = nil
}

func (c *Cycle) append(ctx context.Context, rec *domain.Trade) {
	if _, err := c.ledger.Append(ctx, rec); err != nil {
		c.logger.Error(ctx, err, "Failed to append trade record", map[string]interface{}{
			"symbol": rec.Symbol, "side": rec.Side,
		})
	}
}

// isBusinessRejection reports whether an exchange error is a business-rule
// rejection (never retried) rather than an infrastructure failure.
func isBusinessRejection(err error) bool {
	return errors.Is(err, ports.ErrInsufficientFunds) ||
		errors.Is(err, ports.ErrBelowMinNotional) ||
		errors.Is(err, ports.ErrBelowMinQuantity) ||
		errors.Is(err, ports.ErrOrderRejected)
}
