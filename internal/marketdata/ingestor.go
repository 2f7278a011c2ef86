package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"
)

// Reconnect delay bounds for a lost stream session. Unbounded retries: a
// market data hiccup is never fatal, the staleness guard protects the trade
// cycle in the meantime.
const (
	reconnectMinDelay = 20 * time.Second
	reconnectMaxDelay = 90 * time.Second
	staggerPause      = 2 * time.Second
)

// IngestorConfig configures one stream ingestor.
type IngestorConfig struct {
	Symbol   string
	Interval string
	Source   ports.StreamSource
	Cache    *KlineCache
	Logger   ports.Logger

	// DailyReset is the wall-clock UTC time ("HH:MM") at which the session
	// is deliberately torn down and re-established to bound its lifetime.
	// Empty disables the scheduled reset.
	DailyReset string

	// StaggerLock is shared across all ingestors so scheduled reconnects do
	// not hit the exchange in the same instant.
	StaggerLock *sync.Mutex
}

// Ingestor owns the live kline subscription for one (symbol, interval) pair:
// it decodes stream updates into the cache, reconnects with randomized
// backoff after any session loss, and performs the scheduled daily reset.
type Ingestor struct {
	cfg IngestorConfig

	mu        sync.Mutex
	alive     bool
	lastEvent time.Time
}

// NewIngestor creates an ingestor. Run must be called to start it.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	return &Ingestor{cfg: cfg}
}

// Alive reports whether the ingestor currently holds an open session.
func (in *Ingestor) Alive() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.alive
}

// LastEventAt returns the arrival time of the most recent stream update.
func (in *Ingestor) LastEventAt() time.Time {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastEvent
}

func (in *Ingestor) setAlive(v bool) {
	in.mu.Lock()
	in.alive = v
	in.mu.Unlock()
}

func (in *Ingestor) touch() {
	in.mu.Lock()
	in.lastEvent = time.Now()
	in.mu.Unlock()
}

// Run blocks until ctx is cancelled, maintaining the subscription across
// session losses and daily resets.
func (in *Ingestor) Run(ctx context.Context) {
	log := in.cfg.Logger
	bo := &backoff.Backoff{
		Min:    reconnectMinDelay,
		Max:    reconnectMaxDelay,
		Factor: 1.5,
		Jitter: true,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		done, stop, err := in.cfg.Source.Subscribe(ctx, in.cfg.Symbol, in.cfg.Interval, in.handleKline, in.handleStreamError)
		if err != nil {
			delay := bo.Duration()
			log.Warn(ctx, "Stream subscribe failed, retrying", map[string]interface{}{
				"symbol": in.cfg.Symbol, "interval": in.cfg.Interval, "delay": delay.String(), "error": err.Error(),
			})
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		in.setAlive(true)
		bo.Reset()
		log.Info(ctx, "Stream session established", map[string]interface{}{
			"symbol": in.cfg.Symbol, "interval": in.cfg.Interval,
		})

		reset := in.nextResetTimer()
		sessionEnd := func(reason string) {
			in.setAlive(false)
			log.Warn(ctx, "Stream session ended", map[string]interface{}{
				"symbol": in.cfg.Symbol, "interval": in.cfg.Interval, "reason": reason,
			})
		}

		select {
		case <-ctx.Done():
			close(stop)
			in.setAlive(false)
			return
		case <-done:
			sessionEnd("closed")
			delay := bo.Duration()
			if !sleepCtx(ctx, delay) {
				return
			}
		case <-reset.C:
			// Scheduled teardown: serialize through the stagger lock so the
			// whole roster does not reconnect at once.
			close(stop)
			sessionEnd("daily reset")
			if in.cfg.StaggerLock != nil {
				in.cfg.StaggerLock.Lock()
				sleepCtx(ctx, staggerPause)
				in.cfg.StaggerLock.Unlock()
			}
		}
		reset.Stop()
	}
}

// nextResetTimer returns a timer firing at the next configured daily reset
// instant, or one that never fires when the reset is disabled.
func (in *Ingestor) nextResetTimer() *time.Timer {
	if in.cfg.DailyReset == "" {
		return time.NewTimer(time.Duration(1<<62) - 1)
	}
	t, err := time.Parse("15:04", in.cfg.DailyReset)
	if err != nil {
		return time.NewTimer(time.Duration(1<<62) - 1)
	}
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	// Small per-symbol jitter on top of the stagger lock.
	jitter := time.Duration(rand.Int63n(int64(30 * time.Second)))
	return time.NewTimer(next.Sub(now) + jitter)
}

func (in *Ingestor) handleKline(kline *domain.Kline) {
	if kline == nil {
		return
	}
	in.touch()
	in.cfg.Cache.Append(kline)
}

func (in *Ingestor) handleStreamError(err error) {
	// Session-level errors surface through the done channel in Run; this is
	// informational only.
	in.cfg.Logger.Warn(context.Background(), "Stream error reported", map[string]interface{}{
		"symbol": in.cfg.Symbol, "interval": in.cfg.Interval, "error": err.Error(),
	})
}

// sleepCtx sleeps for d or until ctx is cancelled; it reports false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
