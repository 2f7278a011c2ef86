// Package marketdata keeps live candles flowing from the exchange stream
// into bounded per-symbol caches.
package marketdata

import (
	"fmt"
	"sync"
	"time"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"
)

// DefaultWindowSize bounds each rolling kline window. Large enough for the
// slowest EMA window plus warmup, small enough to keep snapshots cheap.
const DefaultWindowSize = 500

// KlineCache is a bounded, thread-safe rolling window of candles for one
// (symbol, interval) pair. The newest candle may be replaced in place while
// its interval is still open; older candles are immutable. OpenTimes are
// strictly increasing and the length never exceeds the configured maximum.
type KlineCache struct {
	symbol   string
	interval string
	maxLen   int

	mu     sync.Mutex
	klines []*domain.Kline
}

// NewKlineCache creates an empty cache. A non-positive maxLen falls back to
// DefaultWindowSize.
func NewKlineCache(symbol, interval string, maxLen int) *KlineCache {
	if maxLen <= 0 {
		maxLen = DefaultWindowSize
	}
	return &KlineCache{
		symbol:   symbol,
		interval: interval,
		maxLen:   maxLen,
		klines:   make([]*domain.Kline, 0, maxLen),
	}
}

// Symbol returns the cache's symbol.
func (c *KlineCache) Symbol() string { return c.symbol }

// Interval returns the cache's interval.
func (c *KlineCache) Interval() string { return c.interval }

// Append applies one streamed candle update. A candle with the same openTime
// as the newest stored candle replaces it (streaming update of an unclosed
// bar). A newer candle is pushed, evicting the oldest once the window is
// full. A candle older than the newest is dropped: replays after a reconnect
// must not rewind the series.
func (c *KlineCache) Append(kline *domain.Kline) {
	if kline == nil {
		return
	}
	k := *kline // callers keep ownership of their copy

	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.klines)
	if n > 0 {
		last := c.klines[n-1]
		if k.OpenTime.Equal(last.OpenTime) {
			c.klines[n-1] = &k
			return
		}
		if k.OpenTime.Before(last.OpenTime) {
			return
		}
	}
	c.klines = append(c.klines, &k)
	if len(c.klines) > c.maxLen {
		// Drop the oldest; copy to avoid pinning the backing array forever.
		c.klines = append(c.klines[:0], c.klines[1:]...)
	}
}

// Seed replaces the cache contents with historical candles, keeping only the
// newest maxLen and enforcing ascending order.
func (c *KlineCache) Seed(klines []*domain.Kline) error {
	for i := 1; i < len(klines); i++ {
		if !klines[i].OpenTime.After(klines[i-1].OpenTime) {
			return fmt.Errorf("%w: seed klines not strictly increasing at index %d", ports.ErrInvalidRequest, i)
		}
	}
	if len(klines) > c.maxLen {
		klines = klines[len(klines)-c.maxLen:]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.klines = c.klines[:0]
	for _, k := range klines {
		cp := *k
		c.klines = append(c.klines, &cp)
	}
	return nil
}

// Snapshot returns a defensive copy of the newest n candles. It fails with
// ErrInsufficientHistory while the window is still filling.
func (c *KlineCache) Snapshot(n int) ([]*domain.Kline, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: snapshot size must be positive", ports.ErrInvalidRequest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.klines) < n {
		return nil, fmt.Errorf("%w: %s/%s holds %d candles, need %d",
			ports.ErrInsufficientHistory, c.symbol, c.interval, len(c.klines), n)
	}
	out := make([]*domain.Kline, n)
	for i, k := range c.klines[len(c.klines)-n:] {
		cp := *k
		out[i] = &cp
	}
	return out, nil
}

// Len returns the number of candles currently held.
func (c *KlineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.klines)
}

// LastOpenTime returns the openTime of the newest candle, or the zero time
// when the cache is empty.
func (c *KlineCache) LastOpenTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.klines) == 0 {
		return time.Time{}
	}
	return c.klines[len(c.klines)-1].OpenTime
}

// IsStale reports whether the newest candle is older than twice the cache's
// interval at the given instant. A stale cache blocks new entries until the
// stream catches back up.
func (c *KlineCache) IsStale(now time.Time) bool {
	d := domain.IntervalDuration(c.interval)
	if d == 0 {
		return false
	}
	last := c.LastOpenTime()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) > 2*d
}
