package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"
)

// Subscribe opens a single kline websocket session. The returned done channel
// closes when the session ends for any reason; closing stop tears the session
// down. Reconnection is the caller's responsibility.
func (c *Client) Subscribe(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (<-chan struct{}, chan<- struct{}, error) {
	op := "Subscribe"

	wsHandler := func(event *binance.WsKlineEvent) {
		kline, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(ctx, err, "failed to translate websocket kline", map[string]interface{}{
				"symbol": symbol, "interval": interval,
			})
			if errHandler != nil {
				errHandler(fmt.Errorf("translating websocket kline: %w", err))
			}
			return
		}
		handler(kline)
	}
	wsErrHandler := func(err error) {
		c.logger.Warn(ctx, "websocket stream error", map[string]interface{}{
			"symbol": symbol, "interval": interval, "error": err.Error(),
		})
		if errHandler != nil {
			errHandler(fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err))
		}
	}

	doneC, stopC, err := binance.WsKlineServe(symbol, interval, wsHandler, wsErrHandler)
	if err != nil {
		return nil, nil, c.handleError(ctx, err, op)
	}

	c.logger.Info(ctx, "kline stream established", map[string]interface{}{
		"symbol": symbol, "interval": interval,
	})
	return doneC, stopC, nil
}

func translateWsKline(event *binance.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return &domain.Kline{
		OpenTime:   time.UnixMilli(k.StartTime),
		CloseTime:  time.UnixMilli(k.EndTime),
		Symbol:     k.Symbol,
		Interval:   k.Interval,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      cls,
		Volume:     vol,
		TradeCount: k.TradeNum,
		IsFinal:    k.IsFinal,
	}, nil
}
