// Package binanceclient implements ports.ExchangeClient and
// ports.StreamSource over the Binance spot API.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Binance caps klines per request.
	maxKlinesPerRequest = 1000
)

// Client implements the exchange ports using the go-binance spot client.
type Client struct {
	spot   *binance.Client
	logger ports.Logger
}

// Config holds configuration specific to the Binance adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Binance client", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty; only public endpoints will work")
	}

	spot := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		spot.BaseURL = baseURLTestnet
	} else {
		spot.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": spot.BaseURL, "testnet": cfg.UseTestnet,
	})

	return &Client{spot: spot, logger: cfg.Logger}, nil
}

// handleError translates Binance API errors into the standardized ports
// sentinels so the trade cycle can classify them.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022:
			mappedErr = ports.ErrAuthenticationFailed
		case -1013:
			// Filter failure: the message names the offending filter.
			msg := strings.ToUpper(apiErr.Message)
			switch {
			case strings.Contains(msg, "NOTIONAL"):
				mappedErr = ports.ErrBelowMinNotional
			case strings.Contains(msg, "LOT_SIZE"):
				mappedErr = ports.ErrBelowMinQuantity
			default:
				mappedErr = ports.ErrInvalidRequest
			}
		case -2010:
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderRejected
			}
		case -2014, -2015:
			mappedErr = ports.ErrInvalidAPIKeys
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

// SetServerTime synchronizes the client clock with the exchange.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	if _, err := c.spot.NewSetServerTimeService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// MarketBuy places a market buy spending quoteAmount of the quote asset. The
// notional is checked against the symbol rules first so a below-minimum
// attempt fails as a business rejection without an API round trip.
func (c *Client) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*ports.OrderResult, error) {
	op := "MarketBuy"

	rules, err := c.GetSymbolRules(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if quoteAmount < rules.MinNotional {
		return nil, fmt.Errorf("%s: %w: %.4f < %.4f", op, ports.ErrBelowMinNotional, quoteAmount, rules.MinNotional)
	}

	order, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(formatFloat(quoteAmount, 8)).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrder(order, domain.Buy)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "quote": quoteAmount, "orderID": resp.OrderID,
		"avgPrice": resp.AvgPrice, "executedQty": resp.ExecutedQty,
	})
	return resp, nil
}

// MarketSell places a market sell of quantity base asset, quantized down to
// the symbol's lot step.
func (c *Client) MarketSell(ctx context.Context, symbol string, quantity float64) (*ports.OrderResult, error) {
	op := "MarketSell"

	rules, err := c.GetSymbolRules(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qtyStr, err := quantizeQuantity(quantity, rules)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	order, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(qtyStr).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrder(order, domain.Sell)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "quantity": qtyStr, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice,
	})
	return resp, nil
}

// GetBalance returns the free balance of an asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetBalance"
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, bal := range account.Balances {
		if bal.Asset == asset {
			free, err := strconv.ParseFloat(bal.Free, 64)
			if err != nil {
				return 0, c.handleError(ctx, fmt.Errorf("could not parse balance '%s' for %s: %w", bal.Free, asset, err), op)
			}
			return free, nil
		}
	}
	return 0, c.handleError(ctx, fmt.Errorf("%w: asset %s not in account", ports.ErrNotFound, asset), op)
}

// GetSymbolRules returns the trading constraints for a symbol.
func (c *Client) GetSymbolRules(ctx context.Context, symbol string) (*ports.SymbolRules, error) {
	op := "GetSymbolRules"
	info, err := c.spot.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		rules := &ports.SymbolRules{
			Symbol:         s.Symbol,
			PricePrecision: s.QuotePrecision,
		}
		if lot := s.LotSizeFilter(); lot != nil {
			rules.StepSize, _ = strconv.ParseFloat(lot.StepSize, 64)
			rules.MinQty, _ = strconv.ParseFloat(lot.MinQuantity, 64)
			rules.MaxQty, _ = strconv.ParseFloat(lot.MaxQuantity, 64)
		}
		if notional := s.NotionalFilter(); notional != nil {
			rules.MinNotional, _ = strconv.ParseFloat(notional.MinNotional, 64)
		}
		return rules, nil
	}
	return nil, c.handleError(ctx, fmt.Errorf("%w: symbol %s not in exchange info", ports.ErrNotFound, symbol), op)
}

// GetKlines returns the most recent limit klines for a symbol/interval.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	raw, err := c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	klines := make([]*domain.Kline, 0, len(raw))
	for _, rk := range raw {
		dk, err := translateKline(rk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("translating kline: %w", err), op)
		}
		klines = append(klines, dk)
	}
	return klines, nil
}

// GetKlinesRange fetches all klines between start and end, paging through
// the request cap.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var all []*domain.Kline
	from := start

	for {
		raw, err := c.spot.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(raw) == 0 {
			break
		}
		for _, rk := range raw {
			dk, err := translateKline(rk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("translating kline range: %w", err), op)
			}
			all = append(all, dk)
		}
		last := raw[len(raw)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(raw) < maxKlinesPerRequest {
			break
		}
	}
	return all, nil
}

// GetDailyStats returns the rolling 24h ticker for every symbol.
func (c *Client) GetDailyStats(ctx context.Context) ([]*ports.DailyStat, error) {
	op := "GetDailyStats"
	raw, err := c.spot.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	stats := make([]*ports.DailyStat, 0, len(raw))
	for _, r := range raw {
		stats = append(stats, translateDailyStat(r))
	}
	return stats, nil
}

// GetDailyStat returns the rolling 24h ticker for one symbol.
func (c *Client) GetDailyStat(ctx context.Context, symbol string) (*ports.DailyStat, error) {
	op := "GetDailyStat"
	raw, err := c.spot.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(raw) == 0 {
		return nil, c.handleError(ctx, fmt.Errorf("%w: no ticker data for %s", ports.ErrNotFound, symbol), op)
	}
	return translateDailyStat(raw[0]), nil
}

// --- Helpers ---

// quantizeQuantity rounds a base quantity down to the lot step and validates
// it against the lot bounds.
func quantizeQuantity(quantity float64, rules *ports.SymbolRules) (string, error) {
	if rules.StepSize <= 0 {
		return formatFloat(quantity, 8), nil
	}
	step := decimal.NewFromFloat(rules.StepSize)
	qty := decimal.NewFromFloat(quantity).Div(step).Floor().Mul(step)

	if q, _ := qty.Float64(); q < rules.MinQty || q <= 0 {
		return "", fmt.Errorf("%w: %s < %.8f", ports.ErrBelowMinQuantity, qty.String(), rules.MinQty)
	}
	if rules.MaxQty > 0 {
		if q, _ := qty.Float64(); q > rules.MaxQty {
			qty = decimal.NewFromFloat(rules.MaxQty).Div(step).Floor().Mul(step)
		}
	}
	return qty.String(), nil
}

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func translateOrder(order *binance.CreateOrderResponse, side domain.OrderSide) *ports.OrderResult {
	if order == nil {
		return nil
	}
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)

	avgPrice := 0.0
	if execQty > 0 {
		avgPrice = cumQuote / execQty
	}

	return &ports.OrderResult{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          side,
		AvgPrice:      avgPrice,
		ExecutedQty:   execQty,
		QuoteQty:      cumQuote,
		Status:        string(order.Status),
		Timestamp:     time.UnixMilli(order.TransactTime),
	}
}

func translateDailyStat(r *binance.PriceChangeStats) *ports.DailyStat {
	last, _ := strconv.ParseFloat(r.LastPrice, 64)
	changePct, _ := strconv.ParseFloat(r.PriceChangePercent, 64)
	quoteVol, _ := strconv.ParseFloat(r.QuoteVolume, 64)
	vol, _ := strconv.ParseFloat(r.Volume, 64)
	return &ports.DailyStat{
		Symbol:         r.Symbol,
		LastPrice:      last,
		PriceChangePct: changePct,
		QuoteVolume:    quoteVol,
		Volume:         vol,
	}
}

func translateKline(rk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	if rk == nil {
		return nil, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(rk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", rk.Open, err)
	}
	high, err := strconv.ParseFloat(rk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", rk.High, err)
	}
	low, err := strconv.ParseFloat(rk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", rk.Low, err)
	}
	cls, err := strconv.ParseFloat(rk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", rk.Close, err)
	}
	vol, err := strconv.ParseFloat(rk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", rk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:   time.UnixMilli(rk.OpenTime),
		CloseTime:  time.UnixMilli(rk.CloseTime),
		Symbol:     symbol,
		Interval:   interval,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      cls,
		Volume:     vol,
		TradeCount: rk.TradeNum,
		IsFinal:    true, // REST klines are closed bars
	}, nil
}
