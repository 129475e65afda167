package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Brostafa/trading-bot/internal/entity"
)

// Binance request weights per endpoint, spot API.
const (
	weightOrder        = 1
	weightCancel       = 1
	weightOrderStatus  = 2
	weightKlines       = 2
	weightExchangeInfo = 10

	defaultWeightLimit = 1200
	weightWindow       = time.Minute
)

type symbolFilters struct {
	tickSize    decimal.Decimal
	stepSize    decimal.Decimal
	minNotional decimal.Decimal
}

// Binance implements Gateway on top of the go-binance spot client.
type Binance struct {
	client  *binance.Client
	logger  *zap.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	filters map[string]symbolFilters

	budgetMu    sync.Mutex
	windowStart time.Time
	usedWeight  int
	maxWeight   int
}

// NewBinance creates a gateway backed by the binance spot API.
func NewBinance(apiKey, secretKey string, logger *zap.Logger) *Binance {
	return &Binance{
		client:      binance.NewClient(apiKey, secretKey),
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Every(weightWindow/defaultWeightLimit), weightOrderStatus*2),
		filters:     make(map[string]symbolFilters),
		windowStart: time.Now().Truncate(weightWindow),
		maxWeight:   defaultWeightLimit,
	}
}

// consume paces the request and records its weight in the current window.
func (b *Binance) consume(ctx context.Context, weight int) error {
	if err := b.limiter.WaitN(ctx, weight); err != nil {
		return err
	}

	b.budgetMu.Lock()
	defer b.budgetMu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= weightWindow {
		b.windowStart = now.Truncate(weightWindow)
		b.usedWeight = 0
	}
	b.usedWeight += weight

	return nil
}

// RateLimitBudget reports the request-weight spent in the current window.
func (b *Binance) RateLimitBudget() Budget {
	b.budgetMu.Lock()
	defer b.budgetMu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= weightWindow {
		b.windowStart = now.Truncate(weightWindow)
		b.usedWeight = 0
	}

	return Budget{
		Used:  b.usedWeight,
		Max:   b.maxWeight,
		Reset: b.windowStart.Add(weightWindow).Sub(now),
	}
}

func (b *Binance) symbolFilters(ctx context.Context, symbol string) (symbolFilters, error) {
	b.mu.Lock()
	if f, ok := b.filters[symbol]; ok {
		b.mu.Unlock()
		return f, nil
	}
	b.mu.Unlock()

	if err := b.consume(ctx, weightExchangeInfo); err != nil {
		return symbolFilters{}, err
	}

	info, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return symbolFilters{}, errors.Wrapf(err, "failed to fetch exchange info for %s", symbol)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}

		f, err := parseSymbolFilters(s.Filters)
		if err != nil {
			return symbolFilters{}, errors.Wrapf(err, "bad filters for %s", symbol)
		}

		b.mu.Lock()
		b.filters[symbol] = f
		b.mu.Unlock()

		return f, nil
	}

	return symbolFilters{}, errors.Errorf("symbol %s not found in exchange info", symbol)
}

// parseSymbolFilters extracts tick size, lot step and min notional from the
// raw exchange-info filter list. Binance reports the notional floor under
// either MIN_NOTIONAL or NOTIONAL depending on API vintage.
func parseSymbolFilters(raw []map[string]interface{}) (symbolFilters, error) {
	var f symbolFilters
	var err error

	str := func(m map[string]interface{}, key string) string {
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}

	for _, m := range raw {
		switch str(m, "filterType") {
		case "PRICE_FILTER":
			if v := str(m, "tickSize"); v != "" {
				if f.tickSize, err = decimal.NewFromString(v); err != nil {
					return symbolFilters{}, errors.Wrapf(err, "tick size %q", v)
				}
			}
		case "LOT_SIZE":
			if v := str(m, "stepSize"); v != "" {
				if f.stepSize, err = decimal.NewFromString(v); err != nil {
					return symbolFilters{}, errors.Wrapf(err, "lot step %q", v)
				}
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			if v := str(m, "minNotional"); v != "" {
				if f.minNotional, err = decimal.NewFromString(v); err != nil {
					return symbolFilters{}, errors.Wrapf(err, "min notional %q", v)
				}
			}
		}
	}

	return f, nil
}

// TickSize returns the minimum price increment for the symbol.
func (b *Binance) TickSize(symbol string) (decimal.Decimal, error) {
	f, err := b.symbolFilters(context.Background(), symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return f.tickSize, nil
}

// RoundToTick floors the price to a multiple of the symbol's tick size.
func (b *Binance) RoundToTick(symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	f, err := b.symbolFilters(context.Background(), symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return RoundToStep(price, f.tickSize), nil
}

// RoundToLotSize floors the amount to a multiple of the symbol's lot step.
func (b *Binance) RoundToLotSize(symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	f, err := b.symbolFilters(context.Background(), symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return RoundToStep(amount, f.stepSize), nil
}

// MinNotional returns the smallest tradable order value for the symbol.
func (b *Binance) MinNotional(symbol string) (decimal.Decimal, error) {
	f, err := b.symbolFilters(context.Background(), symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return f.minNotional, nil
}

// GetCandles fetches klines for the symbol, normalized into entity candles.
func (b *Binance) GetCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]entity.Candle, error) {
	if err := b.consume(ctx, weightKlines); err != nil {
		return nil, err
	}

	svc := b.client.NewKlinesService().Symbol(symbol).Interval(interval)
	if !start.IsZero() {
		svc = svc.StartTime(start.UnixMilli())
	}
	if !end.IsZero() {
		svc = svc.EndTime(end.UnixMilli())
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s klines for %s", interval, symbol)
	}

	candles := make([]entity.Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		c, err := candleFromKline(k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}

	return candles, nil
}

// PlaceOrder submits the order and returns its normalized initial state.
func (b *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (entity.Order, error) {
	if err := b.consume(ctx, weightOrder); err != nil {
		return entity.Order{}, err
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideToBinance(req.Side)).
		Quantity(req.Amount.String())

	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	switch req.Type {
	case OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	case OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(req.Price.String())
	case OrderTypeStopLimit:
		// stop-limit buy triggers once the market trades through the stop price
		svc = svc.Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(req.Price.String()).
			StopPrice(req.StopPrice.String())
	default:
		return entity.Order{}, errors.Errorf("unsupported order type %q", req.Type)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return entity.Order{}, errors.Wrapf(err, "failed to place %s %s order for %s", req.Type, req.Side, req.Symbol)
	}

	order, err := orderFromCreateResponse(resp, req)
	if err != nil {
		return entity.Order{}, err
	}

	b.logger.Info("order placed",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.Int64("order_id", order.OrderID),
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("status", string(order.Status)))

	return order, nil
}

// CancelOrder cancels the order and returns its normalized final state.
func (b *Binance) CancelOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) (entity.Order, error) {
	if err := b.consume(ctx, weightCancel); err != nil {
		return entity.Order{}, err
	}

	svc := b.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID)
	if clientOrderID != "" {
		svc = svc.OrigClientOrderID(clientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "-2011") {
			return entity.Order{}, ErrOrderNotFound
		}
		return entity.Order{}, errors.Wrapf(err, "failed to cancel order %d for %s", orderID, symbol)
	}

	order, err := orderFromCancelResponse(resp)
	if err != nil {
		return entity.Order{}, err
	}

	b.logger.Info("order cancelled",
		zap.String("symbol", symbol),
		zap.Int64("order_id", orderID),
		zap.String("client_order_id", order.ClientOrderID))

	return order, nil
}

// GetOrderStatus fetches the current normalized state of the order.
func (b *Binance) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (entity.Order, error) {
	if err := b.consume(ctx, weightOrderStatus); err != nil {
		return entity.Order{}, err
	}

	resp, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "-2013") {
			return entity.Order{}, ErrOrderNotFound
		}
		return entity.Order{}, errors.Wrapf(err, "failed to fetch status of order %d for %s", orderID, symbol)
	}

	return orderFromQuery(resp)
}

// SubscribePriceTicks streams aggregate trade prices for the symbol. Each
// subscription owns its websocket; the returned Unsubscribe tears it down and
// is safe against duplicate calls.
func (b *Binance) SubscribePriceTicks(symbol string, fn func(price decimal.Decimal)) (Unsubscribe, error) {
	handler := func(event *binance.WsAggTradeEvent) {
		if event == nil {
			return
		}
		price, err := decimal.NewFromString(event.Price)
		if err != nil {
			b.logger.Warn("unparsable tick price", zap.String("symbol", symbol), zap.String("price", event.Price))
			return
		}
		fn(price)
	}

	errHandler := func(err error) {
		b.logger.Error("price tick stream error", zap.String("symbol", symbol), zap.Error(err))
	}

	_, stopC, err := binance.WsAggTradeServe(symbol, handler, errHandler)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe to price ticks for %s", symbol)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopC)
		})
	}, nil
}
