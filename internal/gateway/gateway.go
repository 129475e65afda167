// Package gateway isolates the exchange behind a narrow interface. All raw
// exchange payloads are normalized into entity types at this boundary; the
// rest of the system never branches on exchange-specific shapes.
package gateway

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Brostafa/trading-bot/internal/entity"
)

// ErrOrderNotFound is returned when the exchange no longer knows the order.
var ErrOrderNotFound = errors.New("order not found on exchange")

// OrderType selects how an order executes.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderRequest describes one order to be placed.
type OrderRequest struct {
	Symbol        string
	Side          entity.Side
	Type          OrderType
	Amount        decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	ClientOrderID string
}

// Budget is the exchange request-weight quota for the current window.
type Budget struct {
	Used  int
	Max   int
	Reset time.Duration
}

// Remaining returns the unspent weight of the window.
func (b Budget) Remaining() int {
	return b.Max - b.Used
}

// Unsubscribe detaches a price tick subscription. Safe to call more than once.
type Unsubscribe func()

// Gateway is the exchange communication layer consumed by the orchestrator
// and the signal engine.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (entity.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) (entity.Order, error)
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (entity.Order, error)
	GetCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]entity.Candle, error)
	SubscribePriceTicks(symbol string, fn func(price decimal.Decimal)) (Unsubscribe, error)
	RateLimitBudget() Budget
	TickSize(symbol string) (decimal.Decimal, error)
	RoundToTick(symbol string, price decimal.Decimal) (decimal.Decimal, error)
	RoundToLotSize(symbol string, amount decimal.Decimal) (decimal.Decimal, error)
	MinNotional(symbol string) (decimal.Decimal, error)
}
