// Package orchestrator executes signal engine decisions against the exchange
// and keeps the ledger consistent while polling and event-driven watchers
// race on the same position.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Brostafa/trading-bot/internal/entity"
	"github.com/Brostafa/trading-bot/internal/gateway"
	"github.com/Brostafa/trading-bot/internal/ledger"
	"github.com/Brostafa/trading-bot/pkg/retrier"
)

// exchange is the slice of the gateway the orchestrator consumes.
type exchange interface {
	PlaceOrder(ctx context.Context, req gateway.OrderRequest) (entity.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) (entity.Order, error)
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (entity.Order, error)
	SubscribePriceTicks(symbol string, fn func(price decimal.Decimal)) (gateway.Unsubscribe, error)
	RateLimitBudget() gateway.Budget
	RoundToLotSize(symbol string, amount decimal.Decimal) (decimal.Decimal, error)
	MinNotional(symbol string) (decimal.Decimal, error)
}

// signalControl is the only mutation path back into the signal engine.
type signalControl interface {
	SetOrderStatus(side entity.Side, status entity.OrderStatus) error
}

const (
	defaultPollInterval = 5 * time.Second
	lowBudgetThreshold  = 60
	minPollInterval     = time.Second
)

// Orchestrator executes decisions for one campaign. The decision loop calls
// its Handle* operations sequentially; detached watchers call back into
// HandleOrderUpdate concurrently, serialized by an internal mutex in-process
// and by the ledger dedup key across processes.
type Orchestrator struct {
	exchange exchange
	store    ledger.Store
	engine   signalControl
	logger   *zap.Logger
	retry    *retrier.Retrier

	// mu is the single-writer permit for campaign mutation: polling and
	// price-trigger watchers race here, and the ledger dedup key decides
	// which observation wins.
	mu sync.Mutex

	watchers     sync.WaitGroup
	pollInterval time.Duration

	newClientOrderID func() string
}

// New creates an orchestrator bound to one campaign's engine.
func New(logger *zap.Logger, exch exchange, store ledger.Store, engine signalControl) *Orchestrator {
	return &Orchestrator{
		exchange:         exch,
		store:            store,
		engine:           engine,
		logger:           logger,
		retry:            retrier.New(retrier.WithMaxRetries(3), retrier.WithInterval(2*time.Second)),
		pollInterval:     defaultPollInterval,
		newClientOrderID: uuid.NewString,
	}
}

// Wait blocks until all detached watchers have finished.
func (o *Orchestrator) Wait() {
	o.watchers.Wait()
}

// HandleBuy places the entry order described by the trade plan. If the
// campaign already has a placed buy, the polling watcher is re-attached
// instead of submitting a duplicate order.
func (o *Orchestrator) HandleBuy(ctx context.Context, campaignID uint, plan *entity.TradePlan) error {
	o.mu.Lock()
	campaign, err := o.store.CampaignByID(ctx, campaignID)
	if err != nil {
		o.mu.Unlock()
		return errors.Wrap(err, "load campaign")
	}

	if active := campaign.ActiveOrder; active != nil && active.Side == entity.SideBuy && active.Status == entity.OrderStatusPlaced {
		o.mu.Unlock()
		o.logger.Info("entry order already placed, re-attaching watcher",
			zap.Int64("order_id", active.OrderID))
		o.spawnWatcher(ctx, campaignID, *active)
		return nil
	}

	symbol := campaign.Pair.Symbol()

	amount, err := o.exchange.RoundToLotSize(symbol, campaign.Balance.Div(plan.EntryPrice))
	if err != nil {
		o.mu.Unlock()
		return errors.Wrap(err, "size entry order")
	}

	minNotional, err := o.exchange.MinNotional(symbol)
	if err != nil {
		o.mu.Unlock()
		return errors.Wrap(err, "fetch min notional")
	}
	if amount.Mul(plan.EntryPrice).LessThan(minNotional) {
		campaign.Status = entity.CampaignStatusInactive
		err = o.store.UpdateCampaign(ctx, &campaign)
		o.mu.Unlock()
		o.logger.Warn("balance below minimum tradable notional, deactivating campaign",
			zap.String("balance", campaign.Balance.String()),
			zap.String("min_notional", minNotional.String()))
		return errors.Wrap(err, "deactivate campaign")
	}

	req := gateway.OrderRequest{
		Symbol:        symbol,
		Side:          entity.SideBuy,
		Type:          gateway.OrderTypeStopLimit,
		Amount:        amount,
		Price:         plan.EntryPrice,
		StopPrice:     plan.EntryPrice,
		ClientOrderID: o.newClientOrderID(),
	}

	order, err := retrier.DoWithData(o.retry, ctx, func(ctx context.Context) (entity.Order, error) {
		return o.exchange.PlaceOrder(ctx, req)
	})
	if err != nil {
		o.mu.Unlock()
		return errors.Wrap(err, "place entry order")
	}

	campaign.TradePlan = plan
	if err := o.applyOrderUpdate(ctx, &campaign, order); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	o.logger.Info("entry order placed",
		zap.Int64("order_id", order.OrderID),
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("price", order.OrderPrice.String()),
		zap.String("amount", order.OrderAmount.String()))

	if !order.Status.Terminal() {
		o.spawnWatcher(ctx, campaignID, order)
	}
	return nil
}

// HandleCancel cancels the pending entry order. If the order already reached
// a terminal state on the exchange, the exchange's view is applied unchanged;
// cancelling a filled order is the classic poll-vs-cancel race.
func (o *Orchestrator) HandleCancel(ctx context.Context, campaignID uint) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	campaign, err := o.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return errors.Wrap(err, "load campaign")
	}
	if campaign.ActiveOrder == nil {
		return nil
	}

	symbol := campaign.Pair.Symbol()
	active := *campaign.ActiveOrder

	current, err := retrier.DoWithData(o.retry, ctx, func(ctx context.Context) (entity.Order, error) {
		return o.exchange.GetOrderStatus(ctx, symbol, active.OrderID)
	})
	if err != nil {
		return errors.Wrap(err, "fetch order status")
	}

	if current.Status == entity.OrderStatusPlaced {
		current, err = retrier.DoWithData(o.retry, ctx, func(ctx context.Context) (entity.Order, error) {
			return o.exchange.CancelOrder(ctx, symbol, active.OrderID, active.ClientOrderID)
		})
		if err != nil {
			return errors.Wrap(err, "cancel order")
		}
	}

	return o.applyOrderUpdate(ctx, &campaign, current)
}

// HandleSell closes the open position at market. A still-placed take-profit
// sell is cancelled first so the exchange releases the coins.
func (o *Orchestrator) HandleSell(ctx context.Context, campaignID uint) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sellLocked(ctx, campaignID)
}

func (o *Orchestrator) sellLocked(ctx context.Context, campaignID uint) error {
	campaign, err := o.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return errors.Wrap(err, "load campaign")
	}
	if campaign.ActiveOrder == nil {
		return nil
	}

	symbol := campaign.Pair.Symbol()
	active := *campaign.ActiveOrder

	if active.Side == entity.SideSell && active.Status == entity.OrderStatusPlaced {
		current, err := retrier.DoWithData(o.retry, ctx, func(ctx context.Context) (entity.Order, error) {
			return o.exchange.GetOrderStatus(ctx, symbol, active.OrderID)
		})
		if err != nil {
			return errors.Wrap(err, "fetch take profit status")
		}
		if current.Status == entity.OrderStatusFilled {
			// take profit won the race, just record it
			return o.applyOrderUpdate(ctx, &campaign, current)
		}
		if current.Status == entity.OrderStatusPlaced {
			current, err = retrier.DoWithData(o.retry, ctx, func(ctx context.Context) (entity.Order, error) {
				return o.exchange.CancelOrder(ctx, symbol, active.OrderID, active.ClientOrderID)
			})
			if err != nil {
				return errors.Wrap(err, "cancel take profit")
			}
		}
		if err := o.applyOrderUpdate(ctx, &campaign, current); err != nil {
			return err
		}
	}

	amount, err := o.exchange.RoundToLotSize(symbol, campaign.CoinAmount)
	if err != nil {
		return errors.Wrap(err, "size market sell")
	}
	if amount.IsZero() {
		return nil
	}

	req := gateway.OrderRequest{
		Symbol:        symbol,
		Side:          entity.SideSell,
		Type:          gateway.OrderTypeMarket,
		Amount:        amount,
		ClientOrderID: active.ClientOrderID,
	}

	order, err := retrier.DoWithData(o.retry, ctx, func(ctx context.Context) (entity.Order, error) {
		return o.exchange.PlaceOrder(ctx, req)
	})
	if err != nil {
		return errors.Wrap(err, "place market sell")
	}

	o.logger.Info("position closed at market",
		zap.Int64("order_id", order.OrderID),
		zap.String("executed_price", order.ExecutedPrice.String()),
		zap.String("total", order.Total.String()))

	return o.applyOrderUpdate(ctx, &campaign, order)
}

// HandleTakeProfit places the limit sell that realizes the gain on a filled
// buy. Re-entrant: an already placed sell only re-attaches its watcher.
func (o *Orchestrator) HandleTakeProfit(ctx context.Context, campaignID uint, buy entity.Order, takeProfit decimal.Decimal) error {
	o.mu.Lock()
	campaign, err := o.store.CampaignByID(ctx, campaignID)
	if err != nil {
		o.mu.Unlock()
		return errors.Wrap(err, "load campaign")
	}

	if active := campaign.ActiveOrder; active != nil && active.Side == entity.SideSell && active.Status == entity.OrderStatusPlaced {
		o.mu.Unlock()
		o.logger.Info("take profit already placed, re-attaching watcher",
			zap.Int64("order_id", active.OrderID))
		o.spawnWatcher(ctx, campaignID, *active)
		return nil
	}

	symbol := campaign.Pair.Symbol()

	amount, err := o.exchange.RoundToLotSize(symbol, buy.ExecutedAmount)
	if err != nil {
		o.mu.Unlock()
		return errors.Wrap(err, "size take profit")
	}

	req := gateway.OrderRequest{
		Symbol:        symbol,
		Side:          entity.SideSell,
		Type:          gateway.OrderTypeLimit,
		Amount:        amount,
		Price:         takeProfit,
		ClientOrderID: buy.ClientOrderID,
	}

	order, err := retrier.DoWithData(o.retry, ctx, func(ctx context.Context) (entity.Order, error) {
		return o.exchange.PlaceOrder(ctx, req)
	})
	if err != nil {
		o.mu.Unlock()
		return errors.Wrap(err, "place take profit")
	}

	if err := o.applyOrderUpdate(ctx, &campaign, order); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	o.logger.Info("take profit placed",
		zap.Int64("order_id", order.OrderID),
		zap.String("price", order.OrderPrice.String()))

	if !order.Status.Terminal() {
		o.spawnWatcher(ctx, campaignID, order)
	}
	return nil
}

// HandleOrderUpdate records one order-state observation. Safe to call from
// racing watchers; the ledger dedup key rejects all but the first write of a
// given (orderId, clientOrderId, side, status) tuple.
func (o *Orchestrator) HandleOrderUpdate(ctx context.Context, campaignID uint, order entity.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	campaign, err := o.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return errors.Wrap(err, "load campaign")
	}
	return o.applyOrderUpdate(ctx, &campaign, order)
}

// applyOrderUpdate is the single choke point for ledger and campaign
// mutation. Callers must hold o.mu.
func (o *Orchestrator) applyOrderUpdate(ctx context.Context, campaign *entity.Campaign, order entity.Order) error {
	if err := o.store.CreateOrder(ctx, campaign.ID, order); err != nil {
		if errors.Is(err, ledger.ErrDuplicateOrderUpdate) {
			o.logger.Debug("order update already recorded",
				zap.String("dedup_key", order.DedupKey()))
			return nil
		}
		return errors.Wrap(err, "persist order")
	}

	if err := o.engine.SetOrderStatus(order.Side, order.Status); err != nil {
		return errors.Wrapf(err, "apply order %d status", order.OrderID)
	}

	switch {
	case order.Side == entity.SideBuy && order.Status == entity.OrderStatusPlaced:
		campaign.ActiveOrder = &order
	case order.Side == entity.SideBuy && order.Status == entity.OrderStatusFilled:
		campaign.Balance = campaign.Balance.Sub(order.Total)
		campaign.CoinAmount = campaign.CoinAmount.Add(order.ExecutedAmount)
		campaign.ActiveOrder = &order
	case order.Side == entity.SideBuy && order.Status == entity.OrderStatusCancelled:
		campaign.ActiveOrder = nil
		campaign.TradePlan = nil
	case order.Side == entity.SideSell && order.Status == entity.OrderStatusFilled:
		if err := o.closePosition(ctx, campaign, order); err != nil {
			return err
		}
	default: // sell placed or sell cancelled
		campaign.ActiveOrder = &order
	}

	if err := o.store.UpdateCampaign(ctx, campaign); err != nil {
		return errors.Wrap(err, "update campaign")
	}

	o.logger.Info("order update applied",
		zap.Int64("order_id", order.OrderID),
		zap.String("side", string(order.Side)),
		zap.String("status", string(order.Status)),
		zap.String("balance", campaign.Balance.String()))

	return nil
}

// closePosition settles a filled sell: balance and position move, the round
// trip is recorded as a Trade, and the campaign deactivates if the remaining
// balance can no longer meet the exchange minimum notional.
func (o *Orchestrator) closePosition(ctx context.Context, campaign *entity.Campaign, sell entity.Order) error {
	campaign.Balance = campaign.Balance.Add(sell.Total)
	campaign.CoinAmount = campaign.CoinAmount.Sub(sell.ExecutedAmount)
	if campaign.CoinAmount.IsNegative() {
		campaign.CoinAmount = decimal.Zero
	}
	campaign.ActiveOrder = nil
	campaign.TradePlan = nil

	buy, err := o.store.FindOrder(ctx, ledger.OrderFilter{
		CampaignID:    campaign.ID,
		ClientOrderID: sell.ClientOrderID,
		Side:          entity.SideBuy,
		Status:        entity.OrderStatusFilled,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			o.logger.Warn("filled sell without matching buy, skipping trade record",
				zap.String("client_order_id", sell.ClientOrderID))
			return nil
		}
		return errors.Wrap(err, "find originating buy")
	}

	profitLoss := sell.Total.Sub(buy.Total)

	prior, err := o.store.TradesByCampaign(ctx, campaign.ID)
	if err != nil {
		return errors.Wrap(err, "load prior trades")
	}
	winRate, expectancy := computeStats(prior, profitLoss)

	trade := &entity.Trade{
		CampaignID:    campaign.ID,
		ClientOrderID: sell.ClientOrderID,
		ProfitLoss:    profitLoss,
		Fees:          buy.Fee.Add(sell.Fee),
		WinRate:       winRate,
		Expectancy:    expectancy,
		ClosedAt:      sell.FilledAt,
	}
	if err := o.store.CreateTrade(ctx, trade); err != nil {
		if !errors.Is(err, ledger.ErrDuplicateOrderUpdate) {
			return errors.Wrap(err, "persist trade")
		}
		o.logger.Debug("trade already recorded", zap.String("client_order_id", sell.ClientOrderID))
		return nil
	}

	campaign.ProfitLoss = campaign.ProfitLoss.Add(profitLoss)
	if campaign.InitialBalance.IsPositive() {
		campaign.ProfitLossPct = campaign.ProfitLoss.Div(campaign.InitialBalance).Mul(decimal.NewFromInt(100))
	}

	minNotional, err := o.exchange.MinNotional(campaign.Pair.Symbol())
	if err != nil {
		return errors.Wrap(err, "fetch min notional")
	}
	if campaign.Balance.LessThan(minNotional) {
		campaign.Status = entity.CampaignStatusInactive
		o.logger.Warn("balance below minimum tradable notional, deactivating campaign",
			zap.String("balance", campaign.Balance.String()),
			zap.String("min_notional", minNotional.String()))
	}

	o.logger.Info("round trip closed",
		zap.String("profit_loss", profitLoss.String()),
		zap.String("win_rate", winRate.StringFixed(4)),
		zap.String("expectancy", expectancy.StringFixed(4)))

	return nil
}
