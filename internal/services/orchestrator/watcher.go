package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brostafa/trading-bot/internal/entity"
	"github.com/Brostafa/trading-bot/pkg/retrier"
)

const maxPollFailures = 5

// Reattach resumes watching a persisted non-terminal order, e.g. after a
// process restart mid-trade.
func (o *Orchestrator) Reattach(ctx context.Context, campaignID uint, order entity.Order) {
	if order.Status.Terminal() {
		return
	}
	o.logger.Info("re-attaching order watcher",
		zap.Int64("order_id", order.OrderID),
		zap.String("side", string(order.Side)))
	o.spawnWatcher(ctx, campaignID, order)
}

// spawnWatcher starts a detached watcher goroutine for a non-terminal order.
func (o *Orchestrator) spawnWatcher(ctx context.Context, campaignID uint, order entity.Order) {
	o.watchers.Add(1)
	go func() {
		defer o.watchers.Done()
		o.WatchOrderTillFill(ctx, campaignID, order)
	}()
}

// WatchOrderTillFill polls the order until it reaches a terminal status and
// feeds the result into HandleOrderUpdate. A filled buy spawns the take
// profit order and arms the stop loss trigger; those run concurrently, and
// whichever closes the position first wins the ledger write.
//
// The watcher self-terminates on context cancellation or after exhausting
// its failure budget; the latter is operator-visible but never process-fatal.
func (o *Orchestrator) WatchOrderTillFill(ctx context.Context, campaignID uint, order entity.Order) {
	logger := o.logger.With(
		zap.Int64("order_id", order.OrderID),
		zap.String("side", string(order.Side)))

	statusRetry := retrier.New(retrier.WithFixedSchedule(3*time.Second), retrier.WithMaxRetries(maxPollFailures))

	for {
		select {
		case <-ctx.Done():
			logger.Info("order watcher cancelled")
			return
		case <-time.After(o.nextPollDelay()):
		}

		current, err := retrier.DoWithData(statusRetry, ctx, func(ctx context.Context) (entity.Order, error) {
			return o.exchange.GetOrderStatus(ctx, order.Symbol, order.OrderID)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("order watcher halted, manual intervention required", zap.Error(err))
			return
		}

		if !current.Status.Terminal() {
			continue
		}

		if err := o.HandleOrderUpdate(ctx, campaignID, current); err != nil {
			logger.Error("failed to apply terminal order update", zap.Error(err))
			return
		}

		if current.Side == entity.SideBuy && current.Status == entity.OrderStatusFilled {
			o.onEntryFilled(ctx, campaignID, current)
		}
		return
	}
}

// onEntryFilled spawns the two independent exit paths for a freshly opened
// position: the take profit limit sell and the stop loss price trigger.
func (o *Orchestrator) onEntryFilled(ctx context.Context, campaignID uint, buy entity.Order) {
	campaign, err := o.store.CampaignByID(ctx, campaignID)
	if err != nil {
		o.logger.Error("failed to reload campaign after entry fill", zap.Error(err))
		return
	}
	if campaign.TradePlan == nil {
		o.logger.Warn("entry filled without trade plan, position left unmanaged",
			zap.Int64("order_id", buy.OrderID))
		return
	}
	plan := *campaign.TradePlan

	if err := o.HandleTakeProfit(ctx, campaignID, buy, plan.TakeProfit); err != nil {
		o.logger.Error("failed to place take profit", zap.Error(err))
	}
	if err := o.ArmStopLoss(ctx, campaignID, buy.Symbol, plan.StopLoss); err != nil {
		o.logger.Error("failed to arm stop loss trigger", zap.Error(err))
	}
}

// nextPollDelay derives the poll delay from the shared rate-limit budget:
// the configured interval while budget is ample, the time until the budget
// window resets once it runs low.
func (o *Orchestrator) nextPollDelay() time.Duration {
	budget := o.exchange.RateLimitBudget()
	if budget.Remaining() >= lowBudgetThreshold {
		return o.pollInterval
	}

	delay := budget.Reset
	if delay < minPollInterval {
		delay = minPollInterval
	}
	o.logger.Warn("rate limit budget low, backing off",
		zap.Int("used", budget.Used),
		zap.Int("max", budget.Max),
		zap.Duration("delay", delay))
	return delay
}
