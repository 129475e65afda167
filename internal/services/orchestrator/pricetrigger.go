package orchestrator

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ArmStopLoss subscribes to live price ticks and fires a one-shot market
// sell when the price touches the stop level. The trigger unsubscribes
// exactly once, even when duplicate ticks race the unsubscribe or when the
// take profit path already closed the position; in the latter case the
// resulting sell is a no-op because the position amount is zero and the
// ledger dedup key rejects any duplicate write.
//
// The subscription also tears down on context cancellation, so a campaign
// removed mid-trade does not leak a live socket.
func (o *Orchestrator) ArmStopLoss(ctx context.Context, campaignID uint, symbol string, stopLoss decimal.Decimal) error {
	var (
		once  sync.Once
		unsub func()
		ready = make(chan struct{})
	)

	logger := o.logger.With(
		zap.String("symbol", symbol),
		zap.String("stop_loss", stopLoss.String()))

	u, err := o.exchange.SubscribePriceTicks(symbol, func(price decimal.Decimal) {
		if price.GreaterThan(stopLoss) {
			return
		}
		once.Do(func() {
			<-ready
			unsub()
			logger.Warn("stop loss triggered", zap.String("price", price.String()))

			if err := o.HandleSell(ctx, campaignID); err != nil {
				logger.Error("stop loss sell failed", zap.Error(err))
			}
		})
	})
	if err != nil {
		return err
	}
	unsub = u
	close(ready)

	o.watchers.Add(1)
	go func() {
		defer o.watchers.Done()
		<-ctx.Done()
		once.Do(func() {
			unsub()
			logger.Info("stop loss trigger released", zap.String("reason", "context cancelled"))
		})
	}()

	return nil
}
