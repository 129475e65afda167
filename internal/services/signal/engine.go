// Package signal holds the state machine that turns candle history into
// buy/sell/cancel decisions.
package signal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Brostafa/trading-bot/internal/entity"
	"github.com/Brostafa/trading-bot/pkg/indicators"
	"github.com/Brostafa/trading-bot/pkg/retrier"
)

// State is the engine's position in the trade lifecycle.
type State string

const (
	StateAwaitingBuySignal State = "awaiting_buy_signal"
	StateAwaitingEntryFill State = "awaiting_entry_fill"
	StateAwaitingSellOrder State = "awaiting_sell_order"
	StateAwaitingExit      State = "awaiting_exit"
	StateDone              State = "done"
)

var (
	// ErrNoBullishCandle means yesterday's candle did not qualify as a setup.
	// The caller retries at the next daily boundary.
	ErrNoBullishCandle = errors.New("no bullish candle")

	// ErrInvalidTransition means SetOrderStatus received a side/status pair
	// outside the transition map. This is a programming-contract violation.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

const (
	candleInterval    = "15m"
	candleIntervalDur = 15 * time.Minute
	dailyInterval     = "1d"
	candleWindowLimit = 100
	// small margin after the boundary so the exchange has closed the candle
	nextCandleMargin = 10 * time.Second
)

// Params are the strategy thresholds. Defaults mirror the production setup.
type Params struct {
	MinBullishChangePct decimal.Decimal
	RSIPeriod           int
	RSISMAPeriod        int
	CrossoverThreshold  decimal.Decimal
	RSILowerBound       decimal.Decimal
	RSIUpperBound       decimal.Decimal
	MinProfitPct        decimal.Decimal
	RiskReward          decimal.Decimal
}

// DefaultParams returns the standard thresholds: 2% minimum bullish range,
// RSI(14) against its SMA(14) with a 0.5 crossover margin inside the (35,60)
// band, 0.5% minimum potential profit and a 1/1.1 risk-reward ratio.
func DefaultParams() Params {
	return Params{
		MinBullishChangePct: decimal.NewFromInt(2),
		RSIPeriod:           14,
		RSISMAPeriod:        14,
		CrossoverThreshold:  decimal.NewFromFloat(0.5),
		RSILowerBound:       decimal.NewFromInt(35),
		RSIUpperBound:       decimal.NewFromInt(60),
		MinProfitPct:        decimal.NewFromFloat(0.5),
		RiskReward:          decimal.NewFromInt(1).Div(decimal.NewFromFloat(1.1)),
	}
}

// marketData is the slice of the exchange gateway the engine consumes.
type marketData interface {
	GetCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]entity.Candle, error)
	TickSize(symbol string) (decimal.Decimal, error)
	RoundToTick(symbol string, price decimal.Decimal) (decimal.Decimal, error)
}

// Engine decides, once per candle, what the campaign should do next. It is
// sequential: Run and SetOrderStatus are called from the campaign loop only.
type Engine struct {
	pair   entity.Pair
	market marketData
	params Params
	logger *zap.Logger

	state  State
	reason string
	plan   *entity.TradePlan

	support    decimal.Decimal
	resistance decimal.Decimal
	tickSize   decimal.Decimal

	startTime time.Time
	endTime   time.Time

	retry *retrier.Retrier
	now   func() time.Time
}

// NewEngine creates an uninitialized engine; Init must succeed before Run.
func NewEngine(logger *zap.Logger, market marketData, pair entity.Pair, params Params) *Engine {
	return &Engine{
		pair:   pair,
		market: market,
		params: params,
		logger: logger.With(zap.String("pair", pair.String())),
		state:  StateAwaitingBuySignal,
		retry:  retrier.New(retrier.WithMaxRetries(3), retrier.WithInterval(2*time.Second)),
		now:    time.Now,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// Reason returns the terminal reason once the engine is done.
func (e *Engine) Reason() string {
	return e.reason
}

// CanRun reports whether the engine still has decisions to make.
func (e *Engine) CanRun() bool {
	return e.state != StateDone
}

// Init fetches the prior day's candle and derives the trading channel from
// it. A non-qualifying candle puts the engine in StateDone and returns
// ErrNoBullishCandle. Transient fetch failures are retried a bounded number
// of times before propagating.
func (e *Engine) Init(ctx context.Context) error {
	now := e.now().UTC()
	dayStart := now.Truncate(24 * time.Hour)
	prevDayStart := dayStart.Add(-24 * time.Hour)

	candles, err := retrier.DoWithData(e.retry, ctx, func(ctx context.Context) ([]entity.Candle, error) {
		return e.market.GetCandles(ctx, e.pair.Symbol(), dailyInterval, prevDayStart, dayStart.Add(-time.Millisecond), 1)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch prior day candle for %s", e.pair.String())
	}
	if len(candles) == 0 {
		return errors.Errorf("no prior day candle returned for %s", e.pair.String())
	}

	prior := candles[len(candles)-1]
	if !prior.Bullish() || !prior.RangePct().GreaterThan(e.params.MinBullishChangePct) {
		e.state = StateDone
		e.reason = "no bullish candle"
		e.logger.Info("prior day candle does not qualify",
			zap.String("open", prior.Open.String()),
			zap.String("close", prior.Close.String()),
			zap.String("range_pct", prior.RangePct().StringFixed(2)))
		return ErrNoBullishCandle
	}

	tick, err := retrier.DoWithData(e.retry, ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return e.market.TickSize(e.pair.Symbol())
	})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch tick size for %s", e.pair.String())
	}

	e.support = prior.Low
	e.resistance = prior.High
	e.tickSize = tick
	e.startTime = prevDayStart
	e.endTime = dayStart.Add(24 * time.Hour)

	e.logger.Info("trading channel found",
		zap.String("support", e.support.String()),
		zap.String("resistance", e.resistance.String()),
		zap.String("tick_size", e.tickSize.String()),
		zap.Time("end_time", e.endTime))

	return nil
}

// Run makes one decision from the latest closed candles.
func (e *Engine) Run(ctx context.Context) (entity.Decision, error) {
	candles, err := e.closedCandles(ctx)
	if err != nil {
		return entity.Decision{}, err
	}
	if len(candles) == 0 {
		return entity.Decision{}, errors.Errorf("no closed candles for %s", e.pair.String())
	}

	current := candles[len(candles)-1]
	now := e.now().UTC()

	// warm-up: the channel candle's day must fully elapse before trading
	if current.OpenTime.Before(e.startTime.Add(24 * time.Hour)) {
		return entity.Decision{Action: entity.ActionWaitForTradeTime, Candle: &current}, nil
	}

	if !now.Before(e.endTime) {
		return e.finish(current), nil
	}

	switch e.state {
	case StateAwaitingBuySignal:
		return e.evalBuySignal(candles, current)
	case StateAwaitingEntryFill:
		return e.evalPendingEntry(current), nil
	default:
		return entity.Decision{Action: entity.ActionWait, Candle: &current}, nil
	}
}

// closedCandles refreshes the candle window, dropping any still-open candle.
func (e *Engine) closedCandles(ctx context.Context) ([]entity.Candle, error) {
	candles, err := retrier.DoWithData(e.retry, ctx, func(ctx context.Context) ([]entity.Candle, error) {
		return e.market.GetCandles(ctx, e.pair.Symbol(), candleInterval, time.Time{}, time.Time{}, candleWindowLimit)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to refresh candle window for %s", e.pair.String())
	}

	now := e.now()
	closed := candles[:0]
	for _, c := range candles {
		if c.Closed(now) {
			closed = append(closed, c)
		}
	}
	return closed, nil
}

// finish maps the pending state to a forced exit action and terminates.
func (e *Engine) finish(current entity.Candle) entity.Decision {
	const reason = "end_of_day"

	var action entity.Action
	switch e.state {
	case StateAwaitingEntryFill:
		action = entity.ActionCancelBuy
	case StateAwaitingSellOrder, StateAwaitingExit:
		action = entity.ActionSell
	default:
		action = entity.ActionEnd
	}

	e.state = StateDone
	e.reason = reason
	e.logger.Info("campaign day ended", zap.String("action", string(action)))

	return entity.Decision{Action: action, Reason: reason, Candle: &current}
}

func (e *Engine) evalBuySignal(candles []entity.Candle, current entity.Candle) (entity.Decision, error) {
	wait := entity.Decision{Action: entity.ActionWait, Candle: &current}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsi, sma, err := indicators.RSIWithSMA(closes, e.params.RSIPeriod, e.params.RSISMAPeriod)
	if err != nil {
		// not enough history yet; treated as no signal, not an error
		e.logger.Debug("insufficient candle history for indicators", zap.Error(err))
		return wait, nil
	}
	if len(rsi) < 2 {
		return wait, nil
	}

	if !e.crossoverSignal(rsi, sma) {
		return wait, nil
	}

	plan, ok, err := e.buildTradePlan(current)
	if err != nil {
		return entity.Decision{}, err
	}
	if !ok {
		return wait, nil
	}

	e.state = StateAwaitingEntryFill
	e.plan = plan
	e.logger.Info("buy signal detected",
		zap.String("rsi", rsi[len(rsi)-1].StringFixed(2)),
		zap.String("rsi_sma", sma[len(sma)-1].StringFixed(2)),
		zap.String("entry_price", plan.EntryPrice.String()),
		zap.String("take_profit", plan.TakeProfit.String()),
		zap.String("stop_loss", plan.StopLoss.String()))

	return entity.Decision{Action: entity.ActionBuy, Reason: plan.Reason, Plan: plan, Candle: &current}, nil
}

// crossoverSignal reports whether RSI crossed above its SMA on the latest
// candle. The crossover must be fresh: present now, absent one candle back.
// RSI itself must sit strictly inside the band, filtering both oversold
// chop and overbought chases.
func (e *Engine) crossoverSignal(rsi, sma []decimal.Decimal) bool {
	rsiNow, smaNow := rsi[len(rsi)-1], sma[len(sma)-1]
	rsiPrev, smaPrev := rsi[len(rsi)-2], sma[len(sma)-2]

	crossedNow := rsiNow.Sub(smaNow).GreaterThan(e.params.CrossoverThreshold)
	crossedPrev := rsiPrev.Sub(smaPrev).GreaterThan(e.params.CrossoverThreshold)
	inBand := rsiNow.GreaterThan(e.params.RSILowerBound) && rsiNow.LessThan(e.params.RSIUpperBound)

	return crossedNow && !crossedPrev && inBand
}

// buildTradePlan computes the entry/exit triple for the current candle.
// It reports ok=false when the candidate entry falls outside the channel or
// the potential profit is below the minimum.
func (e *Engine) buildTradePlan(current entity.Candle) (*entity.TradePlan, bool, error) {
	entry, err := e.market.RoundToTick(e.pair.Symbol(), current.High.Add(e.tickSize))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to round entry price")
	}

	// entry must sit strictly inside the channel, one tick off each edge
	if !entry.GreaterThan(e.support.Add(e.tickSize)) || !entry.LessThan(e.resistance.Sub(e.tickSize)) {
		return nil, false, nil
	}

	profitPct := e.resistance.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
	if !profitPct.GreaterThan(e.params.MinProfitPct) {
		return nil, false, nil
	}

	takeProfit, err := e.market.RoundToTick(e.pair.Symbol(), e.resistance.Sub(e.tickSize))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to round take profit")
	}

	riskStop := entry.Sub(takeProfit.Sub(entry).Div(e.params.RiskReward))
	stopLoss := e.support.Sub(e.tickSize)
	if riskStop.GreaterThan(stopLoss) {
		stopLoss = riskStop
	}
	stopLoss, err = e.market.RoundToTick(e.pair.Symbol(), stopLoss)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to round stop loss")
	}

	plan := &entity.TradePlan{
		EntryPrice:        entry,
		TakeProfit:        takeProfit,
		StopLoss:          stopLoss,
		PossibleProfitPct: takeProfit.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)),
		PossibleLossPct:   entry.Sub(stopLoss).Div(entry).Mul(decimal.NewFromInt(100)),
		Reason:            "rsi_sma_crossover",
	}

	return plan, true, nil
}

// evalPendingEntry cancels the entry order if the market ran through either
// exit level before the order filled.
func (e *Engine) evalPendingEntry(current entity.Candle) entity.Decision {
	if e.plan == nil {
		return entity.Decision{Action: entity.ActionWait, Candle: &current}
	}

	if current.Low.LessThanOrEqual(e.plan.StopLoss) {
		e.state = StateAwaitingBuySignal
		return entity.Decision{Action: entity.ActionCancelBuy, Reason: "stop_loss_hit_before_entry", Candle: &current}
	}
	if current.High.GreaterThanOrEqual(e.plan.TakeProfit) {
		e.state = StateAwaitingBuySignal
		return entity.Decision{Action: entity.ActionCancelBuy, Reason: "take_profit_hit_before_entry", Candle: &current}
	}

	return entity.Decision{Action: entity.ActionWait, Candle: &current}
}

// SetOrderStatus feeds an order lifecycle transition back into the engine.
// It is the only mutation path available to the orchestrator.
func (e *Engine) SetOrderStatus(side entity.Side, status entity.OrderStatus) error {
	switch {
	case side == entity.SideBuy && status == entity.OrderStatusPlaced:
		e.state = StateAwaitingEntryFill
	case side == entity.SideBuy && status == entity.OrderStatusFilled:
		e.state = StateAwaitingSellOrder
	case side == entity.SideBuy && status == entity.OrderStatusCancelled:
		e.state = StateAwaitingBuySignal
		e.plan = nil
	case side == entity.SideSell && status == entity.OrderStatusPlaced:
		e.state = StateAwaitingExit
	case side == entity.SideSell && status == entity.OrderStatusCancelled:
		e.state = StateAwaitingExit
	case side == entity.SideSell && status == entity.OrderStatusFilled:
		e.state = StateAwaitingBuySignal
		e.plan = nil
	default:
		return errors.Wrapf(ErrInvalidTransition, "side=%s status=%s", side, status)
	}

	e.logger.Debug("order status applied",
		zap.String("side", string(side)),
		zap.String("status", string(status)),
		zap.String("state", string(e.state)))

	return nil
}

// SetPlan restores the pending trade plan, e.g. after a process restart with
// a persisted entry order.
func (e *Engine) SetPlan(plan *entity.TradePlan) {
	e.plan = plan
}

// WaitNextCandle suspends until shortly after the next candle boundary.
func (e *Engine) WaitNextCandle(ctx context.Context) error {
	now := e.now()
	next := now.Truncate(candleIntervalDur).Add(candleIntervalDur).Add(nextCandleMargin)

	timer := time.NewTimer(next.Sub(now))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
