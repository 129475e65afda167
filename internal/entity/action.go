package entity

// Action is a decision produced by the signal engine for one tick.
type Action string

const (
	// ActionWait means the engine is in a holding state and has nothing to do.
	ActionWait Action = "wait"
	// ActionWaitForTradeTime means the warm-up period has not elapsed yet.
	ActionWaitForTradeTime Action = "wait_for_trade_time"
	// ActionBuy requests a new entry order described by the decision's TradePlan.
	ActionBuy Action = "buy"
	// ActionCancelBuy requests cancellation of a pending entry order.
	ActionCancelBuy Action = "cancel_buy"
	// ActionSell requests closing the open position at market.
	ActionSell Action = "sell"
	// ActionEnd means the engine reached its terminal state with no open position.
	ActionEnd Action = "end"
)

// Decision is the outcome of a single signal engine tick.
type Decision struct {
	Action Action
	Reason string
	// Plan is set for ActionBuy.
	Plan *TradePlan
	// Candle is the newest closed candle the decision was made on.
	Candle *Candle
}
