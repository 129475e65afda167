package entity

import "github.com/shopspring/decimal"

// TradePlan is the computed entry/exit price triple for one intended position.
type TradePlan struct {
	EntryPrice        decimal.Decimal `json:"entry_price"`
	TakeProfit        decimal.Decimal `json:"take_profit"`
	StopLoss          decimal.Decimal `json:"stop_loss"`
	PossibleProfitPct decimal.Decimal `json:"possible_profit_pct"`
	PossibleLossPct   decimal.Decimal `json:"possible_loss_pct"`
	Reason            string          `json:"reason"`
}
