package entity

import "github.com/shopspring/decimal"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusInactive CampaignStatus = "inactive"
)

// Campaign is one running instance of the strategy against one pair with its
// own balance and position. It owns at most one active order and one trade
// plan at a time; both are mutated exclusively by the order orchestrator.
type Campaign struct {
	ID             uint            `json:"id"`
	Name           string          `json:"name"`
	Pair           Pair            `json:"pair"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Balance        decimal.Decimal `json:"balance"`
	ActiveOrder    *Order          `json:"active_order,omitempty"`
	TradePlan      *TradePlan      `json:"trade_plan,omitempty"`
	CoinAmount     decimal.Decimal `json:"coin_amount"`
	ProfitLoss     decimal.Decimal `json:"profit_loss"`
	ProfitLossPct  decimal.Decimal `json:"profit_loss_pct"`
	Status         CampaignStatus  `json:"status"`
}

// CoinSymbol returns the base coin of the campaign's pair.
func (c Campaign) CoinSymbol() string {
	return c.Pair.From
}
