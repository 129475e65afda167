package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one completed round trip: a filled sell matched to its originating
// filled buy by client order id.
type Trade struct {
	CampaignID    uint            `json:"campaign_id"`
	ClientOrderID string          `json:"client_order_id"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	Fees          decimal.Decimal `json:"fees"`
	WinRate       decimal.Decimal `json:"win_rate"`
	Expectancy    decimal.Decimal `json:"expectancy"`
	ClosedAt      time.Time       `json:"closed_at"`
}
