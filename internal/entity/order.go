package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is the normalized lifecycle status of an exchange order.
type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Fill is a single execution reported by the exchange for an order.
type Fill struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Fee      decimal.Decimal `json:"fee"`
	FeeAsset string          `json:"fee_asset"`
}

// Order is the normalized view of an exchange order. The gateway converts raw
// exchange payloads into this shape at the boundary; nothing downstream
// branches on raw payload fields.
//
// Total is cash paid (buy) or received (sell) including fees; CashAmount
// excludes fees.
type Order struct {
	OrderID         int64           `json:"order_id"`
	ClientOrderID   string          `json:"client_order_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Status          OrderStatus     `json:"status"`
	OrderPrice      decimal.Decimal `json:"order_price"`
	ExecutedPrice   decimal.Decimal `json:"executed_price"`
	OrderAmount     decimal.Decimal `json:"order_amount"`
	ExecutedAmount  decimal.Decimal `json:"executed_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Fee             decimal.Decimal `json:"fee"`
	Fills           []Fill          `json:"fills,omitempty"`
	CashAmount      decimal.Decimal `json:"cash_amount"`
	Total           decimal.Decimal `json:"total"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	FilledAt        time.Time       `json:"filled_at,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

// DedupKey identifies one distinct order-state observation. At most one ledger
// record may exist per key; this is the idempotency boundary that keeps the
// polling watcher and the price-trigger watcher from double-writing.
func (o Order) DedupKey() string {
	return fmt.Sprintf("%d:%s:%s:%s", o.OrderID, o.ClientOrderID, o.Side, o.Status)
}
