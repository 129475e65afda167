// Package ledger is the durable record of campaigns, orders and trades.
package ledger

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Brostafa/trading-bot/internal/entity"
)

var (
	// ErrNotFound is returned when no record matches the query.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateOrderUpdate is returned when an order record with the same
	// (orderId, clientOrderId, side, status) tuple already exists. Callers
	// racing on the same order transition treat it as "the other writer won"
	// and skip their side effects.
	ErrDuplicateOrderUpdate = errors.New("order update already persisted")
)

// OrderFilter narrows order queries. Zero fields are ignored.
type OrderFilter struct {
	CampaignID    uint
	OrderID       int64
	ClientOrderID string
	Side          entity.Side
	Status        entity.OrderStatus
}

// Store is the persistence boundary consumed by the orchestrator and the
// campaign coordinator.
type Store interface {
	CreateCampaign(ctx context.Context, campaign *entity.Campaign) error
	CampaignByID(ctx context.Context, id uint) (entity.Campaign, error)
	ActiveCampaigns(ctx context.Context) ([]entity.Campaign, error)
	UpdateCampaign(ctx context.Context, campaign *entity.Campaign) error

	// CreateOrder persists one order-state observation for a campaign. It
	// returns ErrDuplicateOrderUpdate when the dedup tuple already exists.
	CreateOrder(ctx context.Context, campaignID uint, order entity.Order) error
	FindOrder(ctx context.Context, filter OrderFilter) (entity.Order, error)

	CreateTrade(ctx context.Context, trade *entity.Trade) error
	TradesByCampaign(ctx context.Context, campaignID uint) ([]entity.Trade, error)

	Close() error
}
