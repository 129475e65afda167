package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Brostafa/trading-bot/internal/entity"
)

type campaignRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Name           string `gorm:"size:100"`
	Pair           string `gorm:"size:20"`
	InitialBalance decimal.Decimal `gorm:"type:numeric"`
	Balance        decimal.Decimal `gorm:"type:numeric"`
	CoinAmount     decimal.Decimal `gorm:"type:numeric"`
	ProfitLoss     decimal.Decimal `gorm:"type:numeric"`
	ProfitLossPct  decimal.Decimal `gorm:"type:numeric"`
	ActiveOrder    string          `gorm:"type:text"`
	TradePlan      string          `gorm:"type:text"`
	Status         string          `gorm:"index;size:10"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (campaignRecord) TableName() string { return "campaigns" }

type orderRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	CampaignID      uint   `gorm:"index"`
	OrderID         int64  `gorm:"uniqueIndex:idx_order_dedup"`
	ClientOrderID   string `gorm:"uniqueIndex:idx_order_dedup;size:64"`
	Side            string `gorm:"uniqueIndex:idx_order_dedup;size:4"`
	Status          string `gorm:"uniqueIndex:idx_order_dedup;size:10"`
	Symbol          string `gorm:"size:20"`
	OrderPrice      decimal.Decimal `gorm:"type:numeric"`
	ExecutedPrice   decimal.Decimal `gorm:"type:numeric"`
	OrderAmount     decimal.Decimal `gorm:"type:numeric"`
	ExecutedAmount  decimal.Decimal `gorm:"type:numeric"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric"`
	Fee             decimal.Decimal `gorm:"type:numeric"`
	CashAmount      decimal.Decimal `gorm:"type:numeric"`
	Total           decimal.Decimal `gorm:"type:numeric"`
	Fills           string          `gorm:"type:text"`
	Reason          string          `gorm:"size:200"`
	SubmittedAt     time.Time
	FilledAt        time.Time
	CreatedAt       time.Time
}

func (orderRecord) TableName() string { return "orders" }

type tradeRecord struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	CampaignID    uint   `gorm:"index;uniqueIndex:idx_trade_roundtrip"`
	ClientOrderID string `gorm:"uniqueIndex:idx_trade_roundtrip;size:64"`
	ProfitLoss    decimal.Decimal `gorm:"type:numeric"`
	Fees          decimal.Decimal `gorm:"type:numeric"`
	WinRate       decimal.Decimal `gorm:"type:numeric"`
	Expectancy    decimal.Decimal `gorm:"type:numeric"`
	ClosedAt      time.Time
	CreatedAt     time.Time
}

func (tradeRecord) TableName() string { return "trades" }

// GormStore implements Store on a gorm-managed sqlite database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (and migrates) the sqlite ledger at the given path.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open ledger database at %s", dsn)
	}

	if err := db.AutoMigrate(&campaignRecord{}, &orderRecord{}, &tradeRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate ledger schema")
	}

	return &GormStore{db: db}, nil
}

func campaignToRecord(c *entity.Campaign) (campaignRecord, error) {
	rec := campaignRecord{
		ID:             c.ID,
		Name:           c.Name,
		Pair:           c.Pair.String(),
		InitialBalance: c.InitialBalance,
		Balance:        c.Balance,
		CoinAmount:     c.CoinAmount,
		ProfitLoss:     c.ProfitLoss,
		ProfitLossPct:  c.ProfitLossPct,
		Status:         string(c.Status),
	}

	if c.ActiveOrder != nil {
		raw, err := json.Marshal(c.ActiveOrder)
		if err != nil {
			return campaignRecord{}, errors.Wrap(err, "failed to marshal active order")
		}
		rec.ActiveOrder = string(raw)
	}
	if c.TradePlan != nil {
		raw, err := json.Marshal(c.TradePlan)
		if err != nil {
			return campaignRecord{}, errors.Wrap(err, "failed to marshal trade plan")
		}
		rec.TradePlan = string(raw)
	}

	return rec, nil
}

func campaignFromRecord(rec campaignRecord) (entity.Campaign, error) {
	pair, err := entity.PairFromString(rec.Pair)
	if err != nil {
		return entity.Campaign{}, errors.Wrapf(err, "campaign %d has invalid pair", rec.ID)
	}

	c := entity.Campaign{
		ID:             rec.ID,
		Name:           rec.Name,
		Pair:           pair,
		InitialBalance: rec.InitialBalance,
		Balance:        rec.Balance,
		CoinAmount:     rec.CoinAmount,
		ProfitLoss:     rec.ProfitLoss,
		ProfitLossPct:  rec.ProfitLossPct,
		Status:         entity.CampaignStatus(rec.Status),
	}

	if rec.ActiveOrder != "" {
		var order entity.Order
		if err := json.Unmarshal([]byte(rec.ActiveOrder), &order); err != nil {
			return entity.Campaign{}, errors.Wrapf(err, "campaign %d has invalid active order", rec.ID)
		}
		c.ActiveOrder = &order
	}
	if rec.TradePlan != "" {
		var plan entity.TradePlan
		if err := json.Unmarshal([]byte(rec.TradePlan), &plan); err != nil {
			return entity.Campaign{}, errors.Wrapf(err, "campaign %d has invalid trade plan", rec.ID)
		}
		c.TradePlan = &plan
	}

	return c, nil
}

// CreateCampaign persists a new campaign and backfills its id.
func (s *GormStore) CreateCampaign(ctx context.Context, campaign *entity.Campaign) error {
	rec, err := campaignToRecord(campaign)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrap(err, "failed to create campaign")
	}
	campaign.ID = rec.ID
	return nil
}

// CampaignByID loads one campaign.
func (s *GormStore) CampaignByID(ctx context.Context, id uint) (entity.Campaign, error) {
	var rec campaignRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.Campaign{}, ErrNotFound
		}
		return entity.Campaign{}, errors.Wrapf(err, "failed to load campaign %d", id)
	}
	return campaignFromRecord(rec)
}

// ActiveCampaigns returns all campaigns with status active.
func (s *GormStore) ActiveCampaigns(ctx context.Context) ([]entity.Campaign, error) {
	var recs []campaignRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", string(entity.CampaignStatusActive)).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active campaigns")
	}

	campaigns := make([]entity.Campaign, 0, len(recs))
	for _, rec := range recs {
		c, err := campaignFromRecord(rec)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

// UpdateCampaign overwrites the stored campaign state.
func (s *GormStore) UpdateCampaign(ctx context.Context, campaign *entity.Campaign) error {
	rec, err := campaignToRecord(campaign)
	if err != nil {
		return err
	}

	// Save with explicit column selection so cleared active_order/trade_plan
	// are written back as empty, not skipped as zero values.
	err = s.db.WithContext(ctx).Model(&campaignRecord{}).
		Where("id = ?", campaign.ID).
		Select("name", "pair", "initial_balance", "balance", "coin_amount",
			"profit_loss", "profit_loss_pct", "active_order", "trade_plan", "status").
		Updates(&rec).Error
	if err != nil {
		return errors.Wrapf(err, "failed to update campaign %d", campaign.ID)
	}
	return nil
}

func orderToRecord(campaignID uint, o entity.Order) (orderRecord, error) {
	rec := orderRecord{
		CampaignID:      campaignID,
		OrderID:         o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		Side:            string(o.Side),
		Status:          string(o.Status),
		Symbol:          o.Symbol,
		OrderPrice:      o.OrderPrice,
		ExecutedPrice:   o.ExecutedPrice,
		OrderAmount:     o.OrderAmount,
		ExecutedAmount:  o.ExecutedAmount,
		RemainingAmount: o.RemainingAmount,
		Fee:             o.Fee,
		CashAmount:      o.CashAmount,
		Total:           o.Total,
		Reason:          o.Reason,
		SubmittedAt:     o.SubmittedAt,
		FilledAt:        o.FilledAt,
	}

	if len(o.Fills) > 0 {
		raw, err := json.Marshal(o.Fills)
		if err != nil {
			return orderRecord{}, errors.Wrap(err, "failed to marshal order fills")
		}
		rec.Fills = string(raw)
	}

	return rec, nil
}

func orderFromRecord(rec orderRecord) (entity.Order, error) {
	o := entity.Order{
		OrderID:         rec.OrderID,
		ClientOrderID:   rec.ClientOrderID,
		Symbol:          rec.Symbol,
		Side:            entity.Side(rec.Side),
		Status:          entity.OrderStatus(rec.Status),
		OrderPrice:      rec.OrderPrice,
		ExecutedPrice:   rec.ExecutedPrice,
		OrderAmount:     rec.OrderAmount,
		ExecutedAmount:  rec.ExecutedAmount,
		RemainingAmount: rec.RemainingAmount,
		Fee:             rec.Fee,
		CashAmount:      rec.CashAmount,
		Total:           rec.Total,
		Reason:          rec.Reason,
		SubmittedAt:     rec.SubmittedAt,
		FilledAt:        rec.FilledAt,
	}

	if rec.Fills != "" {
		if err := json.Unmarshal([]byte(rec.Fills), &o.Fills); err != nil {
			return entity.Order{}, errors.Wrapf(err, "order record %d has invalid fills", rec.ID)
		}
	}

	return o, nil
}

// CreateOrder persists one order-state observation. The unique index over
// (order_id, client_order_id, side, status) makes concurrent writers race for
// a single slot; losers get ErrDuplicateOrderUpdate.
func (s *GormStore) CreateOrder(ctx context.Context, campaignID uint, order entity.Order) error {
	rec, err := orderToRecord(campaignID, order)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateOrderUpdate
		}
		return errors.Wrapf(err, "failed to persist order %s", order.DedupKey())
	}
	return nil
}

// FindOrder returns the newest order record matching the filter.
func (s *GormStore) FindOrder(ctx context.Context, filter OrderFilter) (entity.Order, error) {
	query := s.db.WithContext(ctx).Model(&orderRecord{})

	if filter.CampaignID != 0 {
		query = query.Where("campaign_id = ?", filter.CampaignID)
	}
	if filter.OrderID != 0 {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.ClientOrderID != "" {
		query = query.Where("client_order_id = ?", filter.ClientOrderID)
	}
	if filter.Side != "" {
		query = query.Where("side = ?", string(filter.Side))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	var rec orderRecord
	if err := query.Order("id DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.Order{}, ErrNotFound
		}
		return entity.Order{}, errors.Wrap(err, "failed to find order")
	}

	return orderFromRecord(rec)
}

// CreateTrade persists one completed round trip. The unique index over
// (campaign_id, client_order_id) keeps replays from creating a second trade.
func (s *GormStore) CreateTrade(ctx context.Context, trade *entity.Trade) error {
	rec := tradeRecord{
		CampaignID:    trade.CampaignID,
		ClientOrderID: trade.ClientOrderID,
		ProfitLoss:    trade.ProfitLoss,
		Fees:          trade.Fees,
		WinRate:       trade.WinRate,
		Expectancy:    trade.Expectancy,
		ClosedAt:      trade.ClosedAt,
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateOrderUpdate
		}
		return errors.Wrapf(err, "failed to persist trade for %s", trade.ClientOrderID)
	}
	return nil
}

// TradesByCampaign returns the campaign's trades in close order.
func (s *GormStore) TradesByCampaign(ctx context.Context, campaignID uint) ([]entity.Trade, error) {
	var recs []tradeRecord
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list trades for campaign %d", campaignID)
	}

	trades := make([]entity.Trade, 0, len(recs))
	for _, rec := range recs {
		trades = append(trades, entity.Trade{
			CampaignID:    rec.CampaignID,
			ClientOrderID: rec.ClientOrderID,
			ProfitLoss:    rec.ProfitLoss,
			Fees:          rec.Fees,
			WinRate:       rec.WinRate,
			Expectancy:    rec.Expectancy,
			ClosedAt:      rec.ClosedAt,
		})
	}
	return trades, nil
}

// Close releases the underlying database handle.
func (s *GormStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
