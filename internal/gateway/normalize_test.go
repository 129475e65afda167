package gateway

import (
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brostafa/trading-bot/internal/entity"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRoundToStep(t *testing.T) {
	assert.True(t, RoundToStep(d("101.17"), d("0.1")).Equal(d("101.1")))
	assert.True(t, RoundToStep(d("101.1"), d("0.1")).Equal(d("101.1")))
	assert.True(t, RoundToStep(d("0.12345678"), d("0.001")).Equal(d("0.123")))
	// zero step leaves the value untouched
	assert.True(t, RoundToStep(d("3.14"), decimal.Zero).Equal(d("3.14")))
}

func TestStatusFromBinance(t *testing.T) {
	assert.Equal(t, entity.OrderStatusPlaced, statusFromBinance(binance.OrderStatusTypeNew))
	assert.Equal(t, entity.OrderStatusPlaced, statusFromBinance(binance.OrderStatusTypePartiallyFilled))
	assert.Equal(t, entity.OrderStatusFilled, statusFromBinance(binance.OrderStatusTypeFilled))
	assert.Equal(t, entity.OrderStatusCancelled, statusFromBinance(binance.OrderStatusTypeCanceled))
	assert.Equal(t, entity.OrderStatusCancelled, statusFromBinance(binance.OrderStatusTypeExpired))
	assert.Equal(t, entity.OrderStatusCancelled, statusFromBinance(binance.OrderStatusTypeRejected))
}

func TestFeeInQuote(t *testing.T) {
	// commission in quote currency passes through
	assert.True(t, feeInQuote("BTCUSDT", "USDT", d("0.5"), d("100")).Equal(d("0.5")))
	// commission in base coin is converted at the fill price
	assert.True(t, feeInQuote("BTCUSDT", "BTC", d("0.001"), d("50000")).Equal(d("50")))
	// unrelated commission asset is not converted
	assert.True(t, feeInQuote("BTCUSDT", "BNB", d("0.1"), d("50000")).IsZero())
}

func TestOrderFromCreateResponse_FilledMarketSell(t *testing.T) {
	resp := &binance.CreateOrderResponse{
		Symbol:                   "BTCUSDT",
		OrderID:                  42,
		ClientOrderID:            "coid-1",
		TransactTime:             1700000000000,
		Price:                    "0",
		OrigQuantity:             "0.5",
		ExecutedQuantity:         "0.5",
		CummulativeQuoteQuantity: "25000",
		Status:                   binance.OrderStatusTypeFilled,
		Fills: []*binance.Fill{
			{Price: "50000", Quantity: "0.5", Commission: "25", CommissionAsset: "USDT"},
		},
	}

	order, err := orderFromCreateResponse(resp, OrderRequest{
		Symbol: "BTCUSDT",
		Side:   entity.SideSell,
		Type:   OrderTypeMarket,
		Amount: d("0.5"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), order.OrderID)
	assert.Equal(t, entity.SideSell, order.Side)
	assert.Equal(t, entity.OrderStatusFilled, order.Status)
	assert.True(t, order.ExecutedPrice.Equal(d("50000")))
	assert.True(t, order.RemainingAmount.IsZero())
	assert.True(t, order.Fee.Equal(d("25")))
	// sell total is cash received minus fees
	assert.True(t, order.Total.Equal(d("24975")))
	assert.True(t, order.CashAmount.Equal(d("25000")))
	assert.False(t, order.FilledAt.IsZero())
}

func TestOrderFromCreateResponse_PlacedBuyKeepsRequestPrice(t *testing.T) {
	resp := &binance.CreateOrderResponse{
		Symbol:        "BTCUSDT",
		OrderID:       7,
		ClientOrderID: "coid-2",
		OrigQuantity:  "1",
		Status:        binance.OrderStatusTypeNew,
	}

	order, err := orderFromCreateResponse(resp, OrderRequest{
		Symbol: "BTCUSDT",
		Side:   entity.SideBuy,
		Type:   OrderTypeStopLimit,
		Amount: d("1"),
		Price:  d("101.1"),
	})
	require.NoError(t, err)

	assert.Equal(t, entity.OrderStatusPlaced, order.Status)
	assert.True(t, order.OrderPrice.Equal(d("101.1")))
	assert.True(t, order.RemainingAmount.Equal(d("1")))
	assert.True(t, order.FilledAt.IsZero())
}

func TestOrderFromQuery_RemainingNeverNegative(t *testing.T) {
	resp := &binance.Order{
		Symbol:                   "BTCUSDT",
		OrderID:                  9,
		ClientOrderID:            "coid-3",
		Price:                    "100",
		OrigQuantity:             "1",
		ExecutedQuantity:         "1.000001",
		CummulativeQuoteQuantity: "100",
		Status:                   binance.OrderStatusTypeFilled,
		Side:                     binance.SideTypeBuy,
		UpdateTime:               1700000000000,
	}

	order, err := orderFromQuery(resp)
	require.NoError(t, err)
	assert.True(t, order.RemainingAmount.IsZero())
}

func TestParseSymbolFilters(t *testing.T) {
	raw := []map[string]interface{}{
		{"filterType": "PRICE_FILTER", "tickSize": "0.10000000"},
		{"filterType": "LOT_SIZE", "stepSize": "0.00100000"},
		{"filterType": "NOTIONAL", "minNotional": "10.50000000"},
	}

	f, err := parseSymbolFilters(raw)
	require.NoError(t, err)
	assert.True(t, f.tickSize.Equal(d("0.1")))
	assert.True(t, f.stepSize.Equal(d("0.001")))
	assert.True(t, f.minNotional.Equal(d("10.5")))
}
