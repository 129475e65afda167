package gateway

import (
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Brostafa/trading-bot/internal/entity"
)

// RoundToStep floors a value to a multiple of step. A zero step returns the
// value unchanged.
func RoundToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

func sideToBinance(side entity.Side) binance.SideType {
	if side == entity.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func sideFromBinance(side binance.SideType) entity.Side {
	if side == binance.SideTypeSell {
		return entity.SideSell
	}
	return entity.SideBuy
}

func statusFromBinance(status binance.OrderStatusType) entity.OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return entity.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel,
		binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return entity.OrderStatusCancelled
	default:
		// NEW and PARTIALLY_FILLED are both still working orders
		return entity.OrderStatusPlaced
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func candleFromKline(k *binance.Kline) (entity.Candle, error) {
	var (
		c   entity.Candle
		err error
	)

	c.OpenTime = time.UnixMilli(k.OpenTime)
	c.CloseTime = time.UnixMilli(k.CloseTime)

	if c.Open, err = parseDecimal(k.Open); err != nil {
		return entity.Candle{}, errors.Wrapf(err, "bad kline open %q", k.Open)
	}
	if c.High, err = parseDecimal(k.High); err != nil {
		return entity.Candle{}, errors.Wrapf(err, "bad kline high %q", k.High)
	}
	if c.Low, err = parseDecimal(k.Low); err != nil {
		return entity.Candle{}, errors.Wrapf(err, "bad kline low %q", k.Low)
	}
	if c.Close, err = parseDecimal(k.Close); err != nil {
		return entity.Candle{}, errors.Wrapf(err, "bad kline close %q", k.Close)
	}
	if c.Volume, err = parseDecimal(k.Volume); err != nil {
		return entity.Candle{}, errors.Wrapf(err, "bad kline volume %q", k.Volume)
	}

	return c, nil
}

// feeInQuote converts a fill commission into quote-currency terms. The
// commission asset is matched against the symbol: a suffix match means the
// commission is already quote-denominated, a prefix match means it is taken
// from the base coin and is converted at the fill price. Commissions paid in
// unrelated assets (e.g. BNB discounts) are not converted.
func feeInQuote(symbol, commissionAsset string, commission, fillPrice decimal.Decimal) decimal.Decimal {
	if commissionAsset == "" || commission.IsZero() {
		return decimal.Zero
	}
	if strings.HasSuffix(symbol, commissionAsset) {
		return commission
	}
	if strings.HasPrefix(symbol, commissionAsset) {
		return commission.Mul(fillPrice)
	}
	return decimal.Zero
}

// finalize derives the dependent money fields shared by every order shape:
// executed price, remaining amount, and fee-inclusive total.
func finalize(o *entity.Order) {
	if o.ExecutedAmount.GreaterThan(decimal.Zero) && o.ExecutedPrice.IsZero() && !o.CashAmount.IsZero() {
		o.ExecutedPrice = o.CashAmount.Div(o.ExecutedAmount)
	}

	o.RemainingAmount = o.OrderAmount.Sub(o.ExecutedAmount)
	if o.RemainingAmount.IsNegative() {
		o.RemainingAmount = decimal.Zero
	}

	if o.Side == entity.SideBuy {
		o.Total = o.CashAmount.Add(o.Fee)
	} else {
		o.Total = o.CashAmount.Sub(o.Fee)
	}
}

func orderFromCreateResponse(resp *binance.CreateOrderResponse, req OrderRequest) (entity.Order, error) {
	if resp == nil {
		return entity.Order{}, errors.New("empty create order response")
	}

	o := entity.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          req.Side,
		Status:        statusFromBinance(resp.Status),
		SubmittedAt:   time.UnixMilli(resp.TransactTime),
	}

	var err error
	if o.OrderPrice, err = parseDecimal(resp.Price); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad order price %q", resp.Price)
	}
	if o.OrderPrice.IsZero() {
		o.OrderPrice = req.Price
	}
	if o.OrderAmount, err = parseDecimal(resp.OrigQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad order quantity %q", resp.OrigQuantity)
	}
	if o.ExecutedAmount, err = parseDecimal(resp.ExecutedQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad executed quantity %q", resp.ExecutedQuantity)
	}
	if o.CashAmount, err = parseDecimal(resp.CummulativeQuoteQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad quote quantity %q", resp.CummulativeQuoteQuantity)
	}

	for _, fill := range resp.Fills {
		if fill == nil {
			continue
		}
		price, err := parseDecimal(fill.Price)
		if err != nil {
			return entity.Order{}, errors.Wrapf(err, "bad fill price %q", fill.Price)
		}
		qty, err := parseDecimal(fill.Quantity)
		if err != nil {
			return entity.Order{}, errors.Wrapf(err, "bad fill quantity %q", fill.Quantity)
		}
		commission, err := parseDecimal(fill.Commission)
		if err != nil {
			return entity.Order{}, errors.Wrapf(err, "bad fill commission %q", fill.Commission)
		}

		o.Fills = append(o.Fills, entity.Fill{
			Price:    price,
			Quantity: qty,
			Fee:      commission,
			FeeAsset: fill.CommissionAsset,
		})
		o.Fee = o.Fee.Add(feeInQuote(resp.Symbol, fill.CommissionAsset, commission, price))
	}

	if o.Status == entity.OrderStatusFilled {
		o.FilledAt = time.UnixMilli(resp.TransactTime)
	}

	finalize(&o)
	return o, nil
}

func orderFromCancelResponse(resp *binance.CancelOrderResponse) (entity.Order, error) {
	if resp == nil {
		return entity.Order{}, errors.New("empty cancel order response")
	}

	o := entity.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.OrigClientOrderID,
		Symbol:        resp.Symbol,
		Side:          sideFromBinance(resp.Side),
		Status:        statusFromBinance(resp.Status),
		SubmittedAt:   time.UnixMilli(resp.TransactTime),
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = resp.ClientOrderID
	}

	var err error
	if o.OrderPrice, err = parseDecimal(resp.Price); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad order price %q", resp.Price)
	}
	if o.OrderAmount, err = parseDecimal(resp.OrigQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad order quantity %q", resp.OrigQuantity)
	}
	if o.ExecutedAmount, err = parseDecimal(resp.ExecutedQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad executed quantity %q", resp.ExecutedQuantity)
	}
	if o.CashAmount, err = parseDecimal(resp.CummulativeQuoteQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad quote quantity %q", resp.CummulativeQuoteQuantity)
	}

	finalize(&o)
	return o, nil
}

func orderFromQuery(resp *binance.Order) (entity.Order, error) {
	if resp == nil {
		return entity.Order{}, errors.New("empty order query response")
	}

	o := entity.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          sideFromBinance(resp.Side),
		Status:        statusFromBinance(resp.Status),
		SubmittedAt:   time.UnixMilli(resp.Time),
	}

	var err error
	if o.OrderPrice, err = parseDecimal(resp.Price); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad order price %q", resp.Price)
	}
	if o.OrderAmount, err = parseDecimal(resp.OrigQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad order quantity %q", resp.OrigQuantity)
	}
	if o.ExecutedAmount, err = parseDecimal(resp.ExecutedQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad executed quantity %q", resp.ExecutedQuantity)
	}
	if o.CashAmount, err = parseDecimal(resp.CummulativeQuoteQuantity); err != nil {
		return entity.Order{}, errors.Wrapf(err, "bad quote quantity %q", resp.CummulativeQuoteQuantity)
	}

	if o.Status == entity.OrderStatusFilled {
		o.FilledAt = time.UnixMilli(resp.UpdateTime)
	}

	finalize(&o)
	return o, nil
}
