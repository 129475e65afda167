package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a single OHLCV candlestick. A candle is immutable once its
// CloseTime has passed; the newest candle of a window may still be live.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Closed reports whether the candle was already closed at the given moment.
func (c Candle) Closed(now time.Time) bool {
	return !c.CloseTime.After(now)
}

// Bullish reports whether the candle closed at or above its open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThanOrEqual(c.Open)
}

// RangePct returns the high-to-low range as a percentage of the high.
func (c Candle) RangePct() decimal.Decimal {
	if c.High.IsZero() {
		return decimal.Zero
	}
	return c.High.Sub(c.Low).Div(c.High).Mul(decimal.NewFromInt(100))
}
