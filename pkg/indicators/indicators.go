// Package indicators wraps the technical analysis primitives used by the
// signal engine (RSI and its simple moving average).
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
)

// RSI calculates the Relative Strength Index over the given closes.
func RSI(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(decimalsToFloat64(closes))))

	return float64ToDecimals(out), nil
}

// SMA calculates the Simple Moving Average over the given series.
func SMA(values []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(values) < period {
		return nil, fmt.Errorf("not enough data points for SMA: need %d, got %d", period, len(values))
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	out := helper.ChanToSlice(sma.Compute(helper.SliceToChan(decimalsToFloat64(values))))

	return float64ToDecimals(out), nil
}

// RSIWithSMA returns the RSI series and the SMA of that RSI series, both
// trimmed to the same length with their last elements aligned in time.
func RSIWithSMA(closes []decimal.Decimal, rsiPeriod, smaPeriod int) ([]decimal.Decimal, []decimal.Decimal, error) {
	rsi, err := RSI(closes, rsiPeriod)
	if err != nil {
		return nil, nil, err
	}

	sma, err := SMA(rsi, smaPeriod)
	if err != nil {
		return nil, nil, err
	}

	// sma is shorter due to its warmup; align tails
	if len(rsi) > len(sma) {
		rsi = rsi[len(rsi)-len(sma):]
	}

	return rsi, sma, nil
}

func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
