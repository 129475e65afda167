package orchestrator

import (
	"github.com/shopspring/decimal"

	"github.com/Brostafa/trading-bot/internal/entity"
)

// computeStats returns the rolling win rate and expectancy for a campaign
// after appending one new round trip to its history.
//
// Expectancy is winRate*avgWin - (1-winRate)*avgLoss over all trades
// including the new one; losses enter as positive magnitudes.
func computeStats(prior []entity.Trade, profitLoss decimal.Decimal) (winRate, expectancy decimal.Decimal) {
	var (
		winSum, lossSum decimal.Decimal
		wins, losses    int
	)

	account := func(pl decimal.Decimal) {
		if pl.IsPositive() {
			winSum = winSum.Add(pl)
			wins++
			return
		}
		lossSum = lossSum.Add(pl.Abs())
		losses++
	}

	for _, t := range prior {
		account(t.ProfitLoss)
	}
	account(profitLoss)

	total := decimal.NewFromInt(int64(wins + losses))
	winRate = decimal.NewFromInt(int64(wins)).Div(total)

	var avgWin, avgLoss decimal.Decimal
	if wins > 0 {
		avgWin = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		avgLoss = lossSum.Div(decimal.NewFromInt(int64(losses)))
	}

	one := decimal.NewFromInt(1)
	expectancy = winRate.Mul(avgWin).Sub(one.Sub(winRate).Mul(avgLoss))

	return winRate, expectancy
}
