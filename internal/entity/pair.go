package entity

import (
	"fmt"
	"strings"
)

// Pair is a trading pair: base coin traded against a quote currency.
type Pair struct {
	From string
	To   string
}

func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the exchange symbol form, e.g. BTCUSDT.
func (p Pair) Symbol() string {
	return p.From + p.To
}

// PairFromString parses "BTC_USDT" into a Pair.
func PairFromString(s string) (Pair, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q, expected format BASE_QUOTE", s)
	}
	return Pair{From: parts[0], To: parts[1]}, nil
}
