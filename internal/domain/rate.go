package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateQuote is one historical exchange-rate observation. Quotes are kept for
// audit and analytics only; each transaction locks in its own rate.
type RateQuote struct {
	CurrencyPair string          `json:"currency_pair"`
	Rate         decimal.Decimal `json:"rate"`
	Source       string          `json:"source"`
	Timestamp    time.Time       `json:"timestamp"`
}

// CurrencyPair formats a corridor as SOURCE_TARGET, e.g. "INR_CAD".
func CurrencyPair(source, target string) string {
	return source + "_" + target
}
