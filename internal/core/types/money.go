// Package types holds the fixed-point numbers of the ledger: exact decimal
// money and quantities scaled to four places.
package types

import "github.com/shopspring/decimal"

// Money is an exact decimal amount: stock values, valuation rates and their
// differences.
type Money = decimal.Decimal

// MoneyPlaces is the number of fractional digits kept on stored stock values.
const MoneyPlaces int32 = 6

func Zero() Money { return decimal.Zero }

// MustMoney parses a literal amount. It panics on malformed input.
func MustMoney(s string) Money { return decimal.RequireFromString(s) }

// RoundMoney rounds a stock value to MoneyPlaces.
func RoundMoney(m Money) Money { return m.Round(MoneyPlaces) }
