// Package reconcile classifies exchange-rate drift between the rate a
// transaction was priced at and the rate currently in effect. Both the
// online wizard and the terminal cash flow depend on this package, so
// "changed" means exactly the same thing in both.
package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
)

// Compare builds a RateCheck from two rate snapshots. It has no side
// effects and no network access; the inputs are values already fetched
// from the ledger.
//
// Changed is true iff the rates differ at their native decimal
// precision. Delta fields are always relative to previousRate, even
// when Changed is false (they are then exactly zero).
func Compare(previousRate, currentRate, previousAmount, currentAmount decimal.Decimal) domain.RateCheck {
	check := domain.RateCheck{
		Changed:        !previousRate.Equal(currentRate),
		PreviousRate:   previousRate,
		CurrentRate:    currentRate,
		PreviousAmount: previousAmount,
		CurrentAmount:  currentAmount,
		Delta:          currentRate.Sub(previousRate),
		DeltaPct:       decimal.Zero,
	}
	if !previousRate.IsZero() {
		check.DeltaPct = check.Delta.Div(previousRate).Mul(decimal.NewFromInt(100))
	}
	return check
}
