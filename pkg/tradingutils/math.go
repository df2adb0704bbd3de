package tradingutils

import (
	"github.com/shopspring/decimal"
)

// FloorToStep floors value to the nearest multiple of step at or below it
// (e.g. flooring an order quantity to an exchange lot size, or a price to
// its tick size). Zero step returns value unchanged.
func FloorToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	steps := value.Div(step).Floor()
	return steps.Mul(step)
}
