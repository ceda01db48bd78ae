// Package money holds the rounding rules shared by both ledgers.
package money

import (
	"github.com/shopspring/decimal"
)

const (
	// AmountScale is the number of decimal places kept for currency amounts.
	AmountScale int32 = 2
	// CostScale is the number of decimal places kept for unit and average costs.
	CostScale int32 = 6
	// QtyScale is the number of decimal places kept for quantities.
	QtyScale int32 = 4
)

// Round rounds an amount to the smallest currency unit.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// RoundCost rounds a unit or average cost.
func RoundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostScale)
}

// RoundQty rounds a quantity.
func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(QtyScale)
}

// Extend returns round(qty * unitCost) at amount scale.
func Extend(qty, unitCost decimal.Decimal) decimal.Decimal {
	return Round(qty.Mul(unitCost))
}

// IsQty reports whether d carries no precision below the quantity scale.
func IsQty(d decimal.Decimal) bool {
	return d.Equal(RoundQty(d))
}

// IsCents reports whether d carries no precision below the currency unit.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(Round(d))
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
