package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// TaxInclusiveTotal returns subtotal * (1 + taxRate) rounded to two places.
func TaxInclusiveTotal(subtotal, taxRate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(decimal.NewFromInt(1).Add(taxRate)).Round(2)
}

// MinorUnits converts a major-unit amount to the nearest integer minor unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
