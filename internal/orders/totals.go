package orders

import (
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
	"github.com/shopspring/decimal"
)

var (
	TaxRate               = decimal.RequireFromString("0.08")
	FreeShippingThreshold = decimal.NewFromInt(100)
	FlatShipping          = decimal.RequireFromString("10.00")
)

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals applies the fixed tax rate and the free-shipping threshold.
// Shipping is free only strictly above the threshold.
func ComputeTotals(subtotal decimal.Decimal) Totals {
	subtotal = money.Round2(subtotal)
	shipping := FlatShipping
	if subtotal.GreaterThan(FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	tax := money.Round2(subtotal.Mul(TaxRate))
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: decimal.Zero,
		Total:    money.Round2(subtotal.Add(tax).Add(shipping)),
	}
}
