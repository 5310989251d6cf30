package cart

import (
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
	"github.com/shopspring/decimal"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 100

type Cart struct {
	ID         int64
	CustomerID int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Line struct {
	ID            int64
	CartID        int64
	ProductID     int64
	StoreID       int64
	Quantity      int
	PriceSnapshot decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LineView is a line joined with the live catalog data for its product and store.
type LineView struct {
	Line
	Offer catalog.Offer
}

func (v LineView) CurrentPrice() decimal.Decimal { return v.Offer.LivePrice() }

// SnapshotTotal is price_snapshot x quantity.
func (v LineView) SnapshotTotal() decimal.Decimal {
	return money.LineTotal(v.PriceSnapshot, v.Quantity)
}

type Summary struct {
	TotalItems int
	Subtotal   decimal.Decimal
}

type View struct {
	Cart
	Lines   []LineView
	Summary Summary
}

func summarize(lines []LineView) Summary {
	s := Summary{Subtotal: decimal.Zero}
	for _, l := range lines {
		s.TotalItems += l.Quantity
		s.Subtotal = s.Subtotal.Add(l.PriceSnapshot.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	s.Subtotal = money.Round2(s.Subtotal)
	return s
}
