package cart

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
	"github.com/shopspring/decimal"
)

// MaxPriceDrift is the relative price change tolerated between a line's
// snapshot and the live price before checkout is blocked.
var MaxPriceDrift = decimal.RequireFromString("0.10")

type IssueType string

const (
	IssueProductUnavailable IssueType = "product_unavailable"
	IssueInsufficientStock  IssueType = "insufficient_stock"
	IssuePriceChanged       IssueType = "price_changed"
)

type Issue struct {
	Type      IssueType `json:"type"`
	Message   string    `json:"message"`
	LineID    int64     `json:"cart_item_id"`
	ProductID int64     `json:"product_id"`
	StoreID   int64     `json:"store_id"`
}

type Validation struct {
	Valid  bool
	Issues []Issue
	Cart   View
}

// Messages flattens the issues for error reporting.
func (v Validation) Messages() []string {
	out := make([]string, 0, len(v.Issues))
	for _, is := range v.Issues {
		out = append(out, is.Message)
	}
	return out
}

// Validate re-checks every line of the customer's cart against live catalog
// state. An empty cart fails with EmptyCart.
func (s *Service) Validate(ctx context.Context, customerID int64) (Validation, error) {
	view, err := s.View(ctx, customerID)
	if err != nil {
		return Validation{}, err
	}
	if len(view.Lines) == 0 {
		return Validation{}, apperr.EmptyCart()
	}

	issues := []Issue{}
	for _, l := range view.Lines {
		issues = append(issues, checkLine(l)...)
	}
	return Validation{Valid: len(issues) == 0, Issues: issues, Cart: view}, nil
}

// checkLine reports the problems with one line. An inactive product is not
// checked further.
func checkLine(l LineView) []Issue {
	mk := func(t IssueType, format string, args ...any) Issue {
		return Issue{Type: t, Message: fmt.Sprintf(format, args...), LineID: l.ID, ProductID: l.ProductID, StoreID: l.StoreID}
	}
	name := l.Offer.ProductName

	if !l.Offer.ProductActive {
		return []Issue{mk(IssueProductUnavailable, "Product %q is no longer available", name)}
	}

	var out []Issue
	if !l.Offer.Carried || l.Offer.Stock < l.Quantity {
		out = append(out, mk(IssueInsufficientStock, "Insufficient stock for %q in %s. Available: %d",
			name, l.Offer.StoreName, l.Offer.Stock))
	}
	current := l.CurrentPrice()
	if money.RelativeDrift(current, l.PriceSnapshot).GreaterThan(MaxPriceDrift) {
		out = append(out, mk(IssuePriceChanged, "Price changed for %q. Current: $%s, Cart: $%s",
			name, current.StringFixed(2), l.PriceSnapshot.StringFixed(2)))
	}
	return out
}
