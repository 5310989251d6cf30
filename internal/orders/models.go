package orders

import (
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID                int64
	OrderNumber       string
	CustomerID        int64
	ShippingAddressID int64
	Status            Status
	Version           int

	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	Currency       string

	// Gateway identifiers stay nil until the payment flow sets them.
	GatewayOrderID     *string
	GatewayPaymentID   *string
	GatewaySignature   *string
	PaymentCompletedAt *time.Time
	RefundRequired     bool

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Populated by Get.
	Items           []Item
	ShippingAddress *catalog.Address
	CustomerName    string
	CustomerEmail   string

	// Populated by List.
	ItemCount int
}

// Item is an immutable snapshot of a cart line taken at checkout.
type Item struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	StoreID     int64
	ProductName string
	ProductSKU  string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	StoreName   string
	CreatedAt   time.Time
}

// StatusUpdate enumerates every column a status change may touch. Nil
// pointers and zero values leave the column as is.
type StatusUpdate struct {
	OrderID int64
	From    Status
	To      Status

	GatewayOrderID   *string
	GatewayPaymentID *string
	GatewaySignature *string
	AppendNote       string
	RefundRequired   bool
}

type ListFilter struct {
	CustomerID int64 // 0 means all customers
	Status     Status
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Actor is the caller on whose behalf an order is read or changed.
type Actor struct {
	CustomerID int64
	Admin      bool
}

func (a Actor) canSee(o Order) bool {
	return a.Admin || o.CustomerID == a.CustomerID
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
