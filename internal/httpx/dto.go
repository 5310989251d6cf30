package httpx

import (
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
)

type cartLineResp struct {
	ID            int64     `json:"id"`
	CartID        int64     `json:"cart_id"`
	ProductID     int64     `json:"product_id"`
	StoreID       int64     `json:"store_id"`
	Quantity      int       `json:"quantity"`
	PriceSnapshot string    `json:"price_snapshot"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	ProductName  string `json:"product_name,omitempty"`
	ProductSKU   string `json:"product_sku,omitempty"`
	BrandName    string `json:"brand_name,omitempty"`
	StoreName    string `json:"store_name,omitempty"`
	CurrentPrice string `json:"current_price,omitempty"`
	Stock        *int   `json:"stock_quantity,omitempty"`
	LineTotal    string `json:"total_price,omitempty"`
}

type summaryResp struct {
	TotalItems int    `json:"total_items"`
	Subtotal   string `json:"subtotal"`
}

type cartResp struct {
	ID         int64          `json:"id"`
	CustomerID int64          `json:"customer_id"`
	Items      []cartLineResp `json:"items"`
	Summary    summaryResp    `json:"summary"`
}

type validationResp struct {
	Valid       bool         `json:"valid"`
	Issues      []cart.Issue `json:"issues"`
	CartSummary summaryResp  `json:"cart_summary"`
}

func toLine(l cart.Line) cartLineResp {
	return cartLineResp{
		ID: l.ID, CartID: l.CartID, ProductID: l.ProductID, StoreID: l.StoreID,
		Quantity: l.Quantity, PriceSnapshot: l.PriceSnapshot.StringFixed(2),
		CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt,
	}
}

func toLineView(v cart.LineView) cartLineResp {
	out := toLine(v.Line)
	out.ProductName = v.Offer.ProductName
	out.ProductSKU = v.Offer.ProductSKU
	out.BrandName = v.Offer.BrandName
	out.StoreName = v.Offer.StoreName
	out.CurrentPrice = v.CurrentPrice().StringFixed(2)
	stock := v.Offer.Stock
	out.Stock = &stock
	out.LineTotal = v.SnapshotTotal().StringFixed(2)
	return out
}

func toSummary(s cart.Summary) summaryResp {
	return summaryResp{TotalItems: s.TotalItems, Subtotal: s.Subtotal.StringFixed(2)}
}

func toCart(v cart.View) cartResp {
	items := make([]cartLineResp, 0, len(v.Lines))
	for _, l := range v.Lines {
		items = append(items, toLineView(l))
	}
	return cartResp{ID: v.ID, CustomerID: v.CustomerID, Items: items, Summary: toSummary(v.Summary)}
}

type orderItemResp struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	StoreID     int64  `json:"store_id"`
	ProductName string `json:"product_name"`
	ProductSKU  string `json:"product_sku"`
	StoreName   string `json:"store_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TotalPrice  string `json:"total_price"`
}

type orderResp struct {
	ID                 int64            `json:"id"`
	OrderNumber        string           `json:"order_number"`
	CustomerID         int64            `json:"customer_id"`
	ShippingAddressID  int64            `json:"shipping_address_id"`
	Status             orders.Status    `json:"status"`
	Subtotal           string           `json:"subtotal"`
	TaxAmount          string           `json:"tax_amount"`
	ShippingAmount     string           `json:"shipping_amount"`
	DiscountAmount     string           `json:"discount_amount"`
	TotalAmount        string           `json:"total_amount"`
	Currency           string           `json:"currency"`
	GatewayOrderID     *string          `json:"gateway_order_id"`
	GatewayPaymentID   *string          `json:"gateway_payment_id"`
	PaymentCompletedAt *time.Time       `json:"payment_completed_at"`
	RefundRequired     bool             `json:"refund_required"`
	Notes              string           `json:"notes"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	Items              []orderItemResp  `json:"items,omitempty"`
	ItemCount          *int             `json:"item_count,omitempty"`
	ShippingAddress    *catalog.Address `json:"shipping_address,omitempty"`
	CustomerName       string           `json:"customer_name,omitempty"`
	CustomerEmail      string           `json:"customer_email,omitempty"`
}

func toOrder(o orders.Order) orderResp {
	out := orderResp{
		ID: o.ID, OrderNumber: o.OrderNumber, CustomerID: o.CustomerID,
		ShippingAddressID: o.ShippingAddressID, Status: o.Status,
		Subtotal:       o.Subtotal.StringFixed(2),
		TaxAmount:      o.TaxAmount.StringFixed(2),
		ShippingAmount: o.ShippingAmount.StringFixed(2),
		DiscountAmount: o.DiscountAmount.StringFixed(2),
		TotalAmount:    o.TotalAmount.StringFixed(2),
		Currency:       o.Currency,
		GatewayOrderID: o.GatewayOrderID, GatewayPaymentID: o.GatewayPaymentID,
		PaymentCompletedAt: o.PaymentCompletedAt, RefundRequired: o.RefundRequired,
		Notes: o.Notes, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
		ShippingAddress: o.ShippingAddress,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
	}
	for _, it := range o.Items {
		out.Items = append(out.Items, orderItemResp{
			ID: it.ID, ProductID: it.ProductID, StoreID: it.StoreID,
			ProductName: it.ProductName, ProductSKU: it.ProductSKU, StoreName: it.StoreName,
			Quantity: it.Quantity, UnitPrice: it.UnitPrice.StringFixed(2), TotalPrice: it.TotalPrice.StringFixed(2),
		})
	}
	return out
}

func toOrderRow(o orders.Order) orderResp {
	out := toOrder(o)
	n := o.ItemCount
	out.ItemCount = &n
	return out
}

type initiationResp struct {
	Order          orderResp `json:"order"`
	GatewayKeyID   string    `json:"razorpay_key_id"`
	GatewayOrderID string    `json:"razorpay_order_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
}

func toInitiation(in payment.Initiation) initiationResp {
	return initiationResp{
		Order:          toOrder(in.Order),
		GatewayKeyID:   in.KeyID,
		GatewayOrderID: in.GatewayOrder.ID,
		Amount:         in.GatewayOrder.Amount,
		Currency:       in.GatewayOrder.Currency,
	}
}

type pageMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
