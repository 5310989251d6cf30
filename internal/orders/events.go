package orders

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/money"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentFailed    = "PaymentFailed"
	EventOrderProcessing  = "OrderProcessing"
	EventOrderShipped     = "OrderShipped"
	EventOrderDelivered   = "OrderDelivered"
	EventOrderCancelled   = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "storefront-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Tracking is attached to OrderShipped.
type Tracking struct {
	Number            string `json:"tracking_number"`
	Carrier           string `json:"carrier"`
	EstimatedDelivery string `json:"estimated_delivery"` // YYYY-MM-DD
}

// LifecycleEvent is the payload of every order lifecycle envelope.
type LifecycleEvent struct {
	Type           string    `json:"type"`
	OrderID        int64     `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	CustomerID     int64     `json:"customer_id"`
	Status         Status    `json:"status"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	TotalAmount    string    `json:"total_amount"`
	Currency       string    `json:"currency"`
	ItemCount      int       `json:"item_count,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	RefundRequired bool      `json:"refund_required,omitempty"`
	Tracking       *Tracking `json:"tracking,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func newEvent(typ string, o Order, previous Status, now time.Time) LifecycleEvent {
	return LifecycleEvent{
		Type:           typ,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerID:     o.CustomerID,
		Status:         o.Status,
		PreviousStatus: previous,
		TotalAmount:    money.Round2(o.TotalAmount).StringFixed(2),
		Currency:       o.Currency,
		ItemCount:      len(o.Items),
		PaymentID:      deref(o.GatewayPaymentID),
		RefundRequired: o.RefundRequired,
		OccurredAt:     now.UTC(),
	}
}

// EventForStatus maps a newly entered status to its notification, if any.
func EventForStatus(s Status) (string, bool) {
	switch s {
	case StatusPaid:
		return EventPaymentSucceeded, true
	case StatusProcessing:
		return EventOrderProcessing, true
	case StatusShipped:
		return EventOrderShipped, true
	case StatusDelivered:
		return EventOrderDelivered, true
	case StatusCancelled:
		return EventOrderCancelled, true
	case StatusFailed:
		return EventPaymentFailed, true
	}
	return "", false
}

// NewTracking builds the shipping details sent with OrderShipped.
func NewTracking(now time.Time) *Tracking {
	return &Tracking{
		Number:            "TRK" + itoa(now.UnixMilli()),
		Carrier:           "Standard Shipping",
		EstimatedDelivery: now.Add(3 * 24 * time.Hour).UTC().Format(time.DateOnly),
	}
}
