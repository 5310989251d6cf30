package payment

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
	EventRefundCreated   = "refund.created"
)

const (
	ResultProcessed = "processed"
	ResultIgnored   = "ignored"
	ResultDuplicate = "duplicate"
)

type WebhookEvent struct {
	Event   string         `json:"event"`
	Payload WebhookPayload `json:"payload"`
}

type WebhookPayload struct {
	Payment *struct {
		Entity PaymentEntity `json:"entity"`
	} `json:"payment,omitempty"`
	Order *struct {
		Entity OrderEntity `json:"entity"`
	} `json:"order,omitempty"`
	Refund *struct {
		Entity RefundEntity `json:"entity"`
	} `json:"refund,omitempty"`
}

type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
}

type OrderEntity struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Receipt string `json:"receipt"`
	Status  string `json:"status"`
}

type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type WebhookResult struct {
	Status string `json:"status"`
}

func (p WebhookPayload) payment() *PaymentEntity {
	if p.Payment == nil {
		return nil
	}
	return &p.Payment.Entity
}

func (p WebhookPayload) order() *OrderEntity {
	if p.Order == nil {
		return nil
	}
	return &p.Order.Entity
}

func (p WebhookPayload) refund() *RefundEntity {
	if p.Refund == nil {
		return nil
	}
	return &p.Refund.Entity
}
