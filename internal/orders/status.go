package orders

import "github.com/ariefcatur/go-storefront-checkout/internal/apperr"

type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusPaid           Status = "PAID"
	StatusProcessing     Status = "PROCESSING"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusFailed         Status = "FAILED"
)

var AllStatuses = []Status{
	StatusCreated, StatusPaymentPending, StatusPaid, StatusProcessing,
	StatusShipped, StatusDelivered, StatusCancelled, StatusFailed,
}

var validNext = map[Status]map[Status]bool{
	StatusCreated:        {StatusPaymentPending: true, StatusCancelled: true},
	StatusPaymentPending: {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:           {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:     {StatusShipped: true, StatusCancelled: true},
	StatusShipped:        {StatusDelivered: true},
	StatusFailed:         {StatusPaymentPending: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Transition returns InvalidTransition when to is not reachable from from.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return apperr.InvalidTransition(string(from), string(to))
	}
	return nil
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Cancellable reports whether a customer may cancel from s.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

// ParseStatus accepts the canonical upper-case names only.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.Valid()
}
