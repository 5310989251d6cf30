package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"go.uber.org/zap"
)

// Notifier delivers lifecycle events best-effort; it never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, ev LifecycleEvent)
}

type CartValidator interface {
	Validate(ctx context.Context, customerID int64) (cart.Validation, error)
}

type Addresses interface {
	CustomerAddress(ctx context.Context, customerID, addressID int64) (catalog.Address, error)
}

type Deps struct {
	Store     Store
	Carts     CartValidator
	Addresses Addresses
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Currency  string
	Now       func() time.Time
}

type Service struct {
	store     Store
	carts     CartValidator
	addresses Addresses
	notifier  Notifier
	metrics   *metrics.Metrics
	log       *zap.Logger
	currency  string
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		carts:     d.Carts,
		addresses: d.Addresses,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		log:       logx.OrNop(d.Log),
		currency:  d.Currency,
		now:       d.Now,
	}
	if s.currency == "" {
		s.currency = "USD"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateFromCart turns the customer's validated cart into an order and
// drains the cart in one transaction.
func (s *Service) CreateFromCart(ctx context.Context, customerID, shippingAddressID int64, notes string) (Order, error) {
	if _, err := s.addresses.CustomerAddress(ctx, customerID, shippingAddressID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Order{}, apperr.NotFound("Shipping address not found")
		}
		return Order{}, err
	}

	v, err := s.carts.Validate(ctx, customerID)
	if err != nil {
		return Order{}, err
	}
	if !v.Valid {
		return Order{}, apperr.CheckoutBlocked(v.Messages())
	}

	id, err := s.store.CreateFromCart(ctx, NewOrder{
		CustomerID:        customerID,
		ShippingAddressID: shippingAddressID,
		CartID:            v.Cart.ID,
		Currency:          s.currency,
		Notes:             notes,
		Totals:            ComputeTotals(v.Cart.Summary.Subtotal),
		Lines:             v.Cart.Lines,
	})
	if errors.Is(err, ErrCartChanged) {
		return Order{}, apperr.Conflict("Cart changed during checkout, please review it and retry")
	}
	if err != nil {
		return Order{}, err
	}

	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	s.metrics.OrderCreated()
	s.log.Info("order created",
		zap.Int64("order_id", o.ID), zap.String("order_number", o.OrderNumber),
		zap.Int64("customer_id", customerID), zap.String("total", o.TotalAmount.StringFixed(2)))
	s.notify(ctx, newEvent(EventOrderCreated, o, "", s.now()))
	return o, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id int64) (Order, error) {
	o, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Order{}, apperr.NotFound("Order not found")
	}
	if err != nil {
		return Order{}, err
	}
	if !actor.canSee(o) {
		return Order{}, apperr.NotFound("Order not found")
	}
	return o, nil
}

// List pages through orders. Customers only ever see their own.
func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("Invalid order status")
	}
	if !actor.Admin {
		f.CustomerID = actor.CustomerID
	}
	return s.store.List(ctx, f.normalized())
}

// UpdateStatus is the admin-driven transition.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, apperr.Validation("Invalid order status")
	}
	o, err := s.Get(ctx, Actor{Admin: true}, id)
	if err != nil {
		return Order{}, err
	}
	reason := ""
	switch to {
	case StatusCancelled:
		reason = "Order cancelled by admin"
	case StatusFailed:
		reason = "Payment processing failed"
	}
	return s.Apply(ctx, o, StatusUpdate{To: to}, reason)
}

// Cancel cancels an order on behalf of its customer.
func (s *Service) Cancel(ctx context.Context, actor Actor, id int64, reason string) (Order, error) {
	o, err := s.Get(ctx, actor, id)
	if err != nil {
		return Order{}, err
	}
	if !o.Status.Cancellable() {
		return Order{}, apperr.InvalidState("Order cannot be cancelled in %s status", o.Status)
	}

	u := StatusUpdate{To: StatusCancelled}
	if reason != "" {
		u.AppendNote = "Cancellation reason: " + reason
	}
	return s.Apply(ctx, o, u, reason)
}

// Apply moves o to u.To if the transition table allows it and o is still in
// the status it was read in. A lost race re-reads the order and reports
// InvalidTransition from its current status. Cancelling a paid order flags
// it for manual refund; no refund is issued here. The new status's
// notification is sent best-effort.
func (s *Service) Apply(ctx context.Context, o Order, u StatusUpdate, reason string) (Order, error) {
	if err := Transition(o.Status, u.To); err != nil {
		return Order{}, err
	}
	u.OrderID, u.From = o.ID, o.Status
	if u.To == StatusCancelled && o.Status == StatusPaid && o.GatewayPaymentID != nil {
		u.RefundRequired = true
		s.log.Warn("manual refund required for cancelled order",
			zap.Int64("order_id", o.ID), zap.String("payment_id", *o.GatewayPaymentID),
			zap.String("amount", o.TotalAmount.StringFixed(2)))
	}

	if _, err := s.store.ApplyStatus(ctx, u); err != nil {
		if !errors.Is(err, ErrStaleStatus) {
			return Order{}, err
		}
		current, gerr := s.store.Get(ctx, o.ID)
		if gerr != nil {
			return Order{}, gerr
		}
		return Order{}, apperr.InvalidTransition(string(current.Status), string(u.To))
	}

	updated, err := s.store.Get(ctx, o.ID)
	if err != nil {
		return Order{}, err
	}
	s.metrics.Transition(string(u.From), string(u.To))
	s.log.Info("order status changed",
		zap.Int64("order_id", o.ID), zap.String("from", string(u.From)), zap.String("to", string(u.To)))

	if typ, ok := EventForStatus(u.To); ok {
		now := s.now()
		ev := newEvent(typ, updated, u.From, now)
		ev.Reason = reason
		if u.To == StatusShipped {
			ev.Tracking = NewTracking(now)
		}
		s.notify(ctx, ev)
	}
	return updated, nil
}

// FindByGatewayOrderID resolves the order a gateway callback refers to.
func (s *Service) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error) {
	return s.store.FindByGatewayOrderID(ctx, gatewayOrderID)
}

func (s *Service) notify(ctx context.Context, ev LifecycleEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, ev)
}
