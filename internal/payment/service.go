// Package payment creates gateway payment intents, verifies client payment
// proofs and handles signed gateway webhooks.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"go.uber.org/zap"
)

type Orders interface {
	Get(ctx context.Context, actor orders.Actor, id int64) (orders.Order, error)
	Apply(ctx context.Context, o orders.Order, u orders.StatusUpdate, reason string) (orders.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (orders.Order, error)
}

// Deduper claims a delivery id once; Release gives it back after a failed
// attempt so the gateway's retry is processed.
type Deduper interface {
	Claim(ctx context.Context, scope, id string) (bool, error)
	Release(ctx context.Context, scope, id string) error
}

const dedupScope = "webhook"

type Deps struct {
	Orders        Orders
	Gateway       Gateway // nil when credentials are not configured
	KeyID         string
	KeySecret     string
	WebhookSecret string // falls back to KeySecret
	Dedup         Deduper
	Metrics       *metrics.Metrics
	Log           *zap.Logger
}

type Service struct {
	orders        Orders
	gateway       Gateway
	keyID         string
	keySecret     string
	webhookSecret string
	dedup         Deduper
	metrics       *metrics.Metrics
	log           *zap.Logger
}

func NewService(d Deps) *Service {
	s := &Service{
		orders:        d.Orders,
		gateway:       d.Gateway,
		keyID:         d.KeyID,
		keySecret:     d.KeySecret,
		webhookSecret: d.WebhookSecret,
		dedup:         d.Dedup,
		metrics:       d.Metrics,
		log:           logx.OrNop(d.Log),
	}
	if s.webhookSecret == "" {
		s.webhookSecret = s.keySecret
	}
	return s
}

// Initiation is returned to the client to open the gateway checkout. It
// carries the public key id, never the secret.
type Initiation struct {
	Order        orders.Order
	GatewayOrder GatewayOrder
	KeyID        string
}

// Initiate creates a gateway payment intent for a CREATED order, or for a
// FAILED order being retried, and moves it to PAYMENT_PENDING.
func (s *Service) Initiate(ctx context.Context, actor orders.Actor, orderID int64) (Initiation, error) {
	if s.gateway == nil {
		return Initiation{}, apperr.GatewayUnavailable()
	}
	o, err := s.orders.Get(ctx, actor, orderID)
	if err != nil {
		return Initiation{}, err
	}
	if o.Status != orders.StatusCreated && o.Status != orders.StatusFailed {
		return Initiation{}, apperr.InvalidState("Order is not in a state that allows payment initiation")
	}

	g, err := s.gateway.CreateOrder(ctx, CreateOrderRequest{
		Amount:   money.ToMinorUnits(o.TotalAmount),
		Currency: o.Currency,
		Receipt:  o.OrderNumber,
		Notes: map[string]string{
			"order_id":    strconv.FormatInt(o.ID, 10),
			"customer_id": strconv.FormatInt(o.CustomerID, 10),
		},
	})
	if err != nil {
		return Initiation{}, err
	}

	updated, err := s.orders.Apply(ctx, o, orders.StatusUpdate{
		To:             orders.StatusPaymentPending,
		GatewayOrderID: &g.ID,
	}, "")
	if err != nil {
		return Initiation{}, err
	}
	return Initiation{Order: updated, GatewayOrder: g, KeyID: s.keyID}, nil
}

// Verify checks the client's payment proof for an order awaiting payment.
// A bad proof fails the order; a good one marks it paid.
func (s *Service) Verify(ctx context.Context, actor orders.Actor, orderID int64, paymentID, signature string) (orders.Order, error) {
	if s.keySecret == "" {
		return orders.Order{}, apperr.GatewayUnavailable()
	}
	if paymentID == "" || signature == "" {
		return orders.Order{}, apperr.Validation("gateway_payment_id and signature are required")
	}
	o, err := s.orders.Get(ctx, actor, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if o.Status != orders.StatusPaymentPending {
		return orders.Order{}, apperr.InvalidState("Order is not awaiting payment verification")
	}
	if o.GatewayOrderID == nil || *o.GatewayOrderID == "" {
		return orders.Order{}, apperr.InvalidState("No gateway order found for this order")
	}

	ok := VerifyPaymentSignature(s.keySecret, *o.GatewayOrderID, paymentID, signature)
	s.metrics.PaymentVerified(ok)
	s.log.Info("payment signature verification",
		zap.Int64("order_id", o.ID), zap.String("gateway_order_id", *o.GatewayOrderID),
		zap.String("gateway_payment_id", paymentID), zap.Bool("valid", ok))

	if !ok {
		if _, err := s.orders.Apply(ctx, o, orders.StatusUpdate{To: orders.StatusFailed}, "Payment verification failed"); err != nil {
			s.log.Warn("could not mark order failed after bad signature", zap.Int64("order_id", o.ID), zap.Error(err))
		}
		return orders.Order{}, apperr.PaymentVerificationFailed()
	}

	return s.orders.Apply(ctx, o, orders.StatusUpdate{
		To:               orders.StatusPaid,
		GatewayPaymentID: &paymentID,
		GatewaySignature: &signature,
	}, "")
}

// HandleWebhook authenticates body against signature before parsing it,
// then acts on the event. eventID, when present, de-duplicates redeliveries.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (WebhookResult, error) {
	if s.webhookSecret == "" {
		return WebhookResult{}, apperr.GatewayUnavailable()
	}
	if signature == "" {
		return WebhookResult{}, apperr.InvalidSignature("Missing webhook signature")
	}
	if !VerifyWebhookSignature(s.webhookSecret, body, signature) {
		s.metrics.Webhook("unknown", "rejected")
		s.log.Warn("webhook signature mismatch", zap.String("event_id", eventID))
		return WebhookResult{}, apperr.InvalidSignature("Invalid webhook signature")
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookResult{}, apperr.Validation("Malformed webhook payload")
	}

	claimed := false
	if eventID != "" && s.dedup != nil {
		ok, err := s.dedup.Claim(ctx, dedupScope, eventID)
		switch {
		case err != nil:
			s.log.Warn("webhook dedup unavailable", zap.String("event_id", eventID), zap.Error(err))
		case !ok:
			s.metrics.Webhook(ev.Event, ResultDuplicate)
			return WebhookResult{Status: ResultDuplicate}, nil
		default:
			claimed = true
		}
	}

	res, err := s.dispatch(ctx, ev)
	if err != nil {
		if claimed {
			if rerr := s.dedup.Release(ctx, dedupScope, eventID); rerr != nil {
				s.log.Warn("webhook dedup release failed", zap.String("event_id", eventID), zap.Error(rerr))
			}
		}
		s.metrics.Webhook(ev.Event, "error")
		return WebhookResult{}, err
	}
	s.metrics.Webhook(ev.Event, res.Status)
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, ev WebhookEvent) (WebhookResult, error) {
	s.log.Info("processing webhook", zap.String("event", ev.Event))

	switch ev.Event {
	case EventPaymentCaptured:
		p := ev.Payload.payment()
		if p == nil {
			return ignored()
		}
		return s.settle(ctx, p.OrderID, p.ID, orders.StatusPaid, "")

	case EventOrderPaid:
		o := ev.Payload.order()
		if o == nil {
			return ignored()
		}
		paymentID := ""
		if p := ev.Payload.payment(); p != nil {
			paymentID = p.ID
		}
		return s.settle(ctx, o.ID, paymentID, orders.StatusPaid, "")

	case EventPaymentFailed:
		p := ev.Payload.payment()
		if p == nil {
			return ignored()
		}
		reason := p.ErrorDescription
		if reason == "" {
			reason = "Payment processing failed"
		}
		return s.settle(ctx, p.OrderID, "", orders.StatusFailed, reason)

	case EventRefundCreated:
		if r := ev.Payload.refund(); r != nil {
			s.log.Info("refund created",
				zap.String("refund_id", r.ID), zap.String("payment_id", r.PaymentID),
				zap.String("amount", money.FromMinorUnits(r.Amount).StringFixed(2)))
		}
		return WebhookResult{Status: ResultProcessed}, nil
	}

	s.log.Info("unhandled webhook event", zap.String("event", ev.Event))
	return ignored()
}

// settle moves the order referenced by gatewayOrderID from PAYMENT_PENDING
// to target. Unknown orders and orders not awaiting payment are ignored.
func (s *Service) settle(ctx context.Context, gatewayOrderID, paymentID string, target orders.Status, reason string) (WebhookResult, error) {
	if gatewayOrderID == "" {
		return ignored()
	}
	o, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if errors.Is(err, orders.ErrNotFound) {
		s.log.Info("webhook for unknown gateway order", zap.String("gateway_order_id", gatewayOrderID))
		return ignored()
	}
	if err != nil {
		return WebhookResult{}, err
	}
	if o.Status != orders.StatusPaymentPending {
		return ignored()
	}

	u := orders.StatusUpdate{To: target}
	if paymentID != "" && target == orders.StatusPaid {
		u.GatewayPaymentID = &paymentID
	}
	if _, err := s.orders.Apply(ctx, o, u, reason); err != nil {
		if apperr.Is(err, apperr.KindInvalidTransition) {
			return ignored()
		}
		return WebhookResult{}, err
	}
	return WebhookResult{Status: ResultProcessed}, nil
}

func ignored() (WebhookResult, error) { return WebhookResult{Status: ResultIgnored}, nil }
