package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
	"github.com/ariefcatur/go-storefront-checkout/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateFromCart(ctx context.Context, customerID, shippingAddressID int64, notes string) (orders.Order, error)
	Get(ctx context.Context, actor orders.Actor, id int64) (orders.Order, error)
	List(ctx context.Context, actor orders.Actor, f orders.ListFilter) ([]orders.Order, int, error)
	UpdateStatus(ctx context.Context, id int64, to orders.Status) (orders.Order, error)
	Cancel(ctx context.Context, actor orders.Actor, id int64, reason string) (orders.Order, error)
}

type PaymentService interface {
	Initiate(ctx context.Context, actor orders.Actor, orderID int64) (payment.Initiation, error)
	Verify(ctx context.Context, actor orders.Actor, orderID int64, paymentID, signature string) (orders.Order, error)
	HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (payment.WebhookResult, error)
}

// Idempotency remembers which order an Idempotency-Key produced.
type Idempotency interface {
	Begin(ctx context.Context, customerID int64, key string) (orderID int64, started bool, err error)
	Complete(ctx context.Context, customerID int64, key string, orderID int64) error
	Abort(ctx context.Context, customerID int64, key string) error
}

type OrdersHandler struct {
	Orders      OrderService
	Payments    PaymentService
	Idempotency Idempotency // optional
	Timeout     time.Duration
	Log         *zap.Logger
}

type createOrderReq struct {
	ShippingAddressID int64  `json:"shipping_address_id"`
	Notes             string `json:"notes"`
}

type verifyReq struct {
	GatewayPaymentID  string `json:"gateway_payment_id"`
	Signature         string `json:"signature"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type statusReq struct {
	Status orders.Status `json:"status"`
}

// Register mounts the order routes; r must already authenticate callers.
func (h *OrdersHandler) Register(r chi.Router) {
	customer := Require(PrincipalCustomer)
	admin := Require(PrincipalAdmin)

	r.Route("/orders", func(r chi.Router) {
		r.With(customer).Post("/", h.createOrder)
		r.With(customer).Get("/", h.listOrders)
		r.With(admin).Get("/admin/all", h.listAllOrders)
		r.With(Require(PrincipalCustomer, PrincipalAdmin)).Get("/{id}", h.getOrder)
		r.With(customer).Post("/{id}/payment", h.initiatePayment)
		r.With(customer).Post("/{id}/payment/verify", h.verifyPayment)
		r.With(customer).Post("/{id}/cancel", h.cancelOrder)
		r.With(admin).Patch("/{id}/status", h.updateStatus)
	})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeoutOr(h.Timeout))
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if req.ShippingAddressID <= 0 {
		writeError(w, r, h.Log, apperr.Validation("shipping_address_id is required"))
		return
	}
	if utf8.RuneCountInString(req.Notes) > 500 {
		writeError(w, r, h.Log, apperr.Validation("notes must be at most 500 characters"))
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	p := principal(r)

	key := r.Header.Get("Idempotency-Key")
	claimed := false
	if key != "" && h.Idempotency != nil {
		orderID, started, err := h.Idempotency.Begin(ctx, p.ID, key)
		switch {
		case errors.Is(err, redisx.ErrInProgress):
			writeError(w, r, h.Log, apperr.Conflict("A request with this Idempotency-Key is still in progress"))
			return
		case err != nil:
			logx.OrNop(h.Log).Warn("idempotency store unavailable", zap.String("key", key), zap.Error(err))
		case !started:
			o, err := h.Orders.Get(ctx, p.Actor(), orderID)
			if err != nil {
				writeError(w, r, h.Log, err)
				return
			}
			writeData(w, http.StatusOK, "Order already created", toOrder(o))
			return
		default:
			claimed = true
		}
	}

	o, err := h.Orders.CreateFromCart(ctx, p.ID, req.ShippingAddressID, req.Notes)
	if err != nil {
		if claimed {
			if aerr := h.Idempotency.Abort(context.WithoutCancel(ctx), p.ID, key); aerr != nil {
				logx.OrNop(h.Log).Warn("idempotency abort failed", zap.String("key", key), zap.Error(aerr))
			}
		}
		writeError(w, r, h.Log, err)
		return
	}
	if claimed {
		if cerr := h.Idempotency.Complete(context.WithoutCancel(ctx), p.ID, key, o.ID); cerr != nil {
			logx.OrNop(h.Log).Warn("idempotency complete failed", zap.String("key", key), zap.Error(cerr))
		}
	}
	writeData(w, http.StatusCreated, "Order created successfully", toOrder(o))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *OrdersHandler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request, admin bool) {
	f, err := parseListFilter(r, admin)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	rows, total, err := h.Orders.List(ctx, principal(r).Actor(), f)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	data := make([]orderResp, 0, len(rows))
	for _, o := range rows {
		data = append(data, toOrderRow(o))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = orders.DefaultPageSize
	}
	if limit > orders.MaxPageSize {
		limit = orders.MaxPageSize
	}
	writeJSON(w, http.StatusOK, envelope{
		Status: "success",
		Data:   data,
		Meta:   pageMeta{Total: total, Limit: limit, Offset: f.Offset},
	})
}

func parseListFilter(r *http.Request, admin bool) (orders.ListFilter, error) {
	q := r.URL.Query()
	var f orders.ListFilter

	if s := q.Get("status"); s != "" {
		st, ok := orders.ParseStatus(s)
		if !ok {
			return f, apperr.Validation("Invalid order status")
		}
		f.Status = st
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from_date", &f.From}, {"to_date", &f.To}} {
		if s := q.Get(p.name); s != "" {
			t, err := parseDate(s)
			if err != nil {
				return f, apperr.Validation("%s must be an ISO date", p.name)
			}
			*p.dst = &t
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, apperr.Validation("to_date must not be before from_date")
	}
	var err error
	if f.Limit, err = queryInt(q.Get("limit")); err != nil {
		return f, apperr.Validation("limit must be a positive integer")
	}
	if f.Offset, err = queryInt(q.Get("offset")); err != nil {
		return f, apperr.Validation("offset must be a positive integer")
	}
	if admin {
		id, err := queryInt(q.Get("customer_id"))
		if err != nil {
			return f, apperr.Validation("customer_id must be a positive integer")
		}
		f.CustomerID = int64(id)
	}
	return f, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return n, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.Get(ctx, principal(r).Actor(), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "", toOrder(o))
}

func (h *OrdersHandler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	in, err := h.Payments.Initiate(ctx, principal(r).Actor(), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "Payment initiated", toInitiation(in))
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req verifyReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	paymentID, sig := req.GatewayPaymentID, req.Signature
	if paymentID == "" {
		paymentID = req.RazorpayPaymentID
	}
	if sig == "" {
		sig = req.RazorpaySignature
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Payments.Verify(ctx, principal(r).Actor(), id, paymentID, sig)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "Payment verified successfully", toOrder(o))
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req cancelReq
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if utf8.RuneCountInString(req.Reason) > 255 {
		writeError(w, r, h.Log, apperr.Validation("reason must be at most 255 characters"))
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.Cancel(ctx, principal(r).Actor(), id, req.Reason)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "Order cancelled successfully", toOrder(o))
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req statusReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	to, ok := orders.ParseStatus(string(req.Status))
	if !ok {
		writeError(w, r, h.Log, apperr.Validation("Invalid order status"))
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, id, to)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "Order status updated", toOrder(o))
}
