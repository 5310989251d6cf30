package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/razorpay/razorpay-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// orderCreator is the slice of the razorpay SDK the gateway calls.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type RazorpayGateway struct {
	orders orderCreator
	cb     *gobreaker.CircuitBreaker[map[string]interface{}]
	log    *zap.Logger
}

// NewRazorpayGateway returns nil when credentials are missing; callers treat
// a nil gateway as unavailable.
func NewRazorpayGateway(keyID, keySecret string, log *zap.Logger) *RazorpayGateway {
	if keyID == "" || keySecret == "" {
		logx.OrNop(log).Warn("razorpay credentials not configured, payments disabled")
		return nil
	}
	client := razorpay.NewClient(keyID, keySecret)
	return newRazorpayGateway(client.Order, log)
}

func newRazorpayGateway(orders orderCreator, log *zap.Logger) *RazorpayGateway {
	log = logx.OrNop(log)
	cb := gobreaker.NewCircuitBreaker[map[string]interface{}](gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &RazorpayGateway{orders: orders, cb: cb, log: log}
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return GatewayOrder{}, err
	}
	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    notes,
	}

	res, err := g.cb.Execute(func() (map[string]interface{}, error) {
		return g.orders.Create(data, nil)
	})
	if err != nil {
		g.log.Error("razorpay order creation failed", zap.String("receipt", req.Receipt), zap.Error(err))
		return GatewayOrder{}, fmt.Errorf("create gateway order: %w", err)
	}

	out := GatewayOrder{
		ID:       str(res["id"]),
		Amount:   num(res["amount"]),
		Currency: str(res["currency"]),
		Receipt:  str(res["receipt"]),
		Status:   str(res["status"]),
	}
	if out.ID == "" {
		return GatewayOrder{}, fmt.Errorf("create gateway order: response without id")
	}
	g.log.Info("razorpay order created",
		zap.String("gateway_order_id", out.ID), zap.Int64("amount", out.Amount),
		zap.String("currency", out.Currency), zap.String("receipt", out.Receipt))
	return out, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
