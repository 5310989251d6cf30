// Package notify fans order lifecycle events out to delivery sinks. Delivery
// is best-effort: sink failures are logged and counted, never returned.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"go.uber.org/zap"
)

type Sink interface {
	Name() string
	Send(ctx context.Context, ev orders.LifecycleEvent) error
}

type Dispatcher struct {
	sinks   []Sink
	metrics *metrics.Metrics
	log     *zap.Logger
	timeout time.Duration
}

func NewDispatcher(log *zap.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, metrics: m, log: logx.OrNop(log), timeout: 5 * time.Second}
}

// Notify delivers ev to every sink. It outlives the caller's cancellation so
// a finished request still gets its notification out.
func (d *Dispatcher) Notify(ctx context.Context, ev orders.LifecycleEvent) {
	for _, s := range d.sinks {
		if err := d.send(context.WithoutCancel(ctx), s, ev); err != nil {
			d.metrics.NotifyFailed(s.Name())
			d.log.Warn("notification delivery failed",
				zap.String("sink", s.Name()), zap.String("event", ev.Type),
				zap.Int64("order_id", ev.OrderID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, s Sink, ev orders.LifecycleEvent) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.Send(ctx, ev)
}
