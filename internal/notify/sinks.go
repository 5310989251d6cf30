package notify

import (
	"context"
	"errors"
	"time"

	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const eventVersion = 1

// LogSink records every event in the service log.
type LogSink struct {
	Log *zap.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, ev orders.LifecycleEvent) error {
	logx.OrNop(s.Log).Info("order lifecycle event",
		zap.String("event", ev.Type), zap.Int64("order_id", ev.OrderID),
		zap.String("order_number", ev.OrderNumber), zap.String("status", string(ev.Status)),
		zap.String("previous_status", string(ev.PreviousStatus)), zap.String("reason", ev.Reason))
	return nil
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) bool
}

var ErrPublishDropped = errors.New("lifecycle event not accepted by producer")

// KafkaSink publishes envelopes on the lifecycle topic, keyed by order id.
type KafkaSink struct {
	Producer Publisher
	Service  string
}

func (KafkaSink) Name() string { return "kafka" }

func (s KafkaSink) Send(_ context.Context, ev orders.LifecycleEvent) error {
	env := NewEnvelope(s.Service, ev)
	if !s.Producer.Publish(orders.PartitionKey(ev.OrderID), kafkax.MustMarshal(env),
		kafkax.EventHeaders(ev.Type, eventVersion)...) {
		return ErrPublishDropped
	}
	return nil
}

func NewEnvelope(producer string, ev orders.LifecycleEvent) orders.Envelope {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  eventVersion,
		OccurredAt:    occurred,
		Producer:      producer,
		CorrelationID: orders.PartitionKeyString(ev.OrderID),
		Payload:       kafkax.MustMarshal(ev),
	}
}

// PushSink stands in for a mobile push transport: it logs what would be sent
// to customers that registered a device token.
type PushSink struct {
	Customers Customers
	Log       *zap.Logger
}

func (PushSink) Name() string { return "push" }

func (s PushSink) Send(ctx context.Context, ev orders.LifecycleEvent) error {
	c, err := s.Customers.Customer(ctx, ev.CustomerID)
	if err != nil {
		return err
	}
	if c.PushToken == "" {
		return nil
	}
	msg := Render(ev, "")
	logx.OrNop(s.Log).Info("push notification",
		zap.String("token", logx.MaskRecipient(c.PushToken)),
		zap.String("title", msg.Subject), zap.Int64("order_id", ev.OrderID))
	return nil
}
