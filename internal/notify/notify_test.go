package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	err  error
	got  []orders.LifecycleEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, ev orders.LifecycleEvent) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.got = append(s.got, ev)
	return s.err
}

type panickySink struct{}

func (panickySink) Name() string { return "panicky" }
func (panickySink) Send(context.Context, orders.LifecycleEvent) error {
	panic("boom")
}

func shippedEvent() orders.LifecycleEvent {
	return orders.LifecycleEvent{
		Type: orders.EventOrderShipped, OrderID: 5, OrderNumber: "ORD-00000001-ABCDEF", CustomerID: 7,
		Status: orders.StatusShipped, PreviousStatus: orders.StatusProcessing,
		TotalAmount: "118.00", Currency: "USD",
		Tracking:   &orders.Tracking{Number: "TRK1", Carrier: "Standard Shipping", EstimatedDelivery: "2026-10-21"},
		OccurredAt: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
	}
}

func TestDispatcher_FailuresAreAbsorbedAndCounted(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	failing := &recordingSink{name: "email", err: errors.New("smtp down")}
	ok := &recordingSink{name: "log"}
	d := NewDispatcher(nil, m, failing, panickySink{}, ok)

	d.Notify(context.Background(), shippedEvent())

	assert.Len(t, ok.got, 1, "later sinks still run")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures.WithLabelValues("panicky")))
}

func TestDispatcher_IgnoresCallerCancellation(t *testing.T) {
	s := &recordingSink{name: "log"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewDispatcher(nil, nil, s).Notify(ctx, shippedEvent())

	assert.Len(t, s.got, 1)
}

type fakePublisher struct {
	accept bool
	msgs   []kafkago.Message
}

func (p *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) bool {
	if p.accept {
		p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
	}
	return p.accept
}

func TestKafkaSink_PublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{accept: true}
	sink := KafkaSink{Producer: pub, Service: "storefront-api"}

	require.NoError(t, sink.Send(context.Background(), shippedEvent()))
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, "5", string(msg.Key))
	assert.Equal(t, orders.EventOrderShipped, kafkax.Header(msg, kafkax.HeaderEventType))

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, orders.EventOrderShipped, env.EventType)
	assert.Equal(t, "storefront-api", env.Producer)
	assert.Equal(t, "5", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	ev, err := kafkax.UnwrapPayload[orders.LifecycleEvent](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "TRK1", ev.Tracking.Number)
}

func TestKafkaSink_DroppedMessageIsAnError(t *testing.T) {
	err := KafkaSink{Producer: &fakePublisher{}}.Send(context.Background(), shippedEvent())
	assert.ErrorIs(t, err, ErrPublishDropped)
}

type fakeCustomers map[int64]catalog.Customer

func (f fakeCustomers) Customer(_ context.Context, id int64) (catalog.Customer, error) {
	c, ok := f[id]
	if !ok {
		return catalog.Customer{}, catalog.ErrNotFound
	}
	return c, nil
}

type fakeMailer struct {
	sent []Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestEmailSink(t *testing.T) {
	mailer := &fakeMailer{}
	sink := EmailSink{
		Customers:   fakeCustomers{7: {ID: 7, Name: "Dana", Email: "dana@example.com"}},
		Mailer:      mailer,
		FrontendURL: "https://shop.example.com/",
	}

	require.NoError(t, sink.Send(context.Background(), shippedEvent()))
	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "dana@example.com", msg.To)
	assert.Equal(t, "Order ORD-00000001-ABCDEF has shipped", msg.Subject)
	assert.Contains(t, msg.Text, "Tracking number: TRK1 (Standard Shipping)")
	assert.Contains(t, msg.Text, "https://shop.example.com/orders/5")

	ev := shippedEvent()
	ev.CustomerID = 99
	assert.Error(t, sink.Send(context.Background(), ev))
}

func TestRender(t *testing.T) {
	ev := shippedEvent()
	ev.Type = orders.EventOrderCancelled
	ev.Reason = "Changed <mind>"
	ev.RefundRequired = true

	msg := Render(ev, "")
	assert.Equal(t, "Order ORD-00000001-ABCDEF cancelled", msg.Subject)
	assert.Contains(t, msg.Text, "Reason: Changed <mind>")
	assert.Contains(t, msg.Text, "A refund of 118.00 USD will be processed.")
	assert.Contains(t, msg.HTML, "Changed &lt;mind&gt;")
	assert.NotContains(t, msg.Text, "View your order")

	ev.Type = orders.EventPaymentFailed
	ev.Reason = "Card declined"
	assert.Contains(t, Render(ev, "").Text, "Reason: Card declined")
}

func TestPushSink_OnlyWithToken(t *testing.T) {
	sink := PushSink{Customers: fakeCustomers{7: {ID: 7}, 8: {ID: 8, PushToken: "ExponentPushToken[abc]"}}}
	assert.NoError(t, sink.Send(context.Background(), shippedEvent()))

	ev := shippedEvent()
	ev.CustomerID = 8
	assert.NoError(t, sink.Send(context.Background(), ev))
}

type memDedup map[string]bool

func (d memDedup) Claim(_ context.Context, scope, id string) (bool, error) {
	if d[scope+id] {
		return false, nil
	}
	d[scope+id] = true
	return true, nil
}

func (d memDedup) Release(_ context.Context, scope, id string) error {
	delete(d, scope+id)
	return nil
}

func TestHandler_DeliversOncePerEvent(t *testing.T) {
	sink := &recordingSink{name: "email"}
	h := &Handler{Dispatcher: NewDispatcher(nil, nil, sink), Dedup: memDedup{}}

	env := NewEnvelope("storefront-api", shippedEvent())
	msg := kafkago.Message{Value: kafkax.MustMarshal(env), Headers: kafkax.EventHeaders(env.EventType, 1)}

	require.NoError(t, h.HandleMessage(context.Background(), msg))
	require.NoError(t, h.HandleMessage(context.Background(), msg))

	require.Len(t, sink.got, 1)
	assert.Equal(t, int64(5), sink.got[0].OrderID)
}

func TestHandler_SkipsBadMessages(t *testing.T) {
	sink := &recordingSink{name: "email"}
	h := &Handler{Dispatcher: NewDispatcher(nil, nil, sink)}

	assert.NoError(t, h.HandleMessage(context.Background(), kafkago.Message{Value: []byte("not json")}))

	env := NewEnvelope("storefront-api", shippedEvent())
	v2 := kafkago.Message{Value: kafkax.MustMarshal(env), Headers: kafkax.EventHeaders(env.EventType, 2)}
	assert.NoError(t, h.HandleMessage(context.Background(), v2))

	assert.Empty(t, sink.got)
}
