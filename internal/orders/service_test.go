package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store. beforeApply lets a test interleave a
// competing write between the read and the conditional update.
type memStore struct {
	mu          sync.Mutex
	orders      map[int64]Order
	nextID      int64
	created     []NewOrder
	createErr   error
	beforeApply func()
}

func newMemStore() *memStore { return &memStore{orders: map[int64]Order{}} }

func (m *memStore) put(o Order) Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		m.nextID++
		o.ID = m.nextID
	}
	m.orders[o.ID] = o
	return o
}

func (m *memStore) CreateFromCart(_ context.Context, in NewOrder) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.created = append(m.created, in)
	items := make([]Item, 0, len(in.Lines))
	for _, l := range in.Lines {
		items = append(items, Item{ProductID: l.ProductID, StoreID: l.StoreID, ProductName: l.Offer.ProductName,
			Quantity: l.Quantity, UnitPrice: l.PriceSnapshot, TotalPrice: l.SnapshotTotal()})
	}
	o := m.put(Order{
		OrderNumber: "ORD-00000001-ABCDEF", CustomerID: in.CustomerID, ShippingAddressID: in.ShippingAddressID,
		Status: StatusCreated, Subtotal: in.Totals.Subtotal, TaxAmount: in.Totals.Tax,
		ShippingAmount: in.Totals.Shipping, DiscountAmount: in.Totals.Discount, TotalAmount: in.Totals.Total,
		Currency: in.Currency, Notes: in.Notes, Items: items,
	})
	return o.ID, nil
}

func (m *memStore) Get(_ context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if f.CustomerID != 0 && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

func (m *memStore) ApplyStatus(_ context.Context, u StatusUpdate) (Order, error) {
	if m.beforeApply != nil {
		m.beforeApply()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[u.OrderID]
	if !ok || o.Status != u.From {
		return Order{}, ErrStaleStatus
	}
	o.Status = u.To
	o.Version++
	if u.GatewayOrderID != nil {
		o.GatewayOrderID = u.GatewayOrderID
	}
	if u.GatewayPaymentID != nil {
		o.GatewayPaymentID = u.GatewayPaymentID
	}
	if u.GatewaySignature != nil {
		o.GatewaySignature = u.GatewaySignature
	}
	if u.To == StatusPaid && o.PaymentCompletedAt == nil {
		now := time.Now()
		o.PaymentCompletedAt = &now
	}
	if u.AppendNote != "" {
		if o.Notes != "" {
			o.Notes += "\n"
		}
		o.Notes += u.AppendNote
	}
	o.RefundRequired = o.RefundRequired || u.RefundRequired
	m.orders[o.ID] = o
	return o, nil
}

func (m *memStore) FindByGatewayOrderID(_ context.Context, gid string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID != nil && *o.GatewayOrderID == gid {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ev LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type stubValidator struct {
	v   cart.Validation
	err error
}

func (s stubValidator) Validate(context.Context, int64) (cart.Validation, error) { return s.v, s.err }

type stubAddresses map[int64]int64 // address id -> owner

func (s stubAddresses) CustomerAddress(_ context.Context, customerID, addressID int64) (catalog.Address, error) {
	if owner, ok := s[addressID]; ok && owner == customerID {
		return catalog.Address{ID: addressID, CustomerID: customerID}, nil
	}
	return catalog.Address{}, catalog.ErrNotFound
}

func validCart(lines ...cart.LineView) cart.Validation {
	view := cart.View{Cart: cart.Cart{ID: 50, CustomerID: 7}, Lines: lines}
	view.Summary.Subtotal = decimal.Zero
	for _, l := range lines {
		view.Summary.TotalItems += l.Quantity
		view.Summary.Subtotal = view.Summary.Subtotal.Add(l.SnapshotTotal())
	}
	return cart.Validation{Valid: true, Issues: []cart.Issue{}, Cart: view}
}

func cartLine(id int64, qty int, price string) cart.LineView {
	return cart.LineView{
		Line:  cart.Line{ID: id, CartID: 50, ProductID: id, StoreID: 1, Quantity: qty, PriceSnapshot: decimal.RequireFromString(price)},
		Offer: catalog.Offer{ProductID: id, ProductName: "Item", ProductActive: true, Carried: true, Stock: 99},
	}
}

type fixture struct {
	svc      *Service
	store    *memStore
	notifier *recordingNotifier
}

func newFixture(v stubValidator) fixture {
	st := newMemStore()
	n := &recordingNotifier{}
	svc := NewService(Deps{
		Store:     st,
		Carts:     v,
		Addresses: stubAddresses{3: 7},
		Notifier:  n,
		Currency:  "USD",
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	return fixture{svc: svc, store: st, notifier: n}
}

func TestCreateFromCart(t *testing.T) {
	f := newFixture(stubValidator{v: validCart(cartLine(1, 2, "30.00"), cartLine(2, 1, "45.50"))})

	o, err := f.svc.CreateFromCart(context.Background(), 7, 3, "leave at door")
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, "105.50", o.Subtotal.StringFixed(2))
	assert.Equal(t, "8.44", o.TaxAmount.StringFixed(2))
	assert.Equal(t, "0.00", o.ShippingAmount.StringFixed(2))
	assert.Equal(t, "113.94", o.TotalAmount.StringFixed(2))
	assert.Len(t, o.Items, 2)

	require.Len(t, f.store.created, 1)
	assert.Equal(t, int64(50), f.store.created[0].CartID)
	assert.Equal(t, "leave at door", f.store.created[0].Notes)
	assert.Equal(t, []string{EventOrderCreated}, f.notifier.types())
}

func TestCreateFromCart_Rejections(t *testing.T) {
	blocked := cart.Validation{Valid: false, Issues: []cart.Issue{
		{Message: `Product "A" is no longer available`},
		{Message: `Price changed for "B". Current: $12.00, Cart: $10.00`},
	}}

	cases := []struct {
		name      string
		validator stubValidator
		addressID int64
		storeErr  error
		want      apperr.Kind
	}{
		{"foreign address", stubValidator{v: validCart(cartLine(1, 1, "5.00"))}, 99, nil, apperr.KindNotFound},
		{"empty cart", stubValidator{err: apperr.EmptyCart()}, 3, nil, apperr.KindEmptyCart},
		{"invalid cart", stubValidator{v: blocked}, 3, nil, apperr.KindCheckoutBlocked},
		{"cart changed", stubValidator{v: validCart(cartLine(1, 1, "5.00"))}, 3, ErrCartChanged, apperr.KindConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(tc.validator)
			f.store.createErr = tc.storeErr

			_, err := f.svc.CreateFromCart(context.Background(), 7, tc.addressID, "")
			assert.Equal(t, tc.want, apperr.KindOf(err))
			assert.Empty(t, f.store.orders)
			assert.Empty(t, f.notifier.types())
		})
	}

	f := newFixture(stubValidator{v: blocked})
	_, err := f.svc.CreateFromCart(context.Background(), 7, 3, "")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Len(t, e.Issues, 2)
	assert.Contains(t, e.Message, `Cart validation failed: Product "A" is no longer available, Price changed`)
}

func TestGet_HidesOtherCustomersOrders(t *testing.T) {
	f := newFixture(stubValidator{})
	o := f.store.put(Order{CustomerID: 7, Status: StatusCreated})

	_, err := f.svc.Get(context.Background(), Actor{CustomerID: 8}, o.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	got, err := f.svc.Get(context.Background(), Actor{Admin: true}, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestList_ScopesCustomers(t *testing.T) {
	f := newFixture(stubValidator{})
	f.store.put(Order{CustomerID: 7, Status: StatusCreated})
	f.store.put(Order{CustomerID: 8, Status: StatusPaid})

	mine, total, err := f.svc.List(context.Background(), Actor{CustomerID: 7}, ListFilter{CustomerID: 8})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(7), mine[0].CustomerID)

	_, total, err = f.svc.List(context.Background(), Actor{Admin: true}, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, _, err = f.svc.List(context.Background(), Actor{Admin: true}, ListFilter{Status: "LOST"})
	assert.True(t, apperr.Is(err, apperr.KindValidationFailed))
}

func TestUpdateStatus_StampsPaymentOnceAndNotifies(t *testing.T) {
	f := newFixture(stubValidator{})
	o := f.store.put(Order{CustomerID: 7, Status: StatusPaymentPending})

	paid, err := f.svc.UpdateStatus(context.Background(), o.ID, StatusPaid)
	require.NoError(t, err)
	require.NotNil(t, paid.PaymentCompletedAt)
	stamped := *paid.PaymentCompletedAt

	_, err = f.svc.UpdateStatus(context.Background(), o.ID, StatusProcessing)
	require.NoError(t, err)
	shipped, err := f.svc.UpdateStatus(context.Background(), o.ID, StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, stamped, *shipped.PaymentCompletedAt)

	assert.Equal(t, []string{EventPaymentSucceeded, EventOrderProcessing, EventOrderShipped}, f.notifier.types())
	last := f.notifier.events[2]
	require.NotNil(t, last.Tracking)
	assert.Equal(t, "Standard Shipping", last.Tracking.Carrier)
	assert.Equal(t, "2024-05-04", last.Tracking.EstimatedDelivery)
}

func TestUpdateStatus_AdminCancelOfPaidOrderFlagsRefund(t *testing.T) {
	f := newFixture(stubValidator{})
	o := f.store.put(Order{CustomerID: 7, Status: StatusPaid, GatewayPaymentID: strPtr("pay_1")})

	got, err := f.svc.UpdateStatus(context.Background(), o.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.True(t, got.RefundRequired)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, EventOrderCancelled, f.notifier.events[0].Type)
	assert.Equal(t, "Order cancelled by admin", f.notifier.events[0].Reason)
	assert.True(t, f.notifier.events[0].RefundRequired)
}

func TestUpdateStatus_AdminCancelOfUnpaidOrderNeedsNoRefund(t *testing.T) {
	f := newFixture(stubValidator{})
	o := f.store.put(Order{CustomerID: 7, Status: StatusPaymentPending})

	got, err := f.svc.UpdateStatus(context.Background(), o.ID, StatusCancelled)
	require.NoError(t, err)
	assert.False(t, got.RefundRequired)
}

func TestUpdateStatus_InvalidStatusName(t *testing.T) {
	f := newFixture(stubValidator{})
	o := f.store.put(Order{CustomerID: 7, Status: StatusCreated})
	_, err := f.svc.UpdateStatus(context.Background(), o.ID, Status("shipped"))
	assert.True(t, apperr.Is(err, apperr.KindValidationFailed))
}

func TestApply_LostRaceReportsCurrentStatus(t *testing.T) {
	f := newFixture(stubValidator{})
	o := f.store.put(Order{CustomerID: 7, Status: StatusPaymentPending})

	// A webhook lands between our read and our conditional update.
	f.store.beforeApply = func() {
		f.store.beforeApply = nil
		_, err := f.store.ApplyStatus(context.Background(), StatusUpdate{OrderID: o.ID, From: StatusPaymentPending, To: StatusPaid})
		require.NoError(t, err)
	}

	_, err := f.svc.Apply(context.Background(), o, StatusUpdate{To: StatusFailed}, "")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidTransition, e.Kind)
	assert.Equal(t, "PAID", e.From)
	assert.Equal(t, "FAILED", e.To)

	got, _ := f.store.Get(context.Background(), o.ID)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Empty(t, f.notifier.types())
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("paid order with payment is flagged for refund", func(t *testing.T) {
		f := newFixture(stubValidator{})
		o := f.store.put(Order{CustomerID: 7, Status: StatusPaid, GatewayPaymentID: strPtr("pay_1"), Notes: "gift"})

		got, err := f.svc.Cancel(ctx, Actor{CustomerID: 7}, o.ID, "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.True(t, got.RefundRequired)
		assert.Equal(t, "gift\nCancellation reason: changed my mind", got.Notes)

		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, EventOrderCancelled, f.notifier.events[0].Type)
		assert.Equal(t, "changed my mind", f.notifier.events[0].Reason)
		assert.True(t, f.notifier.events[0].RefundRequired)
	})

	t.Run("created order needs no refund", func(t *testing.T) {
		f := newFixture(stubValidator{})
		o := f.store.put(Order{CustomerID: 7, Status: StatusCreated})

		got, err := f.svc.Cancel(ctx, Actor{CustomerID: 7}, o.ID, "")
		require.NoError(t, err)
		assert.False(t, got.RefundRequired)
		assert.Empty(t, got.Notes)
	})

	for _, st := range []Status{StatusShipped, StatusDelivered, StatusCancelled, StatusFailed} {
		t.Run("rejects "+string(st), func(t *testing.T) {
			f := newFixture(stubValidator{})
			o := f.store.put(Order{CustomerID: 7, Status: st})

			_, err := f.svc.Cancel(ctx, Actor{CustomerID: 7}, o.ID, "")
			assert.True(t, apperr.Is(err, apperr.KindInvalidState))
			got, _ := f.store.Get(ctx, o.ID)
			assert.Equal(t, st, got.Status)
		})
	}

	t.Run("other customer's order is not found", func(t *testing.T) {
		f := newFixture(stubValidator{})
		o := f.store.put(Order{CustomerID: 7, Status: StatusCreated})
		_, err := f.svc.Cancel(ctx, Actor{CustomerID: 9}, o.ID, "")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestStatusTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusCreated:        {StatusPaymentPending, StatusCancelled},
		StatusPaymentPending: {StatusPaid, StatusFailed, StatusCancelled},
		StatusPaid:           {StatusProcessing, StatusCancelled},
		StatusProcessing:     {StatusShipped, StatusCancelled},
		StatusShipped:        {StatusDelivered},
		StatusFailed:         {StatusPaymentPending},
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
			err := Transition(from, to)
			if want {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "%s -> %s", from, to)
			}
		}
	}
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusFailed.Terminal())
	assert.False(t, Status("UNKNOWN").Valid())
}

func TestFindByGatewayOrderID_NotFound(t *testing.T) {
	f := newFixture(stubValidator{})
	_, err := f.svc.FindByGatewayOrderID(context.Background(), "order_x")
	assert.True(t, errors.Is(err, ErrNotFound))
}
