//go:build integration

package orders

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("storefront"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn))

	db, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

type seeded struct {
	customerID, addressID, cartID, productID, storeID int64
}

// seed creates one customer with an address and a cart holding 2 units of a
// 19.99 product.
func seed(t *testing.T, db *pgxpool.Pool) seeded {
	t.Helper()
	ctx := context.Background()
	var s seeded

	q := func(sql string, dst *int64, args ...any) {
		require.NoError(t, db.QueryRow(ctx, sql, args...).Scan(dst))
	}
	q(`INSERT INTO customers(email, name) VALUES ('dana@example.com', 'Dana') RETURNING id`, &s.customerID)
	q(`INSERT INTO customer_addresses(customer_id, label, address_line1, city, country, postal_code)
	   VALUES ($1, 'Home', '1 Main St', 'Springfield', 'US', '12345') RETURNING id`, &s.addressID, s.customerID)
	q(`INSERT INTO products(name, sku, price) VALUES ('Widget', 'W-1', 19.99) RETURNING id`, &s.productID)
	q(`INSERT INTO stores(name, code) VALUES ('Downtown', 'DT') RETURNING id`, &s.storeID)
	_, err := db.Exec(ctx, `INSERT INTO product_store(product_id, store_id, stock) VALUES ($1, $2, 10)`, s.productID, s.storeID)
	require.NoError(t, err)
	q(`INSERT INTO carts(customer_id) VALUES ($1) RETURNING id`, &s.cartID, s.customerID)
	_, err = db.Exec(ctx, `INSERT INTO cart_items(cart_id, product_id, store_id, quantity, price_snapshot)
		VALUES ($1, $2, $3, 2, 19.99)`, s.cartID, s.productID, s.storeID)
	require.NoError(t, err)
	return s
}

func newOrderFromCart(t *testing.T, db *pgxpool.Pool, s seeded) NewOrder {
	t.Helper()
	lines, err := (&cart.Repo{DB: db}).Lines(context.Background(), s.cartID)
	require.NoError(t, err)
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.SnapshotTotal())
	}
	return NewOrder{
		CustomerID:        s.customerID,
		ShippingAddressID: s.addressID,
		CartID:            s.cartID,
		Currency:          "USD",
		Totals:            ComputeTotals(subtotal),
		Lines:             lines,
	}
}

func countRows(t *testing.T, db *pgxpool.Pool, sql string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), sql, args...).Scan(&n))
	return n
}

func TestRepo_CreateFromCart(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)
	repo := &Repo{DB: db}
	ctx := context.Background()

	id, err := repo.CreateFromCart(ctx, newOrderFromCart(t, db, s))
	require.NoError(t, err)

	o, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, "39.98", o.Subtotal.StringFixed(2))
	assert.Equal(t, "3.20", o.TaxAmount.StringFixed(2))
	assert.Equal(t, "10.00", o.ShippingAmount.StringFixed(2))
	assert.Equal(t, "53.18", o.TotalAmount.StringFixed(2))
	assert.Nil(t, o.GatewayPaymentID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Widget", o.Items[0].ProductName)
	assert.Equal(t, "Downtown", o.Items[0].StoreName)
	assert.Equal(t, "39.98", o.Items[0].TotalPrice.StringFixed(2))
	require.NotNil(t, o.ShippingAddress)
	assert.Equal(t, "Springfield", o.ShippingAddress.City)
	assert.Equal(t, "dana@example.com", o.CustomerEmail)

	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM cart_items WHERE cart_id=$1`, s.cartID))
}

func TestRepo_CreateFromCart_RollsBackOnItemFailure(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)
	repo := &Repo{DB: db}

	in := newOrderFromCart(t, db, s)
	in.Lines[0].Offer.ProductName = strings.Repeat("x", 300) // exceeds order_items.product_name

	_, err := repo.CreateFromCart(context.Background(), in)
	require.Error(t, err)

	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM orders`))
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM order_items`))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM cart_items WHERE cart_id=$1 AND quantity=2`, s.cartID))
}

func TestRepo_CreateFromCart_CartChanged(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)
	repo := &Repo{DB: db}
	in := newOrderFromCart(t, db, s)

	_, err := db.Exec(context.Background(), `UPDATE cart_items SET quantity=3 WHERE cart_id=$1`, s.cartID)
	require.NoError(t, err)

	_, err = repo.CreateFromCart(context.Background(), in)
	assert.ErrorIs(t, err, ErrCartChanged)
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM orders`))
}

func TestRepo_CreateFromCart_RetriesOrderNumberCollision(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)
	ctx := context.Background()

	first := &Repo{DB: db, NextNumber: func(time.Time) string { return "ORD-00000001-AAAAAA" }}
	_, err := first.CreateFromCart(ctx, newOrderFromCart(t, db, s))
	require.NoError(t, err)

	_, err = db.Exec(ctx, `INSERT INTO cart_items(cart_id, product_id, store_id, quantity, price_snapshot)
		VALUES ($1, $2, $3, 1, 19.99)`, s.cartID, s.productID, s.storeID)
	require.NoError(t, err)

	numbers := []string{"ORD-00000001-AAAAAA", "ORD-00000001-AAAAAA", "ORD-00000002-BBBBBB"}
	calls := 0
	second := &Repo{DB: db, NextNumber: func(time.Time) string {
		n := numbers[calls]
		calls++
		return n
	}}
	id, err := second.CreateFromCart(ctx, newOrderFromCart(t, db, s))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	o, err := second.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ORD-00000002-BBBBBB", o.OrderNumber)
	require.Len(t, o.Items, 1)
}

func TestRepo_CreateFromCart_GivesUpAfterThreeCollisions(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)
	ctx := context.Background()
	same := &Repo{DB: db, NextNumber: func(time.Time) string { return "ORD-00000001-AAAAAA" }}

	_, err := same.CreateFromCart(ctx, newOrderFromCart(t, db, s))
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO cart_items(cart_id, product_id, store_id, quantity, price_snapshot)
		VALUES ($1, $2, $3, 1, 19.99)`, s.cartID, s.productID, s.storeID)
	require.NoError(t, err)

	_, err = same.CreateFromCart(ctx, newOrderFromCart(t, db, s))
	assert.True(t, postgres.IsUniqueViolation(err, "uq_orders_order_number"))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM cart_items WHERE cart_id=$1`, s.cartID))
}

func TestRepo_ApplyStatus(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)
	repo := &Repo{DB: db}
	ctx := context.Background()

	id, err := repo.CreateFromCart(ctx, newOrderFromCart(t, db, s))
	require.NoError(t, err)

	o, err := repo.ApplyStatus(ctx, StatusUpdate{OrderID: id, From: StatusCreated, To: StatusPaymentPending,
		GatewayOrderID: strPtr("order_Gw1")})
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, o.Status)
	assert.Equal(t, 1, o.Version)

	_, err = repo.ApplyStatus(ctx, StatusUpdate{OrderID: id, From: StatusCreated, To: StatusPaymentPending})
	assert.ErrorIs(t, err, ErrStaleStatus)

	paid, err := repo.ApplyStatus(ctx, StatusUpdate{OrderID: id, From: StatusPaymentPending, To: StatusPaid,
		GatewayPaymentID: strPtr("pay_1")})
	require.NoError(t, err)
	require.NotNil(t, paid.PaymentCompletedAt)
	assert.Equal(t, "order_Gw1", *paid.GatewayOrderID)

	cancelled, err := repo.ApplyStatus(ctx, StatusUpdate{OrderID: id, From: StatusPaid, To: StatusCancelled,
		AppendNote: "Cancellation reason: changed mind", RefundRequired: true})
	require.NoError(t, err)
	assert.True(t, cancelled.RefundRequired)
	assert.Equal(t, "Cancellation reason: changed mind", cancelled.Notes)
	assert.True(t, paid.PaymentCompletedAt.Equal(*cancelled.PaymentCompletedAt))

	found, err := repo.FindByGatewayOrderID(ctx, "order_Gw1")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	_, err = repo.FindByGatewayOrderID(ctx, "order_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_List(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)
	repo := &Repo{DB: db}
	ctx := context.Background()

	id, err := repo.CreateFromCart(ctx, newOrderFromCart(t, db, s))
	require.NoError(t, err)

	rows, total, err := repo.List(ctx, ListFilter{CustomerID: s.customerID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	assert.Equal(t, 1, rows[0].ItemCount)

	_, total, err = repo.List(ctx, ListFilter{Status: StatusPaid})
	require.NoError(t, err)
	assert.Zero(t, total)

	future := time.Now().Add(time.Hour)
	_, total, err = repo.List(ctx, ListFilter{From: &future})
	require.NoError(t, err)
	assert.Zero(t, total)
}
