package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrStaleStatus means the order left the expected status before the update landed.
	ErrStaleStatus = errors.New("order status changed concurrently")
	// ErrCartChanged means the cart no longer matches the validated lines.
	ErrCartChanged = errors.New("cart changed during checkout")
)

// NewOrder is everything checkout persists in one transaction.
type NewOrder struct {
	CustomerID        int64
	ShippingAddressID int64
	CartID            int64
	Currency          string
	Notes             string
	Totals            Totals
	Lines             []cart.LineView
}

type Store interface {
	CreateFromCart(ctx context.Context, in NewOrder) (int64, error)
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	ApplyStatus(ctx context.Context, u StatusUpdate) (Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error)
}

type Repo struct {
	DB *pgxpool.Pool
	// NextNumber generates order numbers; defaults to NewOrderNumber.
	NextNumber func(time.Time) string
}

// orderCols expects the orders table aliased as o.
const orderCols = `o.id, o.order_number, o.customer_id, o.shipping_address_id, o.status, o.version,
	o.subtotal, o.tax_amount, o.shipping_amount, o.discount_amount, o.total_amount, o.currency,
	o.gateway_order_id, o.gateway_payment_id, o.gateway_signature, o.payment_completed_at, o.refund_required,
	COALESCE(o.notes, ''), o.created_at, o.updated_at`

func scanOrder(row pgx.Row, extra ...any) (Order, error) {
	var (
		o      Order
		status string
	)
	dest := []any{
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.ShippingAddressID, &status, &o.Version,
		&o.Subtotal, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount, &o.Currency,
		&o.GatewayOrderID, &o.GatewayPaymentID, &o.GatewaySignature, &o.PaymentCompletedAt, &o.RefundRequired,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

// CreateFromCart locks the cart, checks its lines still match in.Lines, then
// writes the order, its item snapshot and drains the cart atomically.
func (r *Repo) CreateFromCart(ctx context.Context, in NewOrder) (int64, error) {
	next := r.NextNumber
	if next == nil {
		next = NewOrderNumber
	}

	var orderID int64
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM carts WHERE id=$1 FOR UPDATE`, in.CartID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCartChanged
			}
			return fmt.Errorf("lock cart: %w", err)
		}
		if err := sameLines(ctx, tx, in.CartID, in.Lines); err != nil {
			return err
		}

		for attempt := 1; ; attempt++ {
			err := postgres.WithTx(ctx, tx, func(sp pgx.Tx) error {
				return sp.QueryRow(ctx, `
					INSERT INTO orders(order_number, customer_id, shipping_address_id, status,
						subtotal, tax_amount, shipping_amount, discount_amount, total_amount, currency, notes)
					VALUES ($1,$2,$3,'CREATED',$4,$5,$6,$7,$8,$9,NULLIF($10,''))
					RETURNING id`,
					next(time.Now()), in.CustomerID, in.ShippingAddressID,
					in.Totals.Subtotal, in.Totals.Tax, in.Totals.Shipping, in.Totals.Discount, in.Totals.Total,
					in.Currency, in.Notes,
				).Scan(&orderID)
			})
			if err == nil {
				break
			}
			if attempt < maxNumberAttempts && postgres.IsUniqueViolation(err, "uq_orders_order_number") {
				continue
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, l := range in.Lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(order_id, product_id, store_id, product_name, product_sku,
					quantity, unit_price, total_price)
				VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8)`,
				orderID, l.ProductID, l.StoreID, l.Offer.ProductName, l.Offer.ProductSKU,
				l.Quantity, l.PriceSnapshot, money.LineTotal(l.PriceSnapshot, l.Quantity),
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, in.CartID); err != nil {
			return fmt.Errorf("drain cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

func sameLines(ctx context.Context, tx pgx.Tx, cartID int64, want []cart.LineView) error {
	rows, err := tx.Query(ctx, `SELECT id, quantity, price_snapshot FROM cart_items WHERE cart_id=$1`, cartID)
	if err != nil {
		return fmt.Errorf("read cart lines: %w", err)
	}
	defer rows.Close()

	type snap struct {
		qty   int
		price decimal.Decimal
	}
	current := map[int64]snap{}
	for rows.Next() {
		var (
			id int64
			s  snap
		)
		if err := rows.Scan(&id, &s.qty, &s.price); err != nil {
			return err
		}
		current[id] = s
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(current) != len(want) {
		return ErrCartChanged
	}
	for _, l := range want {
		s, ok := current[l.ID]
		if !ok || s.qty != l.Quantity || !s.price.Equal(l.PriceSnapshot) {
			return ErrCartChanged
		}
	}
	return nil
}

// Get loads the order with its items, shipping address and customer contact.
func (r *Repo) Get(ctx context.Context, id int64) (Order, error) {
	var (
		addr        catalog.Address
		name, email string
	)
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		SELECT `+orderCols+`,
		       ca.id, ca.customer_id, COALESCE(ca.label, ''), COALESCE(ca.address_line1, ''), COALESCE(ca.address_line2, ''),
		       COALESCE(ca.city, ''), COALESCE(ca.state, ''), COALESCE(ca.country, ''), COALESCE(ca.postal_code, ''),
		       COALESCE(c.name, ''), COALESCE(c.email, '')
		FROM orders o
		JOIN customer_addresses ca ON ca.id = o.shipping_address_id
		JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1`, id),
		&addr.ID, &addr.CustomerID, &addr.Label, &addr.Line1, &addr.Line2,
		&addr.City, &addr.State, &addr.Country, &addr.PostalCode,
		&name, &email,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	o.ShippingAddress = &addr
	o.CustomerName, o.CustomerEmail = name, email

	o.Items, err = r.items(ctx, id)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) items(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.store_id, oi.product_name, COALESCE(oi.product_sku, ''),
		       oi.quantity, oi.unit_price, oi.total_price, COALESCE(s.name, ''), oi.created_at
		FROM order_items oi
		LEFT JOIN stores s ON s.id = oi.store_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.StoreID, &it.ProductName, &it.ProductSKU,
			&it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.StoreName, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// List returns one page of orders newest first plus the total match count.
func (r *Repo) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	f = f.normalized()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CustomerID != 0 {
		add("o.customer_id = $%d", f.CustomerID)
	}
	if f.Status != "" {
		add("o.status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("o.created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("o.created_at <= $%d", *f.To)
	}
	cond := ""
	if len(where) > 0 {
		cond = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders o `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	pageArgs := append(append([]any{}, args...), f.Limit, f.Offset)
	rows, err := r.DB.Query(ctx, fmt.Sprintf(`
		SELECT `+orderCols+`, COALESCE(c.name, ''), COALESCE(c.email, ''),
		       (SELECT COUNT(*) FROM order_items oi WHERE oi.order_id = o.id)
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		%s
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var (
			name, email string
			count       int
		)
		o, err := scanOrder(rows, &name, &email, &count)
		if err != nil {
			return nil, 0, err
		}
		o.CustomerName, o.CustomerEmail, o.ItemCount = name, email, count
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// ApplyStatus moves the order from u.From to u.To only if it is still in
// u.From, bumping its version. ErrStaleStatus reports a lost race.
func (r *Repo) ApplyStatus(ctx context.Context, u StatusUpdate) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders AS o SET
			status = $3,
			version = o.version + 1,
			updated_at = now(),
			gateway_order_id = COALESCE($4, o.gateway_order_id),
			gateway_payment_id = COALESCE($5, o.gateway_payment_id),
			gateway_signature = COALESCE($6, o.gateway_signature),
			payment_completed_at = CASE WHEN $3 = 'PAID' THEN COALESCE(o.payment_completed_at, now())
			                            ELSE o.payment_completed_at END,
			notes = CASE WHEN $7 = '' THEN o.notes
			             WHEN COALESCE(o.notes, '') = '' THEN $7
			             ELSE o.notes || E'\n' || $7 END,
			refund_required = o.refund_required OR $8
		WHERE o.id = $1 AND o.status = $2
		RETURNING `+orderCols,
		u.OrderID, string(u.From), string(u.To),
		u.GatewayOrderID, u.GatewayPaymentID, u.GatewaySignature,
		u.AppendNote, u.RefundRequired,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrStaleStatus
	}
	if err != nil {
		return Order{}, fmt.Errorf("apply status: %w", err)
	}
	return o, nil
}

func (r *Repo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		SELECT `+orderCols+` FROM orders o WHERE o.gateway_order_id = $1
		ORDER BY o.id DESC LIMIT 1`, gatewayOrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("find by gateway order: %w", err)
	}
	return o, nil
}
