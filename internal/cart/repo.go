package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrLineNotFound = errors.New("cart line not found")
	ErrCartNotFound = errors.New("cart not found")
)

// MergeFunc decides the quantity and price snapshot to persist for a
// (product, store) line. existing is nil when the cart has no such line yet.
type MergeFunc func(existing *Line) (qty int, snapshot decimal.Decimal, err error)

type Store interface {
	GetOrCreate(ctx context.Context, customerID int64) (Cart, error)
	UpsertLine(ctx context.Context, cartID, productID, storeID int64, merge MergeFunc) (Line, error)
	Line(ctx context.Context, cartID, lineID int64) (Line, error)
	UpdateQuantity(ctx context.Context, cartID, lineID int64, qty int) (Line, error)
	DeleteLine(ctx context.Context, cartID, lineID int64) error
	Clear(ctx context.Context, cartID int64) error
	Lines(ctx context.Context, cartID int64) ([]LineView, error)
}

type Repo struct{ DB *pgxpool.Pool }

const lineCols = `id, cart_id, product_id, store_id, quantity, price_snapshot, created_at, updated_at`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.CartID, &l.ProductID, &l.StoreID, &l.Quantity, &l.PriceSnapshot, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *Repo) GetOrCreate(ctx context.Context, customerID int64) (Cart, error) {
	var c Cart
	err := r.DB.QueryRow(ctx, `
		INSERT INTO carts(customer_id) VALUES ($1)
		ON CONFLICT ON CONSTRAINT uq_carts_customer DO UPDATE SET customer_id = EXCLUDED.customer_id
		RETURNING id, customer_id, created_at, updated_at`, customerID).
		Scan(&c.ID, &c.CustomerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Cart{}, fmt.Errorf("get or create cart: %w", err)
	}
	return c, nil
}

// UpsertLine serialises writers on the cart row, then merges into the
// existing (product, store) line or inserts a new one. An insert that still
// loses to the unique index is retried once as a merge.
func (r *Repo) UpsertLine(ctx context.Context, cartID, productID, storeID int64, merge MergeFunc) (Line, error) {
	var out Line
	attempt := func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx, `SELECT id FROM carts WHERE id=$1 FOR UPDATE`, cartID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCartNotFound
		}
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}

		var existing *Line
		l, err := scanLine(tx.QueryRow(ctx, `SELECT `+lineCols+` FROM cart_items
			WHERE cart_id=$1 AND product_id=$2 AND store_id=$3`, cartID, productID, storeID))
		switch {
		case err == nil:
			existing = &l
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("find line: %w", err)
		}

		qty, snapshot, err := merge(existing)
		if err != nil {
			return err
		}

		if existing != nil {
			out, err = scanLine(tx.QueryRow(ctx, `
				UPDATE cart_items SET quantity=$2, price_snapshot=$3, updated_at=now()
				WHERE id=$1 RETURNING `+lineCols, existing.ID, qty, snapshot))
			if err != nil {
				return fmt.Errorf("merge line: %w", err)
			}
			return nil
		}
		out, err = scanLine(tx.QueryRow(ctx, `
			INSERT INTO cart_items(cart_id, product_id, store_id, quantity, price_snapshot)
			VALUES ($1,$2,$3,$4,$5) RETURNING `+lineCols, cartID, productID, storeID, qty, snapshot))
		if err != nil {
			return fmt.Errorf("insert line: %w", err)
		}
		return nil
	}

	err := postgres.WithTx(ctx, r.DB, attempt)
	if postgres.IsUniqueViolation(err, "unique_cart_product_store") {
		err = postgres.WithTx(ctx, r.DB, attempt)
	}
	if err != nil {
		return Line{}, err
	}
	return out, nil
}

func (r *Repo) Line(ctx context.Context, cartID, lineID int64) (Line, error) {
	l, err := scanLine(r.DB.QueryRow(ctx, `SELECT `+lineCols+` FROM cart_items WHERE id=$1 AND cart_id=$2`, lineID, cartID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, ErrLineNotFound
	}
	if err != nil {
		return Line{}, fmt.Errorf("get line: %w", err)
	}
	return l, nil
}

func (r *Repo) UpdateQuantity(ctx context.Context, cartID, lineID int64, qty int) (Line, error) {
	l, err := scanLine(r.DB.QueryRow(ctx, `
		UPDATE cart_items SET quantity=$3, updated_at=now()
		WHERE id=$1 AND cart_id=$2 RETURNING `+lineCols, lineID, cartID, qty))
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, ErrLineNotFound
	}
	if err != nil {
		return Line{}, fmt.Errorf("update line: %w", err)
	}
	return l, nil
}

func (r *Repo) DeleteLine(ctx context.Context, cartID, lineID int64) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE id=$1 AND cart_id=$2`, lineID, cartID)
	if err != nil {
		return fmt.Errorf("delete line: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *Repo) Clear(ctx context.Context, cartID int64) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Lines returns the cart's lines newest first, joined with live catalog data.
func (r *Repo) Lines(ctx context.Context, cartID int64) ([]LineView, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.store_id, ci.quantity, ci.price_snapshot, ci.created_at, ci.updated_at,
		       p.name, COALESCE(p.sku, ''), p.status = 'active', COALESCE(b.name, ''), p.price,
		       s.name, s.code,
		       ps.id IS NOT NULL, COALESCE(ps.stock, 0), ps.price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		LEFT JOIN brands b ON b.id = p.brand_id
		JOIN stores s ON s.id = ci.store_id
		LEFT JOIN product_store ps ON ps.product_id = ci.product_id AND ps.store_id = ci.store_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at DESC, ci.id DESC`, cartID)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	var out []LineView
	for rows.Next() {
		var v LineView
		if err := rows.Scan(
			&v.ID, &v.CartID, &v.ProductID, &v.StoreID, &v.Quantity, &v.PriceSnapshot, &v.CreatedAt, &v.UpdatedAt,
			&v.Offer.ProductName, &v.Offer.ProductSKU, &v.Offer.ProductActive, &v.Offer.BrandName, &v.Offer.BasePrice,
			&v.Offer.StoreName, &v.Offer.StoreCode,
			&v.Offer.Carried, &v.Offer.Stock, &v.Offer.StorePrice,
		); err != nil {
			return nil, err
		}
		v.Offer.ProductID = v.ProductID
		v.Offer.StoreID = v.StoreID
		out = append(out, v)
	}
	return out, rows.Err()
}
