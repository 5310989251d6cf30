// Package catalog reads the collaborator tables the checkout core depends on:
// products and their per-store stock and price, customer addresses and
// customer contact details. It never writes.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("catalog: product not found")
	ErrStoreNotFound   = errors.New("catalog: store not found")
	ErrNotFound        = errors.New("catalog: not found")
)

// Offer is a product as carried (or not) by one store.
type Offer struct {
	ProductID     int64
	ProductName   string
	ProductSKU    string
	ProductActive bool
	BrandName     string
	BasePrice     decimal.Decimal

	StoreID   int64
	StoreName string
	StoreCode string

	Carried    bool // a product_store row exists
	Stock      int
	StorePrice decimal.NullDecimal
}

// LivePrice is the store-specific price when set, else the product base price.
func (o Offer) LivePrice() decimal.Decimal {
	if o.StorePrice.Valid && !o.StorePrice.Decimal.IsZero() {
		return o.StorePrice.Decimal
	}
	return o.BasePrice
}

type Address struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customer_id"`
	Label      string `json:"label,omitempty"`
	Line1      string `json:"address_line1"`
	Line2      string `json:"address_line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

type Customer struct {
	ID        int64
	Name      string
	Email     string
	PushToken string
}

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Offer(ctx context.Context, productID, storeID int64) (Offer, error) {
	var (
		o        Offer
		storeRow *int64
	)
	err := r.DB.QueryRow(ctx, `
		SELECT p.id, p.name, COALESCE(p.sku, ''), p.status = 'active', COALESCE(b.name, ''), p.price,
		       s.id, COALESCE(s.name, ''), COALESCE(s.code, ''),
		       ps.id IS NOT NULL, COALESCE(ps.stock, 0), ps.price
		FROM products p
		LEFT JOIN brands b ON b.id = p.brand_id
		LEFT JOIN stores s ON s.id = $2
		LEFT JOIN product_store ps ON ps.product_id = p.id AND ps.store_id = $2
		WHERE p.id = $1`, productID, storeID).Scan(
		&o.ProductID, &o.ProductName, &o.ProductSKU, &o.ProductActive, &o.BrandName, &o.BasePrice,
		&storeRow, &o.StoreName, &o.StoreCode,
		&o.Carried, &o.Stock, &o.StorePrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, ErrProductNotFound
	}
	if err != nil {
		return Offer{}, fmt.Errorf("query offer: %w", err)
	}
	if storeRow == nil {
		return Offer{}, ErrStoreNotFound
	}
	o.StoreID = *storeRow
	return o, nil
}

// CustomerAddress returns the address only when it belongs to the customer.
func (r *Repo) CustomerAddress(ctx context.Context, customerID, addressID int64) (Address, error) {
	var a Address
	err := r.DB.QueryRow(ctx, `
		SELECT id, customer_id, COALESCE(label, ''), COALESCE(address_line1, ''), COALESCE(address_line2, ''),
		       COALESCE(city, ''), COALESCE(state, ''), COALESCE(country, ''), COALESCE(postal_code, '')
		FROM customer_addresses
		WHERE id = $1 AND customer_id = $2`, addressID, customerID).Scan(
		&a.ID, &a.CustomerID, &a.Label, &a.Line1, &a.Line2, &a.City, &a.State, &a.Country, &a.PostalCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Address{}, ErrNotFound
	}
	if err != nil {
		return Address{}, fmt.Errorf("query address: %w", err)
	}
	return a, nil
}

func (r *Repo) Customer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.DB.QueryRow(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(email, ''), COALESCE(push_token, '')
		FROM customers WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.Email, &c.PushToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("query customer: %w", err)
	}
	return c, nil
}
