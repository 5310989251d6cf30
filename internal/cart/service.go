package cart

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Catalog interface {
	Offer(ctx context.Context, productID, storeID int64) (catalog.Offer, error)
}

type Service struct {
	store   Store
	catalog Catalog
	log     *zap.Logger
}

func NewService(store Store, cat Catalog, log *zap.Logger) *Service {
	return &Service{store: store, catalog: cat, log: logx.OrNop(log)}
}

func (s *Service) GetOrCreateCart(ctx context.Context, customerID int64) (Cart, error) {
	return s.store.GetOrCreate(ctx, customerID)
}

// AddLine adds quantity of a product from a store. An existing line for the
// same (product, store) is merged: quantities are summed and the snapshot is
// refreshed to the live price.
func (s *Service) AddLine(ctx context.Context, customerID, productID, storeID int64, qty int) (Line, error) {
	if qty < 1 || qty > MaxLineQuantity {
		return Line{}, apperr.Validation("Quantity must be between 1 and %d", MaxLineQuantity)
	}
	offer, err := s.offer(ctx, productID, storeID)
	if err != nil {
		return Line{}, err
	}
	if !offer.Carried {
		return Line{}, apperr.Unavailable("Product not available in this store")
	}
	if offer.Stock < qty {
		return Line{}, apperr.InsufficientStock(offer.Stock, "Insufficient stock. Available: %d", offer.Stock)
	}

	c, err := s.store.GetOrCreate(ctx, customerID)
	if err != nil {
		return Line{}, err
	}

	live := offer.LivePrice()
	line, err := s.store.UpsertLine(ctx, c.ID, productID, storeID, func(existing *Line) (int, decimal.Decimal, error) {
		if existing == nil {
			return qty, live, nil
		}
		total := existing.Quantity + qty
		if total > offer.Stock {
			return 0, decimal.Zero, apperr.InsufficientStock(offer.Stock,
				"Cannot add %d items. Total would exceed available stock (%d)", qty, offer.Stock)
		}
		if total > MaxLineQuantity {
			return 0, decimal.Zero, apperr.Validation("Quantity cannot exceed %d per item", MaxLineQuantity)
		}
		return total, live, nil
	})
	if err != nil {
		return Line{}, err
	}
	s.log.Debug("cart line upserted",
		zap.Int64("customer_id", customerID), zap.Int64("line_id", line.ID), zap.Int("quantity", line.Quantity))
	return line, nil
}

// UpdateLine sets a line's quantity. Zero removes the line and returns
// removed=true.
func (s *Service) UpdateLine(ctx context.Context, customerID, lineID int64, qty int) (line Line, removed bool, err error) {
	if qty < 0 || qty > MaxLineQuantity {
		return Line{}, false, apperr.Validation("Quantity must be between 0 and %d", MaxLineQuantity)
	}
	if qty == 0 {
		return Line{}, true, s.RemoveLine(ctx, customerID, lineID)
	}

	c, err := s.store.GetOrCreate(ctx, customerID)
	if err != nil {
		return Line{}, false, err
	}
	existing, err := s.store.Line(ctx, c.ID, lineID)
	if errors.Is(err, ErrLineNotFound) {
		return Line{}, false, apperr.NotFound("Cart item not found")
	}
	if err != nil {
		return Line{}, false, err
	}

	offer, err := s.catalog.Offer(ctx, existing.ProductID, existing.StoreID)
	if err != nil && !errors.Is(err, catalog.ErrProductNotFound) && !errors.Is(err, catalog.ErrStoreNotFound) {
		return Line{}, false, err
	}
	if !offer.Carried || offer.Stock < qty {
		return Line{}, false, apperr.InsufficientStock(offer.Stock, "Insufficient stock. Available: %d", offer.Stock)
	}

	line, err = s.store.UpdateQuantity(ctx, c.ID, lineID, qty)
	if errors.Is(err, ErrLineNotFound) {
		return Line{}, false, apperr.NotFound("Cart item not found")
	}
	return line, false, err
}

func (s *Service) RemoveLine(ctx context.Context, customerID, lineID int64) error {
	c, err := s.store.GetOrCreate(ctx, customerID)
	if err != nil {
		return err
	}
	err = s.store.DeleteLine(ctx, c.ID, lineID)
	if errors.Is(err, ErrLineNotFound) {
		return apperr.NotFound("Cart item not found")
	}
	return err
}

func (s *Service) Clear(ctx context.Context, customerID int64) error {
	c, err := s.store.GetOrCreate(ctx, customerID)
	if err != nil {
		return err
	}
	return s.store.Clear(ctx, c.ID)
}

func (s *Service) View(ctx context.Context, customerID int64) (View, error) {
	c, err := s.store.GetOrCreate(ctx, customerID)
	if err != nil {
		return View{}, err
	}
	lines, err := s.store.Lines(ctx, c.ID)
	if err != nil {
		return View{}, err
	}
	return View{Cart: c, Lines: lines, Summary: summarize(lines)}, nil
}

func (s *Service) offer(ctx context.Context, productID, storeID int64) (catalog.Offer, error) {
	o, err := s.catalog.Offer(ctx, productID, storeID)
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		return catalog.Offer{}, apperr.NotFound("Product not found or inactive")
	case errors.Is(err, catalog.ErrStoreNotFound):
		return catalog.Offer{}, apperr.NotFound("Store not found")
	case err != nil:
		return catalog.Offer{}, err
	}
	if !o.ProductActive {
		return catalog.Offer{}, apperr.NotFound("Product not found or inactive")
	}
	return o, nil
}
