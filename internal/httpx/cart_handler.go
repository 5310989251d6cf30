package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CartService interface {
	View(ctx context.Context, customerID int64) (cart.View, error)
	AddLine(ctx context.Context, customerID, productID, storeID int64, qty int) (cart.Line, error)
	UpdateLine(ctx context.Context, customerID, lineID int64, qty int) (cart.Line, bool, error)
	RemoveLine(ctx context.Context, customerID, lineID int64) error
	Clear(ctx context.Context, customerID int64) error
	Validate(ctx context.Context, customerID int64) (cart.Validation, error)
}

type CartHandler struct {
	Carts   CartService
	Timeout time.Duration
	Log     *zap.Logger
}

type addItemReq struct {
	ProductID int64 `json:"product_id"`
	StoreID   int64 `json:"store_id"`
	Quantity  *int  `json:"quantity"`
}

type updateItemReq struct {
	Quantity *int `json:"quantity"`
}

// Register mounts the cart routes; r must already authenticate callers.
func (h *CartHandler) Register(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Use(Require(PrincipalCustomer))
		r.Get("/", h.getCart)
		r.Delete("/", h.clearCart)
		r.Get("/validate", h.validateCart)
		r.Post("/items", h.addItem)
		r.Put("/items/{itemID}", h.updateItem)
		r.Delete("/items/{itemID}", h.removeItem)
	})
}

func (h *CartHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeoutOr(h.Timeout))
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := h.Carts.View(ctx, principal(r).ID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "", toCart(v))
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if req.ProductID <= 0 || req.StoreID <= 0 {
		writeError(w, r, h.Log, apperr.Validation("product_id and store_id are required"))
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	line, err := h.Carts.AddLine(ctx, principal(r).ID, req.ProductID, req.StoreID, qty)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusCreated, "Item added to cart", toLine(line))
}

func (h *CartHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req updateItemReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if req.Quantity == nil {
		writeError(w, r, h.Log, apperr.Validation("quantity is required"))
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	line, removed, err := h.Carts.UpdateLine(ctx, principal(r).ID, lineID, *req.Quantity)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if removed {
		writeData(w, http.StatusOK, "Item removed from cart", nil)
		return
	}
	writeData(w, http.StatusOK, "Cart item updated", toLine(line))
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	if err := h.Carts.RemoveLine(ctx, principal(r).ID, lineID); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "Item removed from cart", nil)
}

func (h *CartHandler) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	if err := h.Carts.Clear(ctx, principal(r).ID); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "Cart cleared successfully", nil)
}

func (h *CartHandler) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := h.Carts.Validate(ctx, principal(r).ID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "", validationResp{
		Valid:       v.Valid,
		Issues:      v.Issues,
		CartSummary: toSummary(v.Cart.Summary),
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("Invalid id")
	}
	return id, nil
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
