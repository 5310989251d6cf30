package httpx

import (
	"io"
	"net/http"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Payments PaymentService
	Log      *zap.Logger
}

// Register mounts the gateway callback; it is authenticated by signature,
// not by bearer token.
func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.handle)
	r.Post("/webhooks/razorpay", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, r, h.Log, apperr.Validation("Could not read webhook body"))
		return
	}
	if len(body) > maxWebhookBody {
		writeError(w, r, h.Log, apperr.Validation("Webhook body too large"))
		return
	}

	res, err := h.Payments.HandleWebhook(r.Context(), body,
		r.Header.Get("X-Razorpay-Signature"), r.Header.Get("X-Razorpay-Event-Id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, "Webhook processed", res)
}
