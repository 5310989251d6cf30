package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type envelope struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
	Meta    any      `json:"meta,omitempty"`
	Issues  []string `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Status: "success", Message: message, Data: data})
}

// writeError surfaces operational errors as-is and hides everything else
// behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	if e, ok := apperr.As(err); ok {
		code := apperr.HTTPStatus(e.Kind)
		status := "fail"
		if code >= 500 {
			status = "error"
		}
		writeJSON(w, code, envelope{Status: status, Message: e.Message, Issues: e.Issues})
		return
	}
	logx.OrNop(log).Error("request failed",
		zap.String("method", r.Method), zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: "Something went wrong!"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return decode(w, r, v, false)
}

// decodeOptionalJSON leaves v untouched when the body is empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return decode(w, r, v, true)
}

func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return apperr.Validation("Invalid JSON body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("Invalid JSON body")
	}
	return nil
}
