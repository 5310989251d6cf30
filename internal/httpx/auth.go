package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const (
	PrincipalCustomer = "customer"
	PrincipalAdmin    = "admin"
)

// Claims are issued by the auth service; this API only verifies them.
type Claims struct {
	UserID int64  `json:"userId"`
	Type   string `json:"type"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Principal struct {
	ID   int64
	Type string
	Role string
}

func (p Principal) Admin() bool { return p.Type == PrincipalAdmin }

func (p Principal) Actor() orders.Actor {
	if p.Admin() {
		return orders.Actor{Admin: true}
	}
	return orders.Actor{CustomerID: p.ID}
}

type principalKey struct{}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ErrNoSigningKey rejects every token when no secret is configured.
var ErrNoSigningKey = errors.New("jwt signing key not configured")

type Authenticator struct {
	Secret []byte
	Log    *zap.Logger
}

// Authenticate requires a valid HS256 bearer token.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeError(w, r, a.Log, apperr.Unauthorized("Access token is required"))
			return
		}
		claims, err := a.parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			writeError(w, r, a.Log, apperr.Unauthorized(msg))
			return
		}
		if claims.UserID <= 0 || (claims.Type != PrincipalCustomer && claims.Type != PrincipalAdmin) {
			writeError(w, r, a.Log, apperr.Unauthorized("Invalid token"))
			return
		}
		p := Principal{ID: claims.UserID, Type: claims.Type, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func (a *Authenticator) parse(raw string) (*Claims, error) {
	if len(a.Secret) == 0 {
		return nil, ErrNoSigningKey
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Require lets through principals of the given types.
func Require(types ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, r, nil, apperr.Unauthorized("Authentication required"))
				return
			}
			for _, t := range types {
				if p.Type == t {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, nil, apperr.Forbidden("Insufficient permissions"))
		})
	}
}

func principal(r *http.Request) Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}
