package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/vaidashi/storefront-orders/internal/service"
)

// Identity headers set by the upstream authentication gateway
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"

	roleAdmin = "admin"
)

type requesterKey struct{}

func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := service.Requester{
			ID:      strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Email:   strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
			IsAdmin: strings.EqualFold(r.Header.Get(HeaderUserRole), roleAdmin),
		}

		ctx := context.WithValue(r.Context(), requesterKey{}, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requesterFrom(r *http.Request) service.Requester {
	req, _ := r.Context().Value(requesterKey{}).(service.Requester)
	return req
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := requesterFrom(r)

		switch {
		case req.ID == "":
			respondWithError(w, http.StatusUnauthorized, "Authentication required")
		case !req.IsAdmin:
			respondWithError(w, http.StatusForbidden, "Admin access required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}
