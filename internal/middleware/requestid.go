// Package middleware provides HTTP middleware for Habitat.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/Habitat/internal/logger"
)

// HeaderRequestID carries the request id on HTTP requests and NATS messages.
const HeaderRequestID = "X-Request-ID"

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
