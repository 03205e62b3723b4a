package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// AuthMiddleware wraps an http.Handler and validates the Authorization header.
// Both "Bearer <key>" and a bare key are accepted. apiKey is read per
// request so a reloaded key applies immediately. A nil apiKey, or one that
// returns "", passes all requests through (auth disabled).
//
// The configured key may be a bcrypt hash; the presented token is then
// checked against it.
func AuthMiddleware(apiKey func() string, next http.Handler) http.Handler {
	if apiKey == nil {
		return next
	}
	var v verifier
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := apiKey()
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if !v.match(want, token) {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// verifier remembers the last token that matched a bcrypt hash, so a
// backend reusing its key pays for one comparison, not one per request.
type verifier struct {
	mu          sync.Mutex
	hash, token string
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func (v *verifier) match(want, token string) bool {
	if !isBcrypt(want) {
		return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
	}
	v.mu.Lock()
	hit := v.hash == want && subtle.ConstantTimeCompare([]byte(v.token), []byte(token)) == 1
	v.mu.Unlock()
	if hit {
		return true
	}
	if bcrypt.CompareHashAndPassword([]byte(want), []byte(token)) != nil {
		return false
	}
	v.mu.Lock()
	v.hash, v.token = want, token
	v.mu.Unlock()
	return true
}

// HashKey returns the bcrypt hash of key for storing in a secrets file.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
