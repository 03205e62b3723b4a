package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/middleware"
	"github.com/Strob0t/Habitat/internal/port/cache"
)

// memCache is an in-memory cache.Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

var _ cache.Cache = (*memCache)(nil)

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// countingHandler answers with an incrementing counter and the given status.
func countingHandler(status int) (http.Handler, *int) {
	var n int
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"call":%d}`, n)
	}), &n
}

func do(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency(t *testing.T) {
	const path = "/api/v1/agents/3/actions"
	tests := []struct {
		name      string
		status    int
		method    string
		firstKey  string
		secondKey string
		wantCalls int
		replayed  bool
	}{
		{"same key replays", http.StatusOK, http.MethodPost, "k1", "k1", 1, true},
		{"rejection replays", http.StatusUnprocessableEntity, http.MethodPost, "k1", "k1", 1, true},
		{"different keys", http.StatusOK, http.MethodPost, "k1", "k2", 2, false},
		{"no key", http.StatusOK, http.MethodPost, "", "", 2, false},
		{"GET ignored", http.StatusOK, http.MethodGet, "k1", "k1", 2, false},
		{"5xx not recorded", http.StatusInternalServerError, http.MethodPost, "k1", "k1", 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemCache()
			next, calls := countingHandler(tt.status)
			h := middleware.Idempotency(store, time.Hour)(next)

			first := do(h, tt.method, path, tt.firstKey)
			second := do(h, tt.method, path, tt.secondKey)

			if *calls != tt.wantCalls {
				t.Errorf("handler calls = %d, want %d", *calls, tt.wantCalls)
			}
			if got := second.Header().Get("Idempotent-Replayed") == "true"; got != tt.replayed {
				t.Errorf("replayed = %v, want %v", got, tt.replayed)
			}
			if tt.replayed {
				if second.Code != first.Code || second.Body.String() != first.Body.String() {
					t.Errorf("replay = %d %s, want %d %s", second.Code, second.Body, first.Code, first.Body)
				}
				if second.Header().Get("Content-Type") != "application/json" {
					t.Error("replay lost headers")
				}
			}
		})
	}
}

func TestIdempotencyKeyScopedByPath(t *testing.T) {
	store := newMemCache()
	next, calls := countingHandler(http.StatusOK)
	h := middleware.Idempotency(store, time.Minute)(next)

	do(h, http.MethodPost, "/api/v1/agents/3/actions", "k1")
	do(h, http.MethodPost, "/api/v1/agents/4/actions", "k1")

	if *calls != 2 {
		t.Fatalf("handler calls = %d, want 2", *calls)
	}
	for k, ttl := range store.ttls {
		if ttl != time.Minute {
			t.Errorf("ttl for %s = %v", k, ttl)
		}
	}
}

func TestIdempotencyCorruptEntry(t *testing.T) {
	store := newMemCache()
	_ = store.Set(context.Background(), "idem.POST./x.k1", []byte("not json"), time.Minute)
	next, calls := countingHandler(http.StatusCreated)

	rec := do(middleware.Idempotency(store, time.Minute)(next), http.MethodPost, "/x", "k1")
	if *calls != 1 || rec.Code != http.StatusCreated {
		t.Fatalf("calls = %d, code = %d", *calls, rec.Code)
	}
}
