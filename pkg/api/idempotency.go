package api

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"
)

// cachedResponse is a previously served response held for idempotent replay.
type cachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStorer is the replay cache consulted by IdempotencyMiddleware.
type IdempotencyStorer interface {
	Check(ctx context.Context, key string) (*cachedResponse, bool)
	Set(ctx context.Context, key string, statusCode int, headers http.Header, body []byte)
}

// MemoryIdempotencyStore keeps cached responses in process memory. Entries
// expire after the configured TTL and a background loop sweeps them out.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*cachedResponse
	ttl     time.Duration
	clock   func() time.Time
}

// NewIdempotencyStore creates an in-memory idempotency store.
func NewIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		entries: make(map[string]*cachedResponse),
		ttl:     ttl,
		clock:   time.Now,
	}
	go s.sweep()
	return s
}

// WithClock overrides the time source. Used by tests.
func (s *MemoryIdempotencyStore) WithClock(clock func() time.Time) *MemoryIdempotencyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

func (s *MemoryIdempotencyStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := s.clock()
		for k, v := range s.entries {
			if now.Sub(v.CachedAt) > s.ttl {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// Check returns the cached response for key when present and unexpired.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (*cachedResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.entries[key]
	if ok && s.clock().Sub(cached.CachedAt) < s.ttl {
		return cached, true
	}
	return nil, false
}

// Set records a response under key, replacing any previous entry.
func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, statusCode int, headers http.Header, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   s.clock(),
	}
}

// responseCapture wraps http.ResponseWriter to record what the handler wrote.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for mutating requests
// that repeat an Idempotency-Key. Only 2xx responses are cached, so a failed
// attempt can be retried under the same key.
func IdempotencyMiddleware(store IdempotencyStorer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if cached, ok := store.Check(r.Context(), key); ok {
				for k, vals := range cached.Headers {
					for _, v := range vals {
						w.Header().Set(k, v)
					}
				}
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.Set(r.Context(), key, capture.statusCode, w.Header().Clone(), capture.body.Bytes())
			}
		})
	}
}
