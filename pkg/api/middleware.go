package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/assentworks/assent/pkg/auth"
)

// publicPaths are reachable without credentials even when auth is required.
var publicPaths = map[string]bool{
	"/health":    true,
	"/readiness": true,
}

// Identity resolves the acting party for every request: a valid bearer
// token wins, then the X-Operator-ID header, then "anonymous". A token
// that is presented but does not verify is refused outright, never
// downgraded to anonymous. With require set, non-public paths accept only
// token-authenticated callers.
func Identity(validator *auth.Validator, require bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			principal := auth.Anonymous()

			if header := r.Header.Get("Authorization"); header != "" {
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || parts[0] != "Bearer" {
					WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
					return
				}
				if validator == nil {
					WriteUnauthorized(w, "Authentication not configured")
					return
				}
				claims, err := validator.Validate(parts[1])
				if err != nil {
					WriteUnauthorized(w, "Invalid or expired token")
					return
				}
				principal = auth.Principal{ID: claims.Subject, Source: auth.SourceJWT}
			} else if operator := r.Header.Get("X-Operator-ID"); operator != "" {
				principal = auth.Principal{ID: operator, Source: auth.SourceHeader}
			}

			if require && principal.Source != auth.SourceJWT {
				WriteUnauthorized(w, "")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// ActorRateLimiter enforces a per-actor request budget. Authenticated
// actors are keyed by principal id, anonymous traffic by remote IP. Run it
// after Identity so the principal is on the context.
type ActorRateLimiter struct {
	mu     sync.Mutex
	actors map[string]*actorLimiter
	rps    rate.Limit
	burst  int
}

type actorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewActorRateLimiter allows rps requests per second with the given burst
// per actor.
func NewActorRateLimiter(rps, burst int) *ActorRateLimiter {
	rl := &ActorRateLimiter{
		actors: make(map[string]*actorLimiter),
		rps:    rate.Limit(rps),
		burst:  burst,
	}
	go rl.cleanupActors()
	return rl
}

func (rl *ActorRateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	a, ok := rl.actors[key]
	if !ok {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.actors[key] = &actorLimiter{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}
	a.lastSeen = time.Now()
	return a.limiter
}

// cleanupActors drops limiters idle for more than 3 minutes.
func (rl *ActorRateLimiter) cleanupActors() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for key, a := range rl.actors {
			if time.Since(a.lastSeen) > 3*time.Minute {
				delete(rl.actors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns a handler enforcing the limit.
func (rl *ActorRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := auth.ActorID(r.Context())
		if key == auth.AnonymousID {
			key = "ip:" + clientIP(r)
		}
		if !rl.get(key).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
