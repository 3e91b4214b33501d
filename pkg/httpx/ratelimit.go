package httpx

import (
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests with 429 once the token bucket is
// empty. A non-positive rps disables limiting. Paths listed in exempt (for
// example health and metrics endpoints) are never limited.
func RateLimitMiddleware(rps float64, burst int, exempt ...string) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	retryAfter := "1"
	if rps < 1 {
		retryAfter = strconv.Itoa(int(1/rps) + 1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !skip[r.URL.Path] && !limiter.Allow() {
				w.Header().Set("Retry-After", retryAfter)
				WriteErrorMessage(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
