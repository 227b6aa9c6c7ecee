package server

import (
	"GasFutures/internal/observability"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
)

// RateLimit sheds requests beyond rps with 429. rps <= 0 disables it.
func RateLimit(next http.Handler, rps float64, burst int, metrics *observability.Metrics) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			if metrics != nil {
				metrics.QueryRateLimited.Inc()
			}
			w.Header().Set("Retry-After", "1")
			writeJSON(w, runtime.HTTPStatusFromCode(codes.ResourceExhausted), errorBody{
				Code:    codes.ResourceExhausted.String(),
				Message: "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
