// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/craftline/production-tracker/internal/auth"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

// publicPaths are served without an operator token.
var publicPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
	"/version": true,
}

type OperatorResolver interface {
	ResolveOperator(ctx context.Context, bearerToken string) (auth.Operator, bool, error)
}

// OperatorAuth resolves the floor operator from the bearer token, applies the
// operator's request budget and stores the operator on request context.
func OperatorAuth(resolver OperatorResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return operatorAuthWithLimiter(resolver, newOperatorRateLimiter(), logger)
}

func operatorAuthWithLimiter(
	resolver OperatorResolver,
	limiter *operatorRateLimiter,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("middleware.OperatorAuth requires a resolver")
	}
	if limiter == nil {
		panic("middleware.OperatorAuth requires a limiter")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				logger.Warn("request blocked: missing operator token",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid operator token", http.StatusUnauthorized)
				return
			}

			op, found, err := resolver.ResolveOperator(r.Context(), token)
			if err != nil {
				logger.Error("operator resolution failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				http.Error(w, "auth lookup failed", http.StatusInternalServerError)
				return
			}

			if !found {
				logger.Warn("request blocked: unknown operator token",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid operator token", http.StatusUnauthorized)
				return
			}

			decision := limiter.Allow(op.ID, op.MaxRequestsPerMin, time.Now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				logger.Info("request rate limited",
					"operator", op.Name,
					"path", r.URL.Path,
				)
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			// Replace the request in place so the outer request logger sees
			// the operator after next returns.
			*r = *r.WithContext(auth.WithOperator(r.Context(), op))
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
