// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type rateLimitDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type operatorBudget struct {
	perMinute int
	limiter   *rate.Limiter
}

// operatorRateLimiter gives each operator a token bucket holding one
// minute's worth of requests and refilling continuously.
type operatorRateLimiter struct {
	mu      sync.Mutex
	budgets map[uuid.UUID]*operatorBudget
}

func newOperatorRateLimiter() *operatorRateLimiter {
	return &operatorRateLimiter{
		budgets: make(map[uuid.UUID]*operatorBudget, 32),
	}
}

func (l *operatorRateLimiter) budget(operatorID uuid.UUID, perMinute int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[operatorID]
	if !ok || b.perMinute != perMinute {
		b = &operatorBudget{
			perMinute: perMinute,
			limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		}
		l.budgets[operatorID] = b
	}
	return b.limiter
}

func (l *operatorRateLimiter) Allow(operatorID uuid.UUID, limitPerMinute int, now time.Time) rateLimitDecision {
	if limitPerMinute <= 0 {
		limitPerMinute = 1
	}

	limiter := l.budget(operatorID, limitPerMinute)
	decision := rateLimitDecision{LimitPerMinute: limitPerMinute}

	res := limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		decision.RetryAfterSeconds = max(1, int(math.Ceil(delay.Seconds())))
		return decision
	}

	decision.Allowed = true
	decision.Remaining = max(0, int(math.Floor(limiter.TokensAt(now))))
	return decision
}
