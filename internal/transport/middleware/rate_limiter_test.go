// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestOperatorRateLimiterRefills(t *testing.T) {
	l := newOperatorRateLimiter()
	id := uuid.New()
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d := l.Allow(id, 3, now)
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
		if d.Remaining != 2-i {
			t.Fatalf("request %d: expected remaining %d got %d", i, 2-i, d.Remaining)
		}
	}

	d := l.Allow(id, 3, now)
	if d.Allowed {
		t.Fatal("expected fourth request to be limited")
	}
	if d.RetryAfterSeconds < 20 || d.RetryAfterSeconds > 21 {
		t.Fatalf("expected retry after about 20s got %d", d.RetryAfterSeconds)
	}

	d = l.Allow(id, 3, now.Add(21*time.Second))
	if !d.Allowed {
		t.Fatal("expected request after refill to be allowed")
	}
}

func TestOperatorRateLimiterIsolatesOperators(t *testing.T) {
	l := newOperatorRateLimiter()
	now := time.Now()
	a, b := uuid.New(), uuid.New()

	if !l.Allow(a, 1, now).Allowed {
		t.Fatal("expected first request for a")
	}
	if l.Allow(a, 1, now).Allowed {
		t.Fatal("expected a to be limited")
	}
	if !l.Allow(b, 1, now).Allowed {
		t.Fatal("expected b to have its own budget")
	}
}

func TestOperatorRateLimiterResetsOnLimitChange(t *testing.T) {
	l := newOperatorRateLimiter()
	now := time.Now()
	id := uuid.New()

	l.Allow(id, 1, now)
	if l.Allow(id, 1, now).Allowed {
		t.Fatal("expected limit of one to be exhausted")
	}

	d := l.Allow(id, 10, now)
	if !d.Allowed || d.LimitPerMinute != 10 {
		t.Fatalf("expected fresh budget after limit change, got %+v", d)
	}
}

func TestOperatorRateLimiterDefaultsNonPositiveLimit(t *testing.T) {
	l := newOperatorRateLimiter()

	d := l.Allow(uuid.New(), 0, time.Now())
	if !d.Allowed || d.LimitPerMinute != 1 {
		t.Fatalf("expected limit to default to 1, got %+v", d)
	}
}
