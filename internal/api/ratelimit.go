package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

const (
	_limiterIdleTTL     = 10 * time.Minute
	_limiterSweepPeriod = time.Minute
)

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// tradeLimiter throttles trade requests per user id. Limiters idle for
// longer than _limiterIdleTTL are dropped on the next sweep.
type tradeLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*userLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newTradeLimiter(perSecond float64, burst int) *tradeLimiter {
	return &tradeLimiter{
		limiters: make(map[string]*userLimiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *tradeLimiter) allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > _limiterSweepPeriod {
		for id, ul := range l.limiters {
			if now.Sub(ul.lastSeen) > _limiterIdleTTL {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}

	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

func (a *API) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.allow(mux.Vars(r)["userID"]) {
			a.respondError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many trades, slow down")
			return
		}
		next(w, r)
	}
}
