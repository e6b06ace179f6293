package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTradeLimiter_EvictsIdleUsers(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTradeLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("alice"))
	assert.False(t, l.allow("alice"))
	assert.True(t, l.allow("bob"))
	assert.Len(t, l.limiters, 2)

	now = now.Add(_limiterIdleTTL + _limiterSweepPeriod)
	assert.True(t, l.allow("bob"))
	assert.Len(t, l.limiters, 1)
	assert.Contains(t, l.limiters, "bob")
}
