package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DailyBudget caps how many requests a paid backend may receive per day.
// A max of 0 means unlimited.
type DailyBudget struct {
	mu        sync.Mutex
	name      string
	used      int
	max       int
	resetTime time.Time
	now       func() time.Time
}

func NewDailyBudget(name string, max int) *DailyBudget {
	return newDailyBudget(name, max, time.Now)
}

func newDailyBudget(name string, max int, now func() time.Time) *DailyBudget {
	return &DailyBudget{
		name:      name,
		max:       max,
		now:       now,
		resetTime: now().Add(24 * time.Hour),
	}
}

// CanUse reports whether another request fits in today's budget.
func (b *DailyBudget) CanUse() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	if b.max > 0 && b.used >= b.max {
		slog.Warn("daily budget reached", "backend", b.name, "used", b.used, "limit", b.max)
		return false
	}
	return true
}

// Use consumes one request from the budget.
func (b *DailyBudget) Use() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	if b.max > 0 && b.used >= b.max {
		return fmt.Errorf("%s daily budget exceeded (%d/%d)", b.name, b.used, b.max)
	}

	b.used++
	slog.Debug("budget usage", "backend", b.name, "used", b.used, "limit", b.max)
	return nil
}

func (b *DailyBudget) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		b.name + "_used":  b.used,
		b.name + "_limit": b.max,
		"reset_time":      b.resetTime.Format(time.RFC3339),
	}
}

// checkReset resets counters if reset time has passed
func (b *DailyBudget) checkReset() {
	if b.now().After(b.resetTime) {
		slog.Info("resetting daily budget", "backend", b.name, "used", b.used)
		b.used = 0
		b.resetTime = b.now().Add(24 * time.Hour)
	}
}
