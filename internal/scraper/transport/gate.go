package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	okStreak       = 5
	growFactor     = 1.25
	throttleFactor = 2.0 / 3.0
)

// AdaptiveGate paces requests to one upstream. The rate grows after a streak of
// successes and drops, with a cool-off pause, whenever the upstream throttles.
// A nil gate lets every request through.
type AdaptiveGate struct {
	mu        sync.Mutex
	lim       *rate.Limiter
	curr      rate.Limit
	min, max  rate.Limit
	okCount   int
	coolOff   time.Duration
	coolUntil time.Time
}

// NewAdaptiveGate creates a gate starting at start requests per second, kept within
// [min, max].
func NewAdaptiveGate(start, min, max float64, coolOff time.Duration) *AdaptiveGate {
	if min <= 0 {
		min = 0.1
	}
	if max < min {
		max = min
	}
	start = clamp(start, min, max)
	return &AdaptiveGate{
		lim:     rate.NewLimiter(rate.Limit(start), 1),
		curr:    rate.Limit(start),
		min:     rate.Limit(min),
		max:     rate.Limit(max),
		coolOff: coolOff,
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

// Wait blocks until the next request may be sent.
func (g *AdaptiveGate) Wait(ctx context.Context) error {
	if g == nil {
		return ctx.Err()
	}
	g.mu.Lock()
	cool := g.coolUntil
	lim := g.lim
	g.mu.Unlock()

	if d := time.Until(cool); d > 0 {
		d += time.Duration(rand.Intn(100)) * time.Millisecond
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lim.Wait(ctx)
}

// OnOK records a successful response.
func (g *AdaptiveGate) OnOK() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.okCount++
	if g.okCount < okStreak {
		return
	}
	g.okCount = 0
	n := min(rate.Limit(float64(g.curr)*growFactor), g.max)
	if n != g.curr {
		log.Debugf("Adaptive gate: rate %.2f -> %.2f req/s", float64(g.curr), float64(n))
		g.curr = n
		g.lim.SetLimit(n)
	}
}

// OnThrottle records a throttled or blocked response.
func (g *AdaptiveGate) OnThrottle() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := max(rate.Limit(float64(g.curr)*throttleFactor), g.min)
	if n != g.curr {
		log.Warnf("Adaptive gate: throttled, rate %.2f -> %.2f req/s", float64(g.curr), float64(n))
		g.curr = n
		g.lim.SetLimit(n)
	}
	g.okCount = 0
	g.coolUntil = time.Now().Add(g.coolOff)
}

// Limit is the current rate in requests per second.
func (g *AdaptiveGate) Limit() float64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return float64(g.curr)
}
