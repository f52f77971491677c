package engagement

import (
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Throttle decides whether a scroll event gets a predicate check.
// Skipped checks are caught up by the next tick.
type Throttle interface {
	Allow(now time.Time) bool
}

// RandomSampler admits a uniform random fraction of scroll events
type RandomSampler struct {
	p   float64
	rnd *rand.Rand
}

// NewRandomSampler admits events with probability p; rnd may be nil
func NewRandomSampler(p float64, rnd *rand.Rand) *RandomSampler {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomSampler{p: p, rnd: rnd}
}

func (s *RandomSampler) Allow(time.Time) bool {
	return s.rnd.Float64() < s.p
}

// RateThrottle admits at most one check per interval, evaluated at the event time
type RateThrottle struct {
	limiter *rate.Limiter
}

// NewRateThrottle allows one check every interval
func NewRateThrottle(interval time.Duration) *RateThrottle {
	return &RateThrottle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (r *RateThrottle) Allow(now time.Time) bool {
	return r.limiter.AllowN(now, 1)
}
