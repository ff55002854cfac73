package gateway

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// callerLimits applies a token-bucket limit per caller address on mutating
// routes. A zero per-minute budget disables throttling.
type callerLimits struct {
	mu      sync.Mutex
	perMin  int
	buckets map[common.Address]*rate.Limiter
}

func newCallerLimits(perMin int) *callerLimits {
	return &callerLimits{
		perMin:  perMin,
		buckets: make(map[common.Address]*rate.Limiter),
	}
}

func (c *callerLimits) allow(caller common.Address) bool {
	if c == nil || c.perMin <= 0 {
		return true
	}
	c.mu.Lock()
	limiter, ok := c.buckets[caller]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(c.perMin)/60.0), c.perMin)
		c.buckets[caller] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}
