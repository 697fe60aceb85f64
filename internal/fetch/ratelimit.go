package fetch

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pagesift/pagesift/internal/urlnorm"
)

var errBadRate = errors.New("requests per second must be positive")

// DomainLimiter enforces a per-domain request rate. Each domain gets its
// own token bucket so one slow host never throttles the rest.
type DomainLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewDomainLimiter builds a limiter allowing rps requests per second per
// domain.
func NewDomainLimiter(rps float64) (*DomainLimiter, error) {
	if rps <= 0 {
		return nil, errBadRate
	}

	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    1,
	}, nil
}

// Wait blocks until the URL's domain may be fetched, or the context ends.
func (d *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	return d.limiterFor(urlnorm.Domain(rawURL)).Wait(ctx)
}

func (d *DomainLimiter) limiterFor(domain string) *rate.Limiter {
	d.mu.RLock()
	limiter, ok := d.limiters[domain]
	d.mu.RUnlock()

	if ok {
		return limiter
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check under the write lock.
	if limiter, ok = d.limiters[domain]; ok {
		return limiter
	}

	limiter = rate.NewLimiter(d.rps, d.burst)
	d.limiters[domain] = limiter

	return limiter
}
