package fetcher

import (
	"context"
	"sync"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// DomainLimiter hands out a token-bucket limiter per registrable domain
// (eTLD+1), so watches on the same site are serialised even when they
// belong to different watches (spec.md §4.2/§5).
type DomainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64 // default requests/sec per domain
	perHost  map[string]float64
}

// NewDomainLimiter builds a limiter using perHost overrides (from the
// config file's rate_limits table) with defaultRPS as the fallback.
// defaultRPS <= 0 means domains with no perHost entry are not
// rate-limited at all (spec.md §4.2: "absent entries do not
// rate-limit").
func NewDomainLimiter(defaultRPS float64, perHost map[string]float64) *DomainLimiter {
	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      defaultRPS,
		perHost:  perHost,
	}
}

// Wait blocks until a token is available for host's registrable
// domain, or returns immediately if that domain has no configured
// rate limit.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	domain := registrableDomain(host)
	l := d.limiterFor(domain)
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

func (d *DomainLimiter) limiterFor(domain string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.limiters[domain]; ok {
		return l
	}
	rps := d.rps
	if r, ok := d.perHost[domain]; ok {
		rps = r
	}
	if rps <= 0 {
		d.limiters[domain] = nil
		return nil
	}
	l := rate.NewLimiter(rate.Limit(rps), 1)
	d.limiters[domain] = l
	return l
}

// registrableDomain returns host's eTLD+1, falling back to host itself
// when the public-suffix list has no opinion (e.g. bare IPs, localhost).
func registrableDomain(host string) string {
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
