package middleware

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/errors"
)

// maxTrackedClients bounds the per-client limiter table.
const maxTrackedClients = 65536

type rateLimit struct {
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[netip.Addr, *rate.Limiter]
}

func newRateLimit(cfg *config.RateLimit) (*rateLimit, error) {
	if cfg.Average <= 0 {
		return nil, fmt.Errorf("average must be positive")
	}
	period := cfg.Period
	if period <= 0 {
		period = time.Second
	}
	burst := int(cfg.Burst)
	if burst <= 0 {
		burst = 1
	}
	cache, err := lru.New[netip.Addr, *rate.Limiter](maxTrackedClients)
	if err != nil {
		return nil, err
	}
	return &rateLimit{
		limit:    rate.Limit(float64(cfg.Average) / period.Seconds()),
		burst:    burst,
		limiters: cache,
	}, nil
}

func (r *rateLimit) limiterFor(ip netip.Addr) *rate.Limiter {
	if l, ok := r.limiters.Get(ip); ok {
		return l
	}
	l := rate.NewLimiter(r.limit, r.burst)
	if prev, ok, _ := r.limiters.PeekOrAdd(ip, l); ok {
		return prev
	}
	return l
}

func (r *rateLimit) incoming(rc *Context) Outcome {
	res := r.limiterFor(rc.ClientIP).Reserve()
	if !res.OK() {
		return Respond(ErrorResponse(errors.ErrTooManyRequests))
	}
	delay := res.Delay()
	if delay == 0 {
		return Continue()
	}
	res.Cancel()
	resp := ErrorResponse(errors.ErrTooManyRequests)
	resp.Header.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
	return Respond(resp)
}
