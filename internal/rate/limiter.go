package rate

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultMaxPeers = 4096
	defaultIdle     = time.Hour
)

// PerPeer paces outbound attempts per peer key (usually "addr:port").
// Idle limiters are evicted by the LRU, so the set stays bounded.
type PerPeer struct {
	mu        sync.Mutex
	perSecond float64
	burst     int
	lru       *expirable.LRU[string, *rate.Limiter]
}

// New returns a limiter allowing perSecond attempts per peer with the given
// burst. A non-positive perSecond disables pacing.
func New(perSecond float64, burst int) *PerPeer {
	if burst < 1 {
		burst = 1
	}
	return &PerPeer{
		perSecond: perSecond,
		burst:     burst,
		lru:       expirable.NewLRU[string, *rate.Limiter](defaultMaxPeers, nil, defaultIdle),
	}
}

func (p *PerPeer) limiter(peer string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.lru.Get(peer); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.perSecond), p.burst)
	p.lru.Add(peer, l)
	return l
}

func (p *PerPeer) Allow(peer string) bool {
	if p.perSecond <= 0 {
		return true
	}
	return p.limiter(peer).Allow()
}

// Wait blocks until peer may be contacted or ctx is done.
func (p *PerPeer) Wait(ctx context.Context, peer string) error {
	if p.perSecond <= 0 {
		return ctx.Err()
	}
	return p.limiter(peer).Wait(ctx)
}

// Len reports how many peers currently hold a limiter.
func (p *PerPeer) Len() int { return p.lru.Len() }
