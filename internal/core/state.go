// Package core owns the process state behind the boundary: one threat cache
// behind one exclusive lock, its refresh scheduler, the peer prober and the
// packet-filter hook.
//
// A panic while the lock is held poisons the state. From then on every
// operation fails with ErrLockUnavailable instead of reading a cache that may
// be half-written.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/orasrs/orasrs-core/internal/addr"
	"github.com/orasrs/orasrs-core/internal/cache"
	"github.com/orasrs/orasrs-core/internal/filter"
	"github.com/orasrs/orasrs-core/internal/metrics"
	"github.com/orasrs/orasrs-core/internal/probe"
	"github.com/orasrs/orasrs-core/internal/refresh"
	"github.com/orasrs/orasrs-core/internal/types"
	"github.com/orasrs/orasrs-core/internal/upstream"
)

var (
	ErrInvalidInput    = errors.New("core: invalid input")
	ErrLockUnavailable = errors.New("core: cache state unavailable")
	ErrNotInitialized  = errors.New("core: not initialized")
)

// DefaultInitialFetchTimeout bounds the node fetch Start runs before
// returning to the host.
const DefaultInitialFetchTimeout = 3 * time.Second

type Options struct {
	Endpoint            types.EndpointIdentity
	TTLSeconds          int64
	RefreshInterval     time.Duration
	Source              upstream.Source
	Prober              *probe.Prober
	Filter              filter.Hook
	Clock               clock.Clock
	Logger              *zap.SugaredLogger
	InitialFetchTimeout time.Duration
	// Closer releases the upstream connection when the state is closed.
	Closer func() error
}

type State struct {
	mu       sync.Mutex
	cache    *cache.ThreatCache
	poisoned atomic.Bool

	endpoint types.EndpointIdentity
	sched    *refresh.Scheduler
	prober   *probe.Prober
	filter   filter.Hook
	log      *zap.SugaredLogger

	initialFetch time.Duration
	closer       func() error
	stopOnce     sync.Once
	cancel       context.CancelFunc
	done         chan struct{}
}

// New builds the state without starting background work.
func New(opts Options) *State {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Source == nil {
		opts.Source = upstream.NewStatic(nil, nil)
	}
	if opts.Prober == nil {
		opts.Prober = sharedProber(probe.Options{}, opts.Logger)
	}
	if opts.Filter == nil {
		opts.Filter = filter.Noop{}
	}
	if opts.Endpoint.RPCEndpoint == "" {
		opts.Endpoint.RPCEndpoint = DefaultRPCEndpoint
	}

	s := &State{
		cache:    cache.New(opts.Endpoint, cache.WithTTL(opts.TTLSeconds), cache.WithClock(opts.Clock)),
		endpoint: opts.Endpoint,
		prober:   opts.Prober,
		filter:   opts.Filter,
		log:      opts.Logger,
		closer:   opts.Closer,

		initialFetch: opts.InitialFetchTimeout,
	}
	if s.initialFetch <= 0 {
		s.initialFetch = DefaultInitialFetchTimeout
	}
	s.sched = refresh.New(s, opts.Source,
		refresh.WithInterval(opts.RefreshInterval),
		refresh.WithClock(opts.Clock),
		refresh.WithLogger(opts.Logger),
	)
	return s
}

// Start fetches the node list once, bounded by the initial fetch timeout,
// and launches the refresh loop. A failed first fetch is logged; the loop
// retries on its own schedule.
func (s *State) Start(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, s.initialFetch)
	err := s.sched.RefreshNodes(fctx)
	cancel()
	if err != nil {
		s.log.Warnw("initial node list fetch failed", "err", err)
	}
	ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.sched.Run(ctx)
	}()
}

// Close stops the refresh loop, waits for it to exit and releases the
// upstream.
func (s *State) Close() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		if s.closer != nil {
			if err := s.closer(); err != nil {
				s.log.Warnw("closing upstream", "err", err)
			}
		}
	})
}

func (s *State) Endpoint() types.EndpointIdentity { return s.endpoint }

func (s *State) Poisoned() bool { return s.poisoned.Load() }

// With runs fn with the cache lock held.
func (s *State) With(fn func(c *cache.ThreatCache)) (err error) {
	if s.poisoned.Load() {
		metrics.LockFaults.Inc()
		return ErrLockUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned.Load() {
		metrics.LockFaults.Inc()
		return ErrLockUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			s.poisoned.Store(true)
			metrics.LockFaults.Inc()
			s.log.Errorw("panic while holding cache lock, state poisoned", "panic", r)
			err = fmt.Errorf("%w: %v", ErrLockUnavailable, r)
		}
	}()
	fn(s.cache)
	return nil
}

func (s *State) CheckIP(ip string) (bool, error) {
	var hit bool
	err := s.With(func(c *cache.ThreatCache) { hit = c.IsIPBlocked(ip) })
	if err == nil {
		metrics.ObserveQuery("ip", hit)
	}
	return hit, err
}

func (s *State) CheckDomain(domain string) (bool, error) {
	var hit bool
	err := s.With(func(c *cache.ThreatCache) { hit = c.IsDomainThreat(domain) })
	if err == nil {
		metrics.ObserveQuery("domain", hit)
	}
	return hit, err
}

// AddIP puts ip on the local blacklist.
func (s *State) AddIP(ip string) error {
	if _, err := addr.Encode(ip); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.With(func(c *cache.ThreatCache) { c.AddIPToBlacklist(ip) })
}

// AddDomain records a locally observed domain threat discovered now.
func (s *State) AddDomain(domain string, level uint8) error {
	if cache.DomainKey(domain) == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidInput)
	}
	return s.With(func(c *cache.ThreatCache) {
		c.AddDomainThreat(types.ThreatRecord{
			Kind:         types.KindDomain,
			Value:        domain,
			Level:        level,
			DiscoveredAt: c.Now(),
			Source:       "local",
		}.ClampLevel())
	})
}

func (s *State) ForceRefresh(ctx context.Context) error {
	return s.guard(func() error { return s.sched.RefreshThreats(ctx) })
}

func (s *State) RefreshNodes(ctx context.Context) error {
	return s.guard(func() error { return s.sched.RefreshNodes(ctx) })
}

// guard fails fast on a poisoned state before doing network work.
func (s *State) guard(fn func() error) error {
	if s.poisoned.Load() {
		metrics.LockFaults.Inc()
		return ErrLockUnavailable
	}
	return fn()
}

func (s *State) Stats() (cache.Stats, error) {
	var st cache.Stats
	err := s.With(func(c *cache.ThreatCache) { st = c.Stats() })
	return st, err
}

func (s *State) NodeCount() (int, error) {
	var n int
	err := s.With(func(c *cache.ThreatCache) { n = len(c.Nodes()) })
	return n, err
}

func (s *State) Node(i int) (types.NodeRecord, error) {
	var (
		n  types.NodeRecord
		ok bool
	)
	if err := s.With(func(c *cache.ThreatCache) { n, ok = c.Node(i) }); err != nil {
		return n, err
	}
	if !ok {
		return n, fmt.Errorf("%w: node index %d out of range", ErrInvalidInput, i)
	}
	return n, nil
}

func (s *State) ConnectToNode(ctx context.Context, address string, port uint16) error {
	if err := s.prober.Connect(ctx, address, port); err != nil {
		if errors.Is(err, probe.ErrInvalidPeer) {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return err
	}
	return nil
}

// ConnectToAllNodes probes a snapshot of the registry taken under the lock;
// the probing itself runs unlocked.
func (s *State) ConnectToAllNodes(ctx context.Context) (uint32, error) {
	var nodes []types.NodeRecord
	if err := s.With(func(c *cache.ThreatCache) { nodes = c.Nodes() }); err != nil {
		return 0, err
	}
	return s.prober.ConnectAll(ctx, nodes), nil
}

func (s *State) SendMessage(ctx context.Context, address string, port uint16, payload []byte) error {
	if err := s.prober.Send(ctx, address, port, payload); err != nil {
		if errors.Is(err, probe.ErrInvalidPeer) {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return err
	}
	return nil
}

// EnableKernelBlock pushes the current blacklist into the packet filter.
func (s *State) EnableKernelBlock(ctx context.Context) error {
	var ips []string
	if err := s.With(func(c *cache.ThreatCache) { ips = c.BlockedIPs() }); err != nil {
		return err
	}
	return s.filter.Enable(ctx, ips)
}

func (s *State) DisableKernelBlock(ctx context.Context) error {
	return s.filter.Disable(ctx)
}

// Prober exposes the peer prober for health checks.
func (s *State) Prober() *probe.Prober { return s.prober }
