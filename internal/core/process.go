package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orasrs/orasrs-core/internal/config"
	"github.com/orasrs/orasrs-core/internal/filter"
	"github.com/orasrs/orasrs-core/internal/httpclient"
	"github.com/orasrs/orasrs-core/internal/probe"
	"github.com/orasrs/orasrs-core/internal/types"
	"github.com/orasrs/orasrs-core/internal/upstream"
)

const DefaultRPCEndpoint = config.DefaultRPCEndpoint

var (
	initMu  sync.Mutex
	current atomic.Pointer[State]
)

type proberKey struct {
	dialTimeout time.Duration
	ioTimeout   time.Duration
	parallelism int
	ratePerSec  float64
}

var (
	proberMu sync.Mutex
	probers  = make(map[proberKey]*probe.Prober)
)

// sharedProber returns the prober for opts' settings, building it on first
// use. Probers keep LRU purge goroutines for the life of the process, so
// repeated Init/Shutdown cycles reuse them. The logger is swapped to log.
func sharedProber(opts probe.Options, log *zap.SugaredLogger) *probe.Prober {
	key := proberKey{opts.DialTimeout, opts.IOTimeout, opts.Parallelism, opts.RatePerSec}
	proberMu.Lock()
	defer proberMu.Unlock()
	p, ok := probers[key]
	if !ok {
		p = probe.New(opts)
		probers[key] = p
	}
	p.SetLogger(log)
	return p
}

// Init builds and starts the process-wide state the first time it is called.
// Later calls return the existing state with created=false, close opts'
// upstream and otherwise ignore opts, so the first endpoint sticks.
func Init(ctx context.Context, opts Options) (s *State, created bool) {
	initMu.Lock()
	defer initMu.Unlock()
	if s := current.Load(); s != nil {
		if opts.Closer != nil {
			_ = opts.Closer()
		}
		return s, false
	}
	s = New(opts)
	s.Start(ctx)
	current.Store(s)
	return s, true
}

// Current returns the process-wide state.
func Current() (*State, error) {
	if s := current.Load(); s != nil {
		return s, nil
	}
	return nil, ErrNotInitialized
}

// Shutdown stops the process-wide state and forgets it, so a later Init
// starts fresh. Hosts unloading the library and tests use it.
func Shutdown() {
	initMu.Lock()
	s := current.Swap(nil)
	initMu.Unlock()
	if s != nil {
		s.Close()
	}
}

// OptionsFromConfig wires the configured upstream, prober and filter hook.
func OptionsFromConfig(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (Options, error) {
	opts := Options{
		Endpoint: types.EndpointIdentity{
			RPCEndpoint:     cfg.RPCEndpoint,
			ContractAddress: cfg.ContractAddress,
		},
		TTLSeconds:      cfg.TTLSeconds,
		RefreshInterval: cfg.RefreshInterval(),
		Prober: sharedProber(probe.Options{
			DialTimeout: cfg.ProbeTimeout(),
			IOTimeout:   cfg.ProbeTimeout(),
			Parallelism: cfg.ProbeParallelism,
			RatePerSec:  cfg.ProbeRatePerSec,
		}, log),
		Filter: filter.New(log),
		Logger: log,
	}

	switch cfg.Upstream {
	case config.UpstreamRedis:
		r, err := upstream.NewRedis(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return Options{}, fmt.Errorf("redis upstream: %w", err)
		}
		opts.Source = r
		opts.Closer = r.Close
	case config.UpstreamStatic:
		opts.Source = upstream.NewStatic(nil, nil)
	default:
		opts.Source = upstream.NewHTTP(httpclient.Default(), 0, log)
	}
	return opts, nil
}
