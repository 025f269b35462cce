// Package refresh keeps the threat cache in sync with the upstream source.
//
// A refresh cycle fetches threats and nodes without holding the cache lock,
// then prunes expired domain records and merges the fetched data under a
// single exclusive acquisition, so readers see either the whole cycle or none
// of it. Fetch failures are logged and retried on the next tick; there is no
// backoff between cycles.
package refresh

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/orasrs/orasrs-core/internal/cache"
	"github.com/orasrs/orasrs-core/internal/metrics"
	"github.com/orasrs/orasrs-core/internal/types"
	"github.com/orasrs/orasrs-core/internal/upstream"
)

const (
	DefaultInterval     = 300 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

// Store is the lock-guarded cache the scheduler writes into.
type Store interface {
	Endpoint() types.EndpointIdentity
	With(fn func(c *cache.ThreatCache)) error
}

type Scheduler struct {
	store        Store
	src          upstream.Source
	interval     time.Duration
	fetchTimeout time.Duration
	clock        clock.Clock
	log          *zap.SugaredLogger
	group        singleflight.Group
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

func New(store Store, src upstream.Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		src:          src,
		interval:     DefaultInterval,
		fetchTimeout: DefaultFetchTimeout,
		clock:        clock.New(),
		log:          zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the wait between cycles.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Run waits one interval, runs a cycle, and repeats until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	t := s.clock.Ticker(s.interval)
	defer t.Stop()
	s.log.Infow("refresh scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("refresh scheduler stopped")
			return
		case <-t.C:
			if err := s.Cycle(ctx); err != nil {
				s.log.Warnw("refresh cycle failed, retrying next interval", "err", err)
			}
		}
	}
}

// Cycle runs one full prune-then-resync pass.
func (s *Scheduler) Cycle(ctx context.Context) error {
	ctx, span := otel.Tracer("orasrs/refresh").Start(ctx, "refresh.Cycle")
	defer span.End()

	threats, threatErr := s.fetchThreats(ctx)
	nodes, nodeErr := s.fetchNodes(ctx)

	var pruned, dropped int
	err := s.store.With(func(c *cache.ThreatCache) {
		pruned = c.PruneExpired()
		if threatErr == nil {
			dropped = c.Ingest(threats)
			c.MarkUpdated()
		}
		if nodeErr == nil {
			c.ReplaceNodes(nodes)
		}
		observe(c)
	})
	err = multierr.Combine(threatErr, nodeErr, err)

	span.SetAttributes(
		attribute.Int("threats", len(threats)),
		attribute.Int("nodes", len(nodes)),
		attribute.Int("pruned", pruned),
	)
	s.finish("scheduled", pruned, dropped, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh cycle failed")
	}
	return err
}

// RefreshThreats prunes and pulls the latest threats now. Concurrent callers
// share one fetch.
func (s *Scheduler) RefreshThreats(ctx context.Context) error {
	_, err, _ := s.group.Do("threats", func() (any, error) {
		ctx, span := otel.Tracer("orasrs/refresh").Start(ctx, "refresh.Threats")
		defer span.End()

		threats, fetchErr := s.fetchThreats(ctx)
		var pruned, dropped int
		err := s.store.With(func(c *cache.ThreatCache) {
			pruned = c.PruneExpired()
			if fetchErr == nil {
				dropped = c.Ingest(threats)
				c.MarkUpdated()
			}
			observe(c)
		})
		err = multierr.Combine(fetchErr, err)
		s.finish("force", pruned, dropped, err)
		return nil, err
	})
	return err
}

// RefreshNodes replaces the node registry from upstream now.
func (s *Scheduler) RefreshNodes(ctx context.Context) error {
	_, err, _ := s.group.Do("nodes", func() (any, error) {
		nodes, fetchErr := s.fetchNodes(ctx)
		if fetchErr != nil {
			metrics.RefreshTotal.WithLabelValues("nodes", "error").Inc()
			s.log.Warnw("node registry refresh failed", "err", fetchErr)
			return nil, fetchErr
		}
		err := s.store.With(func(c *cache.ThreatCache) {
			c.ReplaceNodes(nodes)
			observe(c)
		})
		if err != nil {
			metrics.RefreshTotal.WithLabelValues("nodes", "error").Inc()
			return nil, err
		}
		metrics.RefreshTotal.WithLabelValues("nodes", "ok").Inc()
		s.log.Infow("node registry refreshed", "nodes", len(nodes))
		return nil, nil
	})
	return err
}

func (s *Scheduler) fetchThreats(ctx context.Context) ([]types.ThreatRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	threats, err := s.src.FetchLatestThreats(ctx, s.store.Endpoint())
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("threats").Inc()
	}
	return threats, err
}

func (s *Scheduler) fetchNodes(ctx context.Context) ([]types.NodeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	nodes, err := s.src.FetchNodeList(ctx, s.store.Endpoint())
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("nodes").Inc()
	}
	return nodes, err
}

func (s *Scheduler) finish(trigger string, pruned, dropped int, err error) {
	metrics.PrunedTotal.Add(float64(pruned))
	metrics.DroppedTotal.Add(float64(dropped))
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RefreshTotal.WithLabelValues(trigger, status).Inc()
	if err == nil {
		s.log.Infow("threat cache refreshed", "trigger", trigger, "pruned", pruned, "dropped", dropped)
	}
}

func observe(c *cache.ThreatCache) {
	st := c.Stats()
	metrics.BlockedIPs.Set(float64(st.BlockedIPs))
	metrics.DomainThreats.Set(float64(st.DomainThreats))
	metrics.Nodes.Set(float64(st.Nodes))
	metrics.LastUpdate.Set(float64(st.LastUpdate))
}
