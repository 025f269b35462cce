// Package probe checks reachability of peers in the node registry and sends
// them one-shot payloads. Every attempt has fixed timeouts; nothing here
// touches the cache lock.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orasrs/orasrs-core/internal/metrics"
	"github.com/orasrs/orasrs-core/internal/rate"
	"github.com/orasrs/orasrs-core/internal/types"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultIOTimeout   = 5 * time.Second
	DefaultParallelism = 16
	DefaultResultTTL   = 10 * time.Minute
)

var ErrInvalidPeer = errors.New("probe: invalid peer address")

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Options struct {
	DialTimeout time.Duration
	IOTimeout   time.Duration
	Parallelism int
	// RatePerSec paces attempts per peer; zero disables pacing.
	RatePerSec float64
	// ResultTTL is how long a peer's last result is remembered.
	ResultTTL time.Duration
	Dial      DialFunc
	Logger    *zap.SugaredLogger
}

type Prober struct {
	dialTimeout time.Duration
	ioTimeout   time.Duration
	parallelism int
	dial        DialFunc
	pacer       *rate.PerPeer
	results     *expirable.LRU[string, bool]
	log         atomic.Pointer[zap.SugaredLogger]
}

func New(opts Options) *Prober {
	p := &Prober{
		dialTimeout: opts.DialTimeout,
		ioTimeout:   opts.IOTimeout,
		parallelism: opts.Parallelism,
		dial:        opts.Dial,
		pacer:       rate.New(opts.RatePerSec, 1),
	}
	if p.dialTimeout <= 0 {
		p.dialTimeout = DefaultDialTimeout
	}
	if p.ioTimeout <= 0 {
		p.ioTimeout = DefaultIOTimeout
	}
	if p.parallelism <= 0 {
		p.parallelism = DefaultParallelism
	}
	if p.dial == nil {
		d := &net.Dialer{}
		p.dial = d.DialContext
	}
	p.SetLogger(opts.Logger)
	ttl := opts.ResultTTL
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	p.results = expirable.NewLRU[string, bool](4096, nil, ttl)
	return p
}

// SetLogger replaces the logger; nil installs a no-op logger.
func (p *Prober) SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	p.log.Store(l)
}

func peerKey(address string, port uint16) (string, error) {
	if address == "" || port == 0 {
		return "", fmt.Errorf("%w: %q:%d", ErrInvalidPeer, address, port)
	}
	return net.JoinHostPort(address, strconv.Itoa(int(port))), nil
}

func (p *Prober) open(ctx context.Context, key string) (net.Conn, error) {
	if err := p.pacer.Wait(ctx, key); err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	conn, err := p.dial(dctx, "tcp", key)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := conn.SetReadDeadline(now.Add(p.ioTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetWriteDeadline(now.Add(p.ioTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Connect reports whether a TCP handshake with address:port completes within
// the dial timeout. The connection is closed right away.
func (p *Prober) Connect(ctx context.Context, address string, port uint16) error {
	key, err := peerKey(address, port)
	if err != nil {
		return err
	}
	ctx, span := otel.Tracer("orasrs/probe").Start(ctx, "probe.Connect")
	span.SetAttributes(attribute.String("peer", key))
	defer span.End()

	conn, err := p.open(ctx, key)
	p.record("connect", key, err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("connect %s: %w", key, err)
	}
	return conn.Close()
}

// ConnectAll probes every node with bounded parallelism and returns how many
// answered. Individual failures are only logged.
func (p *Prober) ConnectAll(ctx context.Context, nodes []types.NodeRecord) uint32 {
	ctx, span := otel.Tracer("orasrs/probe").Start(ctx, "probe.ConnectAll")
	defer span.End()

	var ok atomic.Uint32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for _, n := range nodes {
		g.Go(func() error {
			if err := p.Connect(gctx, n.Address, n.Port); err != nil {
				p.log.Load().Debugw("peer unreachable", "peer", n.Address, "port", n.Port, "err", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	span.SetAttributes(attribute.Int("nodes", len(nodes)), attribute.Int("reachable", int(ok.Load())))
	return ok.Load()
}

// Send opens a fresh connection and writes payload. Success means the whole
// payload was accepted by the write; no reply is read.
func (p *Prober) Send(ctx context.Context, address string, port uint16, payload []byte) error {
	key, err := peerKey(address, port)
	if err != nil {
		return err
	}
	ctx, span := otel.Tracer("orasrs/probe").Start(ctx, "probe.Send")
	span.SetAttributes(attribute.String("peer", key), attribute.Int("bytes", len(payload)))
	defer span.End()

	conn, err := p.open(ctx, key)
	if err != nil {
		p.record("send", key, err)
		span.RecordError(err)
		return fmt.Errorf("send %s: %w", key, err)
	}
	defer conn.Close()
	n, err := conn.Write(payload)
	if err == nil && n < len(payload) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(payload))
	}
	p.record("send", key, err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("send %s: %w", key, err)
	}
	return nil
}

// Reachable counts remembered peers whose most recent attempt succeeded.
// Expired results no longer count.
func (p *Prober) Reachable() int {
	n := 0
	for _, ok := range p.results.Values() {
		if ok {
			n++
		}
	}
	return n
}

// Attempted counts peers with a remembered result.
func (p *Prober) Attempted() int { return len(p.results.Keys()) }

func (p *Prober) record(op, key string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ProbesTotal.WithLabelValues(op, result).Inc()
	p.results.Add(key, err == nil)
	metrics.ReachablePeer.Set(float64(p.Reachable()))
}
