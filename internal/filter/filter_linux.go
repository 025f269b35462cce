//go:build linux

package filter

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// IPSet blocks inbound traffic from a hash:ip set with one iptables rule.
type IPSet struct {
	mu       sync.Mutex
	run      Runner
	lookPath func(string) (string, error)
	log      *zap.SugaredLogger
	enabled  bool
}

func New(log *zap.SugaredLogger) Hook {
	return NewIPSet(execRunner{}, exec.LookPath, log)
}

func NewIPSet(run Runner, lookPath func(string) (string, error), log *zap.SugaredLogger) *IPSet {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &IPSet{run: run, lookPath: lookPath, log: log}
}

func dropRule(op string) []string {
	return []string{op, "INPUT", "-m", "set", "--match-set", SetName, "src", "-j", "DROP"}
}

func (s *IPSet) available() error {
	for _, bin := range []string{"ipset", "iptables"} {
		if _, err := s.lookPath(bin); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnavailable, bin, err)
		}
	}
	return nil
}

// Enable loads ips into the set and installs the drop rule once.
func (s *IPSet) Enable(ctx context.Context, ips []string) error {
	if err := s.available(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.run.Run(ctx, "ipset", "create", SetName, "hash:ip", "-exist"); err != nil {
		return err
	}
	if err := s.run.Run(ctx, "ipset", "flush", SetName); err != nil {
		return err
	}
	var errs error
	for _, ip := range ips {
		errs = multierr.Append(errs, s.run.Run(ctx, "ipset", "add", SetName, ip, "-exist"))
	}
	// -C fails when the rule is missing
	if err := s.run.Run(ctx, "iptables", dropRule("-C")...); err != nil {
		if err := s.run.Run(ctx, "iptables", dropRule("-I")...); err != nil {
			return multierr.Append(errs, err)
		}
	}
	s.enabled = true
	s.log.Infow("kernel blocking enabled", "set", SetName, "ips", len(ips))
	return errs
}

// Disable removes the rule and the set. Missing pieces are not an error.
func (s *IPSet) Disable(ctx context.Context) error {
	if err := s.available(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for s.run.Run(ctx, "iptables", dropRule("-C")...) == nil {
		if err := s.run.Run(ctx, "iptables", dropRule("-D")...); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
	}
	if err := s.run.Run(ctx, "ipset", "destroy", SetName); err != nil && s.enabled {
		errs = multierr.Append(errs, err)
	}
	s.enabled = false
	s.log.Infow("kernel blocking disabled", "set", SetName)
	return errs
}
