// Package filter pushes the IP blacklist into the host packet filter.
package filter

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// SetName is the kernel set holding blocked addresses.
const SetName = "orasrs-block"

var ErrUnavailable = errors.New("filter: packet filter tools not available")

// Hook installs and removes the kernel-level block. Enable replaces the
// blocked set with ips.
type Hook interface {
	Enable(ctx context.Context, ips []string) error
	Disable(ctx context.Context) error
}

// Runner executes one external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, out)
	}
	return nil
}

// Noop accepts every call and does nothing.
type Noop struct{}

func (Noop) Enable(context.Context, []string) error { return nil }
func (Noop) Disable(context.Context) error          { return nil }
