//go:build linux

package filter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner models one iptables rule and records every command.
type fakeRunner struct {
	mu       sync.Mutex
	cmds     []string
	ruleUp   bool
	failAdds map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := name + " " + strings.Join(args, " ")
	f.cmds = append(f.cmds, cmd)
	if name == "iptables" {
		switch args[0] {
		case "-C":
			if !f.ruleUp {
				return errors.New("rule missing")
			}
		case "-I":
			f.ruleUp = true
		case "-D":
			f.ruleUp = false
		}
	}
	if name == "ipset" && args[0] == "add" && f.failAdds[args[2]] {
		return errors.New("bad entry")
	}
	return nil
}

func (f *fakeRunner) count(prefix string) int {
	n := 0
	for _, c := range f.cmds {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func found(string) (string, error) { return "/usr/sbin/x", nil }

func TestIPSet_EnableDisable(t *testing.T) {
	run := &fakeRunner{}
	s := NewIPSet(run, found, nil)

	require.NoError(t, s.Enable(context.Background(), []string{"203.0.113.9", "198.51.100.1"}))
	assert.True(t, run.ruleUp)
	assert.Equal(t, 2, run.count("ipset add "+SetName))
	assert.Equal(t, 1, run.count("iptables -I"))

	// second enable refreshes the set but does not duplicate the rule
	require.NoError(t, s.Enable(context.Background(), []string{"203.0.113.9"}))
	assert.Equal(t, 1, run.count("iptables -I"))
	assert.Equal(t, 2, run.count("ipset flush"))

	require.NoError(t, s.Disable(context.Background()))
	assert.False(t, run.ruleUp)
	assert.Equal(t, 1, run.count("ipset destroy "+SetName))
}

func TestIPSet_PartialAddFailure(t *testing.T) {
	run := &fakeRunner{failAdds: map[string]bool{"bad": true}}
	s := NewIPSet(run, found, nil)

	err := s.Enable(context.Background(), []string{"203.0.113.9", "bad"})
	assert.Error(t, err)
	assert.True(t, run.ruleUp, "good entries are still enforced")
}

func TestIPSet_ToolsMissing(t *testing.T) {
	run := &fakeRunner{}
	s := NewIPSet(run, func(bin string) (string, error) {
		if bin == "ipset" {
			return "", errors.New("not found")
		}
		return "/usr/sbin/" + bin, nil
	}, nil)

	assert.ErrorIs(t, s.Enable(context.Background(), nil), ErrUnavailable)
	assert.ErrorIs(t, s.Disable(context.Background()), ErrUnavailable)
	assert.Empty(t, run.cmds)
}
