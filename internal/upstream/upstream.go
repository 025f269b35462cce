// Package upstream provides the threat and node sources the cache is refreshed
// from. The cache trusts whatever a Source returns as authoritative.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/orasrs/orasrs-core/internal/types"
)

// ErrCollaborator marks a failed upstream fetch.
var ErrCollaborator = errors.New("upstream fetch failed")

// Source is the upstream ledger client as seen by the cache.
type Source interface {
	FetchLatestThreats(ctx context.Context, id types.EndpointIdentity) ([]types.ThreatRecord, error)
	FetchNodeList(ctx context.Context, id types.EndpointIdentity) ([]types.NodeRecord, error)
}

// cleanThreats applies the record cleanup every source shares: trimmed
// values, canonical kind spelling and a clamped level. Unknown kinds pass
// through and are dropped on ingest. Domain keys are folded by the cache.
func cleanThreats(in []types.ThreatRecord) []types.ThreatRecord {
	out := make([]types.ThreatRecord, 0, len(in))
	for _, r := range in {
		r.Value = strings.TrimSpace(r.Value)
		if k, err := types.ParseKind(string(r.Kind)); err == nil {
			r.Kind = k
		}
		out = append(out, r.ClampLevel())
	}
	return out
}

// Static serves fixed records. It is used by offline hosts and tests.
type Static struct {
	mu         sync.Mutex
	threats    []types.ThreatRecord
	nodes      []types.NodeRecord
	threatErr  error
	nodeErr    error
	threatCall int
	nodeCall   int
}

func NewStatic(threats []types.ThreatRecord, nodes []types.NodeRecord) *Static {
	return &Static{threats: threats, nodes: nodes}
}

// Set replaces the records served by later fetches.
func (s *Static) Set(threats []types.ThreatRecord, nodes []types.NodeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threats, s.nodes = threats, nodes
}

// Fail makes later fetches return the given errors; nil clears.
func (s *Static) Fail(threatErr, nodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threatErr, s.nodeErr = threatErr, nodeErr
}

// Calls reports how many fetches of each kind were served.
func (s *Static) Calls() (threats, nodes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threatCall, s.nodeCall
}

func (s *Static) FetchLatestThreats(ctx context.Context, _ types.EndpointIdentity) ([]types.ThreatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threatCall++
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	if s.threatErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollaborator, s.threatErr)
	}
	out := make([]types.ThreatRecord, len(s.threats))
	copy(out, s.threats)
	return out, nil
}

func (s *Static) FetchNodeList(ctx context.Context, _ types.EndpointIdentity) ([]types.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeCall++
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	if s.nodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollaborator, s.nodeErr)
	}
	out := make([]types.NodeRecord, len(s.nodes))
	copy(out, s.nodes)
	return out, nil
}
