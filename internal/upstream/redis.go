package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orasrs/orasrs-core/internal/types"
)

// Redis reads records that a relay (see cmd/seed) mirrored into Redis lists:
// JSON threat records under <prefix>:threats and JSON node records under
// <prefix>:nodes.
type Redis struct {
	cli    *redis.Client
	prefix string
}

// NewRedis connects to rawURL (redis://...) and checks the connection.
func NewRedis(ctx context.Context, rawURL, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cli := redis.NewClient(opt)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "orasrs"
	}
	return &Redis{cli: cli, prefix: prefix}, nil
}

func (r *Redis) threatsKey() string { return r.prefix + ":threats" }
func (r *Redis) nodesKey() string   { return r.prefix + ":nodes" }

// Ping checks connectivity, for health checks.
func (r *Redis) Ping(ctx context.Context) error { return r.cli.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.cli.Close() }

func (r *Redis) FetchLatestThreats(ctx context.Context, _ types.EndpointIdentity) ([]types.ThreatRecord, error) {
	raw, err := r.cli.LRange(ctx, r.threatsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lrange %s: %w", ErrCollaborator, r.threatsKey(), err)
	}
	return decodeThreats(raw), nil
}

// decodeThreats parses mirrored JSON records, skipping entries that do not
// decode.
func decodeThreats(raw []string) []types.ThreatRecord {
	recs := make([]types.ThreatRecord, 0, len(raw))
	for _, s := range raw {
		var rec types.ThreatRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return cleanThreats(recs)
}

func (r *Redis) FetchNodeList(ctx context.Context, _ types.EndpointIdentity) ([]types.NodeRecord, error) {
	raw, err := r.cli.LRange(ctx, r.nodesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lrange %s: %w", ErrCollaborator, r.nodesKey(), err)
	}
	out := make([]types.NodeRecord, 0, len(raw))
	for _, s := range raw {
		var n types.NodeRecord
		if err := json.Unmarshal([]byte(s), &n); err != nil || n.Address == "" {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// SeedThreat appends a threat record to the mirror.
func (r *Redis) SeedThreat(ctx context.Context, rec types.ThreatRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.cli.RPush(ctx, r.threatsKey(), string(b)).Err()
}

// ReplaceNodes swaps the mirrored node list in one transaction.
func (r *Redis) ReplaceNodes(ctx context.Context, nodes []types.NodeRecord) error {
	vals := make([]any, 0, len(nodes))
	for _, n := range nodes {
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		vals = append(vals, string(b))
	}
	_, err := r.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.nodesKey())
		if len(vals) > 0 {
			p.RPush(ctx, r.nodesKey(), vals...)
		}
		return nil
	})
	return err
}
