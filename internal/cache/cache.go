// Package cache holds the read-optimized projection of the upstream threat
// data: an IPv4 blacklist bitmap, a domain threat map with per-entry expiry,
// and the peer node registry.
//
// ThreatCache is not safe for concurrent use. Callers serialize access through
// the single lock owned by internal/core.
package cache

import (
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/benbjohnson/clock"

	"github.com/orasrs/orasrs-core/internal/addr"
	"github.com/orasrs/orasrs-core/internal/types"
)

// DefaultTTLSeconds is the lifetime of a domain threat record (24h).
const DefaultTTLSeconds int64 = 24 * 3600

type domainEntry struct {
	record    types.ThreatRecord
	expiresAt int64
}

// ThreatCache owns the indexed threat collections and their metadata.
type ThreatCache struct {
	ipBlacklist   *roaring.Bitmap
	domainThreats map[string]domainEntry
	nodes         []types.NodeRecord
	lastUpdate    int64
	ttlSeconds    int64
	endpoint      types.EndpointIdentity
	clock         clock.Clock
}

// Option customizes a ThreatCache at construction.
type Option func(*ThreatCache)

// WithTTL overrides DefaultTTLSeconds. Non-positive values are ignored.
func WithTTL(seconds int64) Option {
	return func(c *ThreatCache) {
		if seconds > 0 {
			c.ttlSeconds = seconds
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *ThreatCache) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// New creates an empty cache bound to the given upstream identity.
func New(endpoint types.EndpointIdentity, opts ...Option) *ThreatCache {
	c := &ThreatCache{
		ipBlacklist:   roaring.New(),
		domainThreats: make(map[string]domainEntry),
		ttlSeconds:    DefaultTTLSeconds,
		endpoint:      endpoint,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ThreatCache) now() int64 { return c.clock.Now().Unix() }

// Now is the cache clock in epoch seconds.
func (c *ThreatCache) Now() int64 { return c.now() }

// IsIPBlocked reports whether ip is on the blacklist. Unparseable input is
// never a match.
func (c *ThreatCache) IsIPBlocked(ip string) bool {
	key, err := addr.Encode(ip)
	if err != nil {
		return false
	}
	return c.ipBlacklist.Contains(key)
}

// DomainKey is the map key for a domain or URL value: trimmed, lower-cased,
// without a trailing root dot. Stores and lookups both go through it.
func DomainKey(value string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(value)), ".")
}

// IsDomainThreat reports whether domain has an unexpired threat entry.
func (c *ThreatCache) IsDomainThreat(domain string) bool {
	e, ok := c.domainThreats[DomainKey(domain)]
	if !ok {
		return false
	}
	return c.now() < e.expiresAt
}

// AddIPToBlacklist inserts ip. Unparseable input is ignored; it returns
// whether the address was accepted.
func (c *ThreatCache) AddIPToBlacklist(ip string) bool {
	key, err := addr.Encode(ip)
	if err != nil {
		return false
	}
	c.ipBlacklist.Add(key)
	return true
}

// UnblockIP removes ip from the blacklist. This is the only way the
// blacklist shrinks.
func (c *ThreatCache) UnblockIP(ip string) bool {
	key, err := addr.Encode(ip)
	if err != nil {
		return false
	}
	return c.ipBlacklist.CheckedRemove(key)
}

// AddDomainThreat stores rec under DomainKey(rec.Value), replacing any
// previous entry. The record itself is kept as given. The expiry derives from
// DiscoveredAt and may already be in the past.
func (c *ThreatCache) AddDomainThreat(rec types.ThreatRecord) {
	c.domainThreats[DomainKey(rec.Value)] = domainEntry{
		record:    rec,
		expiresAt: rec.DiscoveredAt + c.ttlSeconds,
	}
}

// Ingest routes records by kind. IP records with a bad address are dropped;
// the number of dropped records is returned.
func (c *ThreatCache) Ingest(records []types.ThreatRecord) (dropped int) {
	for _, rec := range records {
		switch rec.Kind {
		case types.KindIP:
			if !c.AddIPToBlacklist(rec.Value) {
				dropped++
			}
		case types.KindDomain, types.KindURL:
			if DomainKey(rec.Value) == "" {
				dropped++
				continue
			}
			c.AddDomainThreat(rec.ClampLevel())
		default:
			dropped++
		}
	}
	return dropped
}

// PruneExpired deletes every domain entry whose expiry has passed and returns
// how many were removed. The IP blacklist is not touched.
func (c *ThreatCache) PruneExpired() int {
	now := c.now()
	removed := 0
	for k, e := range c.domainThreats {
		if e.expiresAt <= now {
			delete(c.domainThreats, k)
			removed++
		}
	}
	return removed
}

// ReplaceNodes swaps in a new node registry and stamps the update time.
func (c *ThreatCache) ReplaceNodes(nodes []types.NodeRecord) {
	cp := make([]types.NodeRecord, len(nodes))
	copy(cp, nodes)
	c.nodes = cp
	c.MarkUpdated()
}

// MarkUpdated records a successful refresh at the current time.
func (c *ThreatCache) MarkUpdated() { c.lastUpdate = c.now() }

// Nodes returns a copy of the node registry.
func (c *ThreatCache) Nodes() []types.NodeRecord {
	cp := make([]types.NodeRecord, len(c.nodes))
	copy(cp, c.nodes)
	return cp
}

// Node returns the node at index i.
func (c *ThreatCache) Node(i int) (types.NodeRecord, bool) {
	if i < 0 || i >= len(c.nodes) {
		return types.NodeRecord{}, false
	}
	return c.nodes[i], true
}

// BlockedIPs lists the blacklist in ascending address order.
func (c *ThreatCache) BlockedIPs() []string {
	keys := c.ipBlacklist.ToArray()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = addr.Decode(k)
	}
	return out
}

// DomainThreat returns the stored record for domain, expired or not.
func (c *ThreatCache) DomainThreat(domain string) (types.ThreatRecord, int64, bool) {
	e, ok := c.domainThreats[DomainKey(domain)]
	return e.record, e.expiresAt, ok
}

// Endpoint returns the identity fixed at construction.
func (c *ThreatCache) Endpoint() types.EndpointIdentity { return c.endpoint }

// Stats is a point-in-time summary of the cache.
type Stats struct {
	BlockedIPs    uint64
	DomainThreats int
	Nodes         int
	LastUpdate    int64
	TTLSeconds    int64
}

func (c *ThreatCache) Stats() Stats {
	return Stats{
		BlockedIPs:    c.ipBlacklist.GetCardinality(),
		DomainThreats: len(c.domainThreats),
		Nodes:         len(c.nodes),
		LastUpdate:    c.lastUpdate,
		TTLSeconds:    c.ttlSeconds,
	}
}
