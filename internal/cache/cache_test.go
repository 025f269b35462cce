package cache

import (
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orasrs/orasrs-core/internal/types"
)

func newTestCache(t *testing.T, at int64, opts ...Option) (*ThreatCache, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(at, 0))
	opts = append([]Option{WithClock(mock)}, opts...)
	return New(types.EndpointIdentity{RPCEndpoint: "http://localhost:8545"}, opts...), mock
}

func domainRecord(value string, discoveredAt int64) types.ThreatRecord {
	return types.ThreatRecord{
		Kind:         types.KindDomain,
		Value:        value,
		Level:        3,
		DiscoveredAt: discoveredAt,
		Source:       "test",
		Evidence:     "test",
	}
}

func TestIPBlacklist(t *testing.T) {
	c, _ := newTestCache(t, 0)

	assert.True(t, c.AddIPToBlacklist("192.168.1.100"))
	assert.True(t, c.IsIPBlocked("192.168.1.100"))
	assert.False(t, c.IsIPBlocked("192.168.1.101"))
}

func TestIPBlacklist_Idempotent(t *testing.T) {
	c, _ := newTestCache(t, 0)

	c.AddIPToBlacklist("10.0.0.1")
	once := c.Stats()
	c.AddIPToBlacklist("10.0.0.1")
	twice := c.Stats()

	assert.Equal(t, once, twice)
	assert.EqualValues(t, 1, twice.BlockedIPs)
}

func TestIPBlacklist_MalformedInput(t *testing.T) {
	c, _ := newTestCache(t, 0)

	for _, in := range []string{"", "1.2.3", "256.0.0.1", "x.y.z.w", "1.2.3.4.5"} {
		assert.False(t, c.AddIPToBlacklist(in), in)
		assert.False(t, c.IsIPBlocked(in), in)
	}
	assert.EqualValues(t, 0, c.Stats().BlockedIPs)
}

func TestUnblockIP(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.AddIPToBlacklist("8.8.8.8")

	assert.True(t, c.UnblockIP("8.8.8.8"))
	assert.False(t, c.IsIPBlocked("8.8.8.8"))
	assert.False(t, c.UnblockIP("8.8.8.8"))
}

func TestDomainThreat_TTL(t *testing.T) {
	c, mock := newTestCache(t, 1000, WithTTL(1000))
	c.AddDomainThreat(domainRecord("example.com", 1000))

	cases := []struct {
		at   int64
		want bool
	}{
		{1000, true},
		{1500, true},
		{1999, true},
		{2000, false},
		{2500, false},
	}
	for _, tc := range cases {
		mock.Set(time.Unix(tc.at, 0))
		assert.Equal(t, tc.want, c.IsDomainThreat("example.com"), "before prune at t=%d", tc.at)
	}

	// Same answers after a prune pass at each time.
	for _, tc := range cases {
		c2, mock2 := newTestCache(t, 1000, WithTTL(1000))
		c2.AddDomainThreat(domainRecord("example.com", 1000))
		mock2.Set(time.Unix(tc.at, 0))
		c2.PruneExpired()
		assert.Equal(t, tc.want, c2.IsDomainThreat("example.com"), "after prune at t=%d", tc.at)
	}
}

func TestDomainThreat_Absent(t *testing.T) {
	c, _ := newTestCache(t, 0)
	assert.False(t, c.IsDomainThreat("nothing.example"))
}

func TestDomainThreat_StaleOnIngest(t *testing.T) {
	c, _ := newTestCache(t, 1_000_000, WithTTL(60))
	c.AddDomainThreat(domainRecord("old.example", 10))

	_, expiresAt, ok := c.DomainThreat("old.example")
	require.True(t, ok)
	assert.EqualValues(t, 70, expiresAt)
	assert.False(t, c.IsDomainThreat("old.example"))
}

func TestDomainThreat_Replace(t *testing.T) {
	c, _ := newTestCache(t, 100, WithTTL(10))
	c.AddDomainThreat(domainRecord("evil.com", 0))
	assert.False(t, c.IsDomainThreat("evil.com"))

	c.AddDomainThreat(domainRecord("evil.com", 95))
	assert.True(t, c.IsDomainThreat("evil.com"))
	assert.Equal(t, 1, c.Stats().DomainThreats)
}

func TestPruneExpired_Scoped(t *testing.T) {
	c, mock := newTestCache(t, 0, WithTTL(100))
	c.AddIPToBlacklist("1.2.3.4")
	c.AddDomainThreat(domainRecord("a.example", 0))
	c.AddDomainThreat(domainRecord("b.example", 50))
	c.AddDomainThreat(domainRecord("c.example", 200))

	mock.Set(time.Unix(100, 0))
	removed := c.PruneExpired()

	assert.Equal(t, 1, removed)
	_, _, ok := c.DomainThreat("a.example")
	assert.False(t, ok)
	assert.True(t, c.IsDomainThreat("b.example"))
	assert.True(t, c.IsIPBlocked("1.2.3.4"))
	assert.EqualValues(t, 1, c.Stats().BlockedIPs)
}

func TestDomainKey(t *testing.T) {
	tests := map[string]string{
		"example.com":     "example.com",
		"Example.COM.":    "example.com",
		"  evil.test  ":   "evil.test",
		"":                "",
		".":               "",
		"http://A.b/Path": "http://a.b/path",
	}
	for in, want := range tests {
		assert.Equal(t, want, DomainKey(in), "DomainKey(%q)", in)
	}
}

func TestDomainThreat_CaseAndRootDot(t *testing.T) {
	c, _ := newTestCache(t, 1000)
	c.AddDomainThreat(domainRecord("Bad.Example.", 1000))

	for _, q := range []string{"Bad.Example.", "Bad.Example", "bad.example", "BAD.EXAMPLE."} {
		assert.True(t, c.IsDomainThreat(q), q)
	}
	assert.False(t, c.IsDomainThreat("bad.example.org"))

	rec, _, ok := c.DomainThreat("bad.example")
	require.True(t, ok)
	assert.Equal(t, "Bad.Example.", rec.Value, "record is stored as given")

	c.AddDomainThreat(domainRecord("bad.example", 1000))
	assert.Equal(t, 1, c.Stats().DomainThreats, "spellings share one entry")
}

func TestIngest(t *testing.T) {
	c, _ := newTestCache(t, 0)
	dropped := c.Ingest([]types.ThreatRecord{
		{Kind: types.KindIP, Value: "203.0.113.7", Level: 4},
		{Kind: types.KindIP, Value: "not-an-ip"},
		{Kind: types.KindDomain, Value: "phish.example", Level: 9, DiscoveredAt: 0},
		{Kind: types.KindURL, Value: "http://bad.example/x", DiscoveredAt: 0},
		{Kind: types.KindDomain, Value: ""},
		{Kind: "HASH", Value: "abc"},
	})

	assert.Equal(t, 3, dropped)
	assert.True(t, c.IsIPBlocked("203.0.113.7"))
	assert.True(t, c.IsDomainThreat("phish.example"))
	assert.True(t, c.IsDomainThreat("http://bad.example/x"))

	rec, _, ok := c.DomainThreat("phish.example")
	require.True(t, ok)
	assert.Equal(t, types.MaxLevel, rec.Level)
}

func TestReplaceNodes(t *testing.T) {
	c, mock := newTestCache(t, 42)
	nodes := []types.NodeRecord{
		{Address: "10.0.0.1", Port: 3006, WalletID: "0xabc"},
		{Address: "10.0.0.2", Port: 3006, WalletID: "0xdef"},
	}
	c.ReplaceNodes(nodes)
	nodes[0].Address = "mutated"

	got := c.Nodes()
	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.1", got[0].Address)
	assert.EqualValues(t, 42, c.Stats().LastUpdate)

	mock.Set(time.Unix(99, 0))
	c.ReplaceNodes(nil)
	assert.Empty(t, c.Nodes())
	assert.EqualValues(t, 99, c.Stats().LastUpdate)

	_, ok := c.Node(0)
	assert.False(t, ok)
}

func TestNode_Bounds(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.ReplaceNodes([]types.NodeRecord{{Address: "10.0.0.1", Port: 1}})

	n, ok := c.Node(0)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", n.Address)
	_, ok = c.Node(1)
	assert.False(t, ok)
	_, ok = c.Node(-1)
	assert.False(t, ok)
}

func TestBlockedIPs_Ordered(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.AddIPToBlacklist("10.0.0.2")
	c.AddIPToBlacklist("9.255.255.255")
	c.AddIPToBlacklist("10.0.0.1")

	assert.Equal(t, []string{"9.255.255.255", "10.0.0.1", "10.0.0.2"}, c.BlockedIPs())
}

func TestDefaults(t *testing.T) {
	c := New(types.EndpointIdentity{RPCEndpoint: "rpc", ContractAddress: "0x1"})
	assert.Equal(t, DefaultTTLSeconds, c.Stats().TTLSeconds)
	assert.Equal(t, "0x1", c.Endpoint().ContractAddress)

	c = New(types.EndpointIdentity{}, WithTTL(-5))
	assert.Equal(t, DefaultTTLSeconds, c.Stats().TTLSeconds)
}

func BenchmarkIsIPBlocked(b *testing.B) {
	c := New(types.EndpointIdentity{})
	for i := 0; i < 10000; i++ {
		c.AddIPToBlacklist("10.0." + strconv.Itoa(i/256%256) + "." + strconv.Itoa(i%256))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.IsIPBlocked("10.0.12.34")
	}
}
