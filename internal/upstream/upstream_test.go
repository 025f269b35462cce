package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orasrs/orasrs-core/internal/types"
)

func TestCleanThreats(t *testing.T) {
	got := cleanThreats([]types.ThreatRecord{
		{Kind: "ip", Value: " 203.0.113.9 ", Level: 4},
		{Kind: "Domain", Value: "Bad.Example.", Level: 0},
		{Kind: "url", Value: "http://x.example/a", Level: 200},
		{Kind: "HASH", Value: "abc", Level: 3},
	})
	require.Len(t, got, 4)

	assert.Equal(t, types.KindIP, got[0].Kind)
	assert.Equal(t, "203.0.113.9", got[0].Value)
	assert.EqualValues(t, 4, got[0].Level)

	assert.Equal(t, types.KindDomain, got[1].Kind)
	assert.Equal(t, "Bad.Example.", got[1].Value, "domain keys are folded by the cache, not here")
	assert.Equal(t, types.MinLevel, got[1].Level)

	assert.Equal(t, types.KindURL, got[2].Kind)
	assert.Equal(t, types.MaxLevel, got[2].Level)

	assert.Equal(t, types.ThreatKind("HASH"), got[3].Kind)
}

// Redis mirrors go through the same cleanup as the HTTP gateway.
func TestDecodeThreats(t *testing.T) {
	got := decodeThreats([]string{
		`{"threat_type":"domain","threat_value":" Evil.Example ","threat_level":9,"timestamp":1000}`,
		`not json`,
		`{"threat_type":"IP","threat_value":"198.51.100.7","threat_level":2,"timestamp":1000}`,
	})
	require.Len(t, got, 2)

	assert.Equal(t, types.KindDomain, got[0].Kind)
	assert.Equal(t, "Evil.Example", got[0].Value)
	assert.Equal(t, types.MaxLevel, got[0].Level)
	assert.EqualValues(t, 1000, got[0].DiscoveredAt)

	assert.Equal(t, types.KindIP, got[1].Kind)
	assert.Equal(t, "198.51.100.7", got[1].Value)
}
