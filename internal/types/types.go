package types

import (
	"fmt"
	"strings"
)

// ThreatKind classifies what a ThreatRecord's value refers to
type ThreatKind string

const (
	KindIP     ThreatKind = "IP"
	KindDomain ThreatKind = "DOMAIN"
	KindURL    ThreatKind = "URL"
)

// ParseKind maps the upstream spelling of a kind onto ThreatKind.
func ParseKind(s string) (ThreatKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IP":
		return KindIP, nil
	case "DOMAIN":
		return KindDomain, nil
	case "URL":
		return KindURL, nil
	default:
		return "", fmt.Errorf("unknown threat kind %q", s)
	}
}

const (
	MinLevel uint8 = 1
	MaxLevel uint8 = 5
)

// ThreatRecord is a single threat as delivered by the upstream source.
// Records are copied into the cache on ingest and never mutated afterwards.
type ThreatRecord struct {
	Kind         ThreatKind `json:"threat_type"`
	Value        string     `json:"threat_value"`
	Level        uint8      `json:"threat_level"`
	DiscoveredAt int64      `json:"timestamp"`
	TTLBasis     int64      `json:"expiration"`
	Source       string     `json:"source"`
	Evidence     string     `json:"evidence"`
}

// ClampLevel returns the record with its level forced into MinLevel..MaxLevel.
func (r ThreatRecord) ClampLevel() ThreatRecord {
	if r.Level < MinLevel {
		r.Level = MinLevel
	}
	if r.Level > MaxLevel {
		r.Level = MaxLevel
	}
	return r
}

// NodeRecord represents a peer of the distributed network
type NodeRecord struct {
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	WalletID string `json:"walletId"`
}

// EndpointIdentity identifies the upstream the cache was built against.
// It is fixed at construction.
type EndpointIdentity struct {
	RPCEndpoint     string `json:"rpc_endpoint"`
	ContractAddress string `json:"contract_address"`
}
