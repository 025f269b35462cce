// Package boundary is the total API behind the C shared library. Every call
// returns a plain value: failures, panics and calls before Init all collapse
// to false or 0 and are only visible in the log.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/orasrs/orasrs-core/internal/cache"
	"github.com/orasrs/orasrs-core/internal/config"
	"github.com/orasrs/orasrs-core/internal/core"
	"github.com/orasrs/orasrs-core/internal/types"
)

var logger atomic.Pointer[zap.SugaredLogger]

func init() { logger.Store(zap.NewNop().Sugar()) }

// SetLogger replaces the boundary logger; nil restores the no-op logger.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	logger.Store(l)
}

func log() *zap.SugaredLogger { return logger.Load() }

// recoverTo turns a panic into the zero value of the call's result.
func recoverTo[T any](op string, out *T) {
	if r := recover(); r != nil {
		var zero T
		*out = zero
		log().Errorw("recovered panic at boundary", "op", op, "panic", r)
	}
}

func state(op string) (*core.State, bool) {
	s, err := core.Current()
	if err != nil {
		log().Debugw("call before init", "op", op)
		return nil, false
	}
	return s, true
}

func report(op string, err error) bool {
	if err != nil {
		log().Warnw("boundary call failed", "op", op, "err", err)
		return false
	}
	return true
}

// Init configures the core from the environment, overridden by the given
// endpoint and contract, and starts it. An empty or unusable endpoint falls
// back to the local default. Calling it again is a successful no-op that
// keeps the first endpoint.
func Init(endpoint, contract string) (ok bool) {
	defer recoverTo("init", &ok)
	if _, err := core.Current(); err == nil {
		return true
	}

	cfg := &config.Config{}
	cfg.LoadFromEnv()
	if endpoint != "" {
		cfg.RPCEndpoint = endpoint
	}
	if contract != "" {
		cfg.ContractAddress = contract
	}
	if !usableEndpoint(cfg.RPCEndpoint) {
		log().Warnw("unusable rpc endpoint, using default", "endpoint", cfg.RPCEndpoint)
		cfg.RPCEndpoint = config.DefaultRPCEndpoint
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return report("init", err)
	}

	opts, err := core.OptionsFromConfig(context.Background(), cfg, log())
	if err != nil {
		return report("init", err)
	}
	return InitWith(opts)
}

// InitWith starts the core with explicit options. Hosts embedding the core
// as a Go library use it instead of Init.
func InitWith(opts core.Options) (ok bool) {
	defer recoverTo("init", &ok)
	if opts.Logger == nil {
		opts.Logger = log()
	}
	_, created := core.Init(context.Background(), opts)
	if created {
		log().Infow("orasrs core initialized", "endpoint", opts.Endpoint.RPCEndpoint, "contract", opts.Endpoint.ContractAddress)
	}
	return true
}

func usableEndpoint(raw string) bool {
	if !utf8.ValidString(raw) {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func CheckIP(ip string) (hit bool) {
	defer recoverTo("check_ip", &hit)
	s, ok := state("check_ip")
	if !ok {
		return false
	}
	hit, err := s.CheckIP(ip)
	return report("check_ip", err) && hit
}

func CheckDomain(domain string) (hit bool) {
	defer recoverTo("check_domain", &hit)
	if !utf8.ValidString(domain) {
		return false
	}
	s, ok := state("check_domain")
	if !ok {
		return false
	}
	hit, err := s.CheckDomain(domain)
	return report("check_domain", err) && hit
}

// ForceRefresh prunes expired domains and pulls threats now.
func ForceRefresh() (ok bool) {
	defer recoverTo("update_threats", &ok)
	s, ok := state("update_threats")
	if !ok {
		return false
	}
	return report("update_threats", s.ForceRefresh(context.Background()))
}

func RefreshNodes() (ok bool) {
	defer recoverTo("update_nodes", &ok)
	s, ok := state("update_nodes")
	if !ok {
		return false
	}
	return report("update_nodes", s.RefreshNodes(context.Background()))
}

// FormatStatus renders the status report.
func FormatStatus(st cache.Stats) string {
	return fmt.Sprintf("OraSRS Core SDK v%s\nIPs Blocked: %d\nDomains Threats: %d\nNodes Available: %d\nLast Update: %d\nTTL: %ds",
		types.Version, st.BlockedIPs, st.DomainThreats, st.Nodes, st.LastUpdate, st.TTLSeconds)
}

// WriteCString copies s into buf as a NUL-terminated string of at most
// maxLen bytes including the terminator. Longer strings are truncated. It
// writes nothing and returns false when there is no room for the terminator.
func WriteCString(buf []byte, maxLen int, s string) bool {
	n := min(maxLen, len(buf))
	if n < 1 {
		return false
	}
	k := copy(buf[:n-1], s)
	buf[k] = 0
	return true
}

func GetStatus(buf []byte, maxLen int) (ok bool) {
	defer recoverTo("get_status", &ok)
	if maxLen < 1 || len(buf) < 1 {
		return false
	}
	s, ok := state("get_status")
	if !ok {
		return false
	}
	st, err := s.Stats()
	if !report("get_status", err) {
		return false
	}
	return WriteCString(buf, maxLen, FormatStatus(st))
}

func GetNodeCount() (n uint32) {
	defer recoverTo("get_node_count", &n)
	s, ok := state("get_node_count")
	if !ok {
		return 0
	}
	count, err := s.NodeCount()
	if !report("get_node_count", err) {
		return 0
	}
	return uint32(count)
}

// GetNodeInfo writes node i as {"address":..,"port":..,"walletId":..}.
func GetNodeInfo(i int, buf []byte, maxLen int) (ok bool) {
	defer recoverTo("get_node_info", &ok)
	if maxLen < 1 || len(buf) < 1 {
		return false
	}
	s, ok := state("get_node_info")
	if !ok {
		return false
	}
	node, err := s.Node(i)
	if !report("get_node_info", err) {
		return false
	}
	b, err := json.Marshal(node)
	if !report("get_node_info", err) {
		return false
	}
	return WriteCString(buf, maxLen, string(b))
}

func ConnectToNode(address string, port uint16) (ok bool) {
	defer recoverTo("connect_to_node", &ok)
	s, ok := state("connect_to_node")
	if !ok {
		return false
	}
	return report("connect_to_node", s.ConnectToNode(context.Background(), address, port))
}

// ConnectToAllNodes returns how many registry peers answered.
func ConnectToAllNodes() (n uint32) {
	defer recoverTo("connect_to_all_nodes", &n)
	s, ok := state("connect_to_all_nodes")
	if !ok {
		return 0
	}
	n, err := s.ConnectToAllNodes(context.Background())
	if !report("connect_to_all_nodes", err) {
		return 0
	}
	return n
}

func SendMessage(address string, port uint16, payload []byte) (ok bool) {
	defer recoverTo("send_p2p_message", &ok)
	s, ok := state("send_p2p_message")
	if !ok {
		return false
	}
	return report("send_p2p_message", s.SendMessage(context.Background(), address, port, payload))
}

// EnableKernelBlock pushes the blacklist into the host packet filter.
// Errors are logged only.
func EnableKernelBlock() {
	defer recoverTo("kernel_block_enable", new(struct{}))
	if s, ok := state("kernel_block_enable"); ok {
		report("kernel_block_enable", s.EnableKernelBlock(context.Background()))
	}
}

func DisableKernelBlock() {
	defer recoverTo("kernel_block_disable", new(struct{}))
	if s, ok := state("kernel_block_disable"); ok {
		report("kernel_block_disable", s.DisableKernelBlock(context.Background()))
	}
}

// AddIP blocks ip locally until it is explicitly unblocked.
func AddIP(ip string) (ok bool) {
	defer recoverTo("block_ip", &ok)
	s, ok := state("block_ip")
	if !ok {
		return false
	}
	return report("block_ip", s.AddIP(ip))
}

// AddDomain records domain as a local threat at the given level.
func AddDomain(domain string, level uint8) (ok bool) {
	defer recoverTo("block_domain", &ok)
	if !utf8.ValidString(domain) {
		return false
	}
	s, ok := state("block_domain")
	if !ok {
		return false
	}
	return report("block_domain", s.AddDomain(domain, level))
}

// Shutdown stops background work. A later Init starts a fresh core.
func Shutdown() {
	defer recoverTo("shutdown", new(struct{}))
	core.Shutdown()
}
