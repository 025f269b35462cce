package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile_YAML(t *testing.T) {
	yamlContent := `
rpc_endpoint: https://rpc.orasrs.test
contract_address: "0xabc"
ttl_seconds: 3600
refresh_interval_sec: 60
probe_parallelism: 4
kernel_block: true
`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	if cfg.RPCEndpoint != "https://rpc.orasrs.test" {
		t.Errorf("expected rpc_endpoint from file, got %s", cfg.RPCEndpoint)
	}
	if cfg.ContractAddress != "0xabc" {
		t.Errorf("expected contract_address '0xabc', got %s", cfg.ContractAddress)
	}
	if cfg.TTLSeconds != 3600 {
		t.Errorf("expected ttl_seconds 3600, got %d", cfg.TTLSeconds)
	}
	if cfg.RefreshInterval() != time.Minute {
		t.Errorf("expected refresh interval 1m, got %v", cfg.RefreshInterval())
	}
	if cfg.ProbeParallelism != 4 {
		t.Errorf("expected probe_parallelism 4, got %d", cfg.ProbeParallelism)
	}
	if !cfg.KernelBlock {
		t.Error("expected kernel_block true")
	}
	if cfg.Upstream != UpstreamHTTP {
		t.Errorf("expected default upstream http, got %s", cfg.Upstream)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	jsonContent := `{
		"upstream": "redis",
		"redis_url": "redis://localhost:6379/0",
		"redis_key_prefix": "feed",
		"metrics_addr": ":8080"
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configFile, []byte(jsonContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}

	if cfg.Upstream != UpstreamRedis {
		t.Errorf("expected upstream redis, got %s", cfg.Upstream)
	}
	if cfg.RedisKeyPrefix != "feed" {
		t.Errorf("expected redis_key_prefix 'feed', got %s", cfg.RedisKeyPrefix)
	}
	if cfg.MetricsAddr != ":8080" {
		t.Errorf("expected metrics_addr ':8080', got %s", cfg.MetricsAddr)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	toml := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(toml, []byte("x = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(toml); err == nil {
		t.Error("expected error for unsupported extension")
	}

	bad := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("upstream: carrier-pigeon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected validation error for unknown upstream")
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.RPCEndpoint != DefaultRPCEndpoint {
		t.Errorf("expected default rpc endpoint, got %s", cfg.RPCEndpoint)
	}
	if cfg.TTLSeconds != 86400 {
		t.Errorf("expected default ttl 86400, got %d", cfg.TTLSeconds)
	}
	if cfg.RefreshIntervalSec != 300 {
		t.Errorf("expected default refresh interval 300, got %d", cfg.RefreshIntervalSec)
	}
	if cfg.ProbeTimeout() != 5*time.Second {
		t.Errorf("expected default probe timeout 5s, got %v", cfg.ProbeTimeout())
	}
	if cfg.OTELService != "orasrs-core" {
		t.Errorf("unexpected default otel service: %s", cfg.OTELService)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{}
		c.SetDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "static upstream ignores endpoint", mutate: func(c *Config) { c.Upstream = UpstreamStatic; c.RPCEndpoint = "nope" }},
		{name: "zero ttl", mutate: func(c *Config) { c.TTLSeconds = 0 }, wantErr: true},
		{name: "zero interval", mutate: func(c *Config) { c.RefreshIntervalSec = 0 }, wantErr: true},
		{name: "negative rate", mutate: func(c *Config) { c.ProbeRatePerSec = -1 }, wantErr: true},
		{name: "non-http endpoint", mutate: func(c *Config) { c.RPCEndpoint = "ftp://rpc" }, wantErr: true},
		{name: "redis without url", mutate: func(c *Config) { c.Upstream = UpstreamRedis }, wantErr: true},
		{name: "unknown upstream", mutate: func(c *Config) { c.Upstream = "grpc" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMergeWithFlags(t *testing.T) {
	cfg := &Config{
		RPCEndpoint:      "http://original:8545",
		ContractAddress:  "0xoriginal",
		ProbeParallelism: 8,
	}

	flags := map[string]interface{}{
		"rpc_endpoint":      "http://new:8545",
		"probe_parallelism": 32,
		"kernel_block":      true,
		"contract_address":  "",
	}

	cfg.MergeWithFlags(flags)

	if cfg.RPCEndpoint != "http://new:8545" {
		t.Errorf("expected rpc_endpoint to be overridden, got %s", cfg.RPCEndpoint)
	}
	if cfg.ContractAddress != "0xoriginal" {
		t.Errorf("expected contract_address to remain, got %s", cfg.ContractAddress)
	}
	if cfg.ProbeParallelism != 32 {
		t.Errorf("expected probe_parallelism 32, got %d", cfg.ProbeParallelism)
	}
	if !cfg.KernelBlock {
		t.Error("expected kernel_block to be set")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ORASRS_RPC_ENDPOINT", "http://env:8545")
	t.Setenv("ORASRS_CONTRACT_ADDRESS", "0xenv")
	t.Setenv("ORASRS_TTL_SECONDS", "120")
	t.Setenv("ORASRS_UPSTREAM", "redis")
	t.Setenv("REDIS_URL", "redis://redis.test:6379/1")
	t.Setenv("ORASRS_KERNEL_BLOCK", "true")
	t.Setenv("ORASRS_REFRESH_INTERVAL_SEC", "not-a-number")

	cfg := &Config{RefreshIntervalSec: 30}
	cfg.LoadFromEnv()

	if cfg.RPCEndpoint != "http://env:8545" {
		t.Errorf("expected RPCEndpoint from env, got %s", cfg.RPCEndpoint)
	}
	if cfg.ContractAddress != "0xenv" {
		t.Errorf("expected ContractAddress from env, got %s", cfg.ContractAddress)
	}
	if cfg.TTLSeconds != 120 {
		t.Errorf("expected TTLSeconds 120, got %d", cfg.TTLSeconds)
	}
	if cfg.Upstream != UpstreamRedis || cfg.RedisURL != "redis://redis.test:6379/1" {
		t.Errorf("expected redis upstream from env, got %s %s", cfg.Upstream, cfg.RedisURL)
	}
	if !cfg.KernelBlock {
		t.Error("expected KernelBlock from env")
	}
	if cfg.RefreshIntervalSec != 30 {
		t.Errorf("malformed env value should be ignored, got %d", cfg.RefreshIntervalSec)
	}
}
