package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRPCEndpoint = "http://localhost:8545"

	UpstreamHTTP   = "http"
	UpstreamRedis  = "redis"
	UpstreamStatic = "static"
)

// Config holds everything needed to start the threat cache core.
type Config struct {
	// Upstream identity
	RPCEndpoint     string `yaml:"rpc_endpoint" json:"rpc_endpoint"`
	ContractAddress string `yaml:"contract_address" json:"contract_address"`

	// Cache and refresh
	TTLSeconds         int64 `yaml:"ttl_seconds" json:"ttl_seconds"`
	RefreshIntervalSec int   `yaml:"refresh_interval_sec" json:"refresh_interval_sec"`

	// Upstream source
	Upstream       string `yaml:"upstream" json:"upstream"`
	RedisURL       string `yaml:"redis_url" json:"redis_url"`
	RedisKeyPrefix string `yaml:"redis_key_prefix" json:"redis_key_prefix"`

	// Peer probing
	ProbeTimeoutMS   int     `yaml:"probe_timeout_ms" json:"probe_timeout_ms"`
	ProbeParallelism int     `yaml:"probe_parallelism" json:"probe_parallelism"`
	ProbeRatePerSec  float64 `yaml:"probe_rate_per_sec" json:"probe_rate_per_sec"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`

	KernelBlock bool `yaml:"kernel_block" json:"kernel_block"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.RPCEndpoint == "" {
		c.RPCEndpoint = DefaultRPCEndpoint
	}
	if c.TTLSeconds == 0 {
		c.TTLSeconds = 86400
	}
	if c.RefreshIntervalSec == 0 {
		c.RefreshIntervalSec = 300
	}
	if c.Upstream == "" {
		c.Upstream = UpstreamHTTP
	}
	if c.RedisKeyPrefix == "" {
		c.RedisKeyPrefix = "orasrs"
	}
	if c.ProbeTimeoutMS == 0 {
		c.ProbeTimeoutMS = 5000
	}
	if c.ProbeParallelism == 0 {
		c.ProbeParallelism = 16
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.OTELService == "" {
		c.OTELService = "orasrs-core"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.TTLSeconds < 1 {
		return fmt.Errorf("ttl_seconds must be at least 1")
	}
	if c.RefreshIntervalSec < 1 {
		return fmt.Errorf("refresh_interval_sec must be at least 1")
	}
	if c.ProbeTimeoutMS < 1 {
		return fmt.Errorf("probe_timeout_ms must be at least 1")
	}
	if c.ProbeParallelism < 1 {
		return fmt.Errorf("probe_parallelism must be at least 1")
	}
	if c.ProbeRatePerSec < 0 {
		return fmt.Errorf("probe_rate_per_sec must not be negative")
	}
	switch c.Upstream {
	case UpstreamHTTP:
		u, err := url.Parse(c.RPCEndpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("rpc_endpoint must be an http(s) URL, got %q", c.RPCEndpoint)
		}
	case UpstreamRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis upstream")
		}
	case UpstreamStatic:
	default:
		return fmt.Errorf("unknown upstream %q (use http, redis, or static)", c.Upstream)
	}
	return nil
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration
// Command-line flags take precedence over file configuration
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["rpc_endpoint"].(string); ok && v != "" {
		c.RPCEndpoint = v
	}
	if v, ok := flags["contract_address"].(string); ok && v != "" {
		c.ContractAddress = v
	}
	if v, ok := flags["ttl_seconds"].(int); ok && v > 0 {
		c.TTLSeconds = int64(v)
	}
	if v, ok := flags["refresh_interval_sec"].(int); ok && v > 0 {
		c.RefreshIntervalSec = v
	}
	if v, ok := flags["upstream"].(string); ok && v != "" {
		c.Upstream = v
	}
	if v, ok := flags["redis_url"].(string); ok && v != "" {
		c.RedisURL = v
	}
	if v, ok := flags["redis_key_prefix"].(string); ok && v != "" {
		c.RedisKeyPrefix = v
	}
	if v, ok := flags["probe_parallelism"].(int); ok && v > 0 {
		c.ProbeParallelism = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
	if v, ok := flags["kernel_block"].(bool); ok {
		c.KernelBlock = v
	}
}

// LoadFromEnv loads configuration from environment variables. A .env file in
// the working directory is read first when present; real environment
// variables win over it.
func (c *Config) LoadFromEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("ORASRS_RPC_ENDPOINT"); v != "" {
		c.RPCEndpoint = v
	}
	if v := os.Getenv("ORASRS_CONTRACT_ADDRESS"); v != "" {
		c.ContractAddress = v
	}
	if v, err := strconv.ParseInt(os.Getenv("ORASRS_TTL_SECONDS"), 10, 64); err == nil && v > 0 {
		c.TTLSeconds = v
	}
	if v, err := strconv.Atoi(os.Getenv("ORASRS_REFRESH_INTERVAL_SEC")); err == nil && v > 0 {
		c.RefreshIntervalSec = v
	}
	if v := os.Getenv("ORASRS_UPSTREAM"); v != "" {
		c.Upstream = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("ORASRS_REDIS_KEY_PREFIX"); v != "" {
		c.RedisKeyPrefix = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("ORASRS_PROBE_RATE_PER_SEC"), 64); err == nil && v >= 0 {
		c.ProbeRatePerSec = v
	}
	if v := os.Getenv("ORASRS_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.OTELEndpoint = v
	}
	if v, err := strconv.ParseBool(os.Getenv("ORASRS_KERNEL_BLOCK")); err == nil {
		c.KernelBlock = v
	}
}
