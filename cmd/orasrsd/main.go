package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/orasrs/orasrs-core/internal/addr"
	"github.com/orasrs/orasrs-core/internal/config"
	"github.com/orasrs/orasrs-core/internal/core"
	"github.com/orasrs/orasrs-core/internal/format"
	"github.com/orasrs/orasrs-core/internal/health"
	"github.com/orasrs/orasrs-core/internal/logging"
	"github.com/orasrs/orasrs-core/internal/metrics"
	"github.com/orasrs/orasrs-core/internal/telemetry"
	"github.com/orasrs/orasrs-core/internal/types"
	"github.com/orasrs/orasrs-core/internal/upstream"
)

func main() {
	var configFile string
	var rpcEndpoint string
	var contract string
	var upstreamKind string
	var redisURL string
	var redisPrefix string
	var ttl int
	var interval int
	var parallelism int
	var metricsAddr string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var kernelBlock bool
	var check string
	var outputFormat string
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&rpcEndpoint, "rpc", "", "threat ledger RPC endpoint")
	flag.StringVar(&contract, "contract", "", "threat registry contract address")
	flag.StringVar(&upstreamKind, "upstream", "", "upstream source (http, redis, static)")
	flag.StringVar(&redisURL, "redis_url", "", "redis URL for the redis upstream")
	flag.StringVar(&redisPrefix, "redis_key_prefix", "", "key prefix for the redis upstream")
	flag.IntVar(&ttl, "ttl", 0, "domain threat TTL in seconds")
	flag.IntVar(&interval, "interval", 0, "refresh interval in seconds")
	flag.IntVar(&parallelism, "probe_parallelism", 0, "concurrent peer probes")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.BoolVar(&kernelBlock, "kernel_block", false, "mirror the IP blacklist into the host packet filter")
	flag.StringVar(&check, "check", "", "comma-separated IPs or domains to look up once, then exit")
	flag.StringVar(&outputFormat, "output_format", "text", "verdict format for -check (text, json, jsonl, csv)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "orasrsd runs the OraSRS threat cache as a standalone host process\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -rpc=https://rpc.example -contract=0xabc\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=orasrs.yaml -check=203.0.113.9,evil.example\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  ORASRS_RPC_ENDPOINT, ORASRS_CONTRACT_ADDRESS, ORASRS_UPSTREAM, REDIS_URL\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL        Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("OraSRS Core v" + types.Version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	log := logging.New()
	defer log.Sync()

	outFmt, err := format.ParseFormat(outputFormat)
	if err != nil {
		log.Fatalw("invalid output format", "err", err)
	}
	formatter, err := format.GetFormatter(outFmt)
	if err != nil {
		log.Fatalw("invalid output format", "err", err)
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			log.Fatalw("failed to load config file", "file", configFile, "err", err)
		}
		log.Infow("loaded config from file", "file", configFile)
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	cfg.LoadFromEnv()

	flags := make(map[string]interface{})
	if rpcEndpoint != "" {
		flags["rpc_endpoint"] = rpcEndpoint
	}
	if contract != "" {
		flags["contract_address"] = contract
	}
	if upstreamKind != "" {
		flags["upstream"] = upstreamKind
	}
	if redisURL != "" {
		flags["redis_url"] = redisURL
	}
	if redisPrefix != "" {
		flags["redis_key_prefix"] = redisPrefix
	}
	if ttl > 0 {
		flags["ttl_seconds"] = ttl
	}
	if interval > 0 {
		flags["refresh_interval_sec"] = interval
	}
	if parallelism > 0 {
		flags["probe_parallelism"] = parallelism
	}
	if metricsAddr != "" {
		flags["metrics_addr"] = metricsAddr
	}
	if otelEndpoint != "" {
		flags["otel_endpoint"] = otelEndpoint
	}
	if otelService != "" {
		flags["otel_service"] = otelService
	}
	if kernelBlock {
		flags["kernel_block"] = true
	}
	flags["otel_insecure"] = otelInsecure
	cfg.MergeWithFlags(flags)

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, types.Version, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	opts, err := core.OptionsFromConfig(ctx, cfg, log)
	if err != nil {
		log.Fatalw("upstream init", "upstream", cfg.Upstream, "err", err)
	}
	st, _ := core.Init(ctx, opts)
	defer core.Shutdown()

	if err := st.ForceRefresh(ctx); err != nil {
		log.Warnw("initial threat sync failed", "err", err)
	}

	if check != "" {
		code := runChecks(st, check, formatter, log)
		core.Shutdown()
		os.Exit(code)
	}

	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("version", types.Version)
	healthHandler.SetMetadata("upstream", cfg.Upstream)
	healthHandler.SetMetadata("endpoint", cfg.RPCEndpoint)
	healthHandler.RegisterChecker("cache", health.NewFreshnessChecker(func() (int64, error) {
		s, err := st.Stats()
		return s.LastUpdate, err
	}, 3*cfg.RefreshInterval()))
	healthHandler.RegisterChecker("peers", health.NewPeerChecker(st.Prober().Reachable, st.Prober().Attempted))
	if r, ok := opts.Source.(*upstream.Redis); ok {
		healthHandler.RegisterChecker("redis", health.NewRedisChecker(r.Ping))
	}

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	if cfg.KernelBlock {
		go syncKernelBlock(ctx, st, cfg.RefreshInterval(), log)
	}

	log.Infow("starting orasrsd",
		"endpoint", cfg.RPCEndpoint,
		"contract", cfg.ContractAddress,
		"upstream", cfg.Upstream,
		"interval", cfg.RefreshInterval(),
		"config_file", configFile,
	)
	healthHandler.SetReady(true)

	<-ctx.Done()
	healthHandler.SetReady(false)
	if cfg.KernelBlock {
		if err := st.DisableKernelBlock(context.Background()); err != nil {
			log.Warnw("disable kernel block", "err", err)
		}
	}
	log.Infow("shutdown complete")
}

// runChecks writes one verdict per item and returns 1 if any is a threat,
// 2 if any lookup failed.
func runChecks(st *core.State, list string, f format.Formatter, log *logging.Logger) int {
	code := 0
	var verdicts []format.Verdict
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		v := format.Verdict{Value: item, Kind: "domain"}
		var err error
		if _, perr := addr.Encode(item); perr == nil {
			v.Kind = "ip"
			v.Blocked, err = st.CheckIP(item)
		} else {
			v.Blocked, err = st.CheckDomain(item)
		}
		switch {
		case err != nil:
			v.Error = err.Error()
			code = 2
		case v.Blocked && code == 0:
			code = 1
		}
		verdicts = append(verdicts, v)
	}
	if err := f.Write(os.Stdout, verdicts); err != nil {
		log.Errorw("write verdicts", "err", err)
		return 2
	}
	return code
}

// syncKernelBlock mirrors the blacklist into the packet filter once per
// refresh interval.
func syncKernelBlock(ctx context.Context, st *core.State, every time.Duration, log *logging.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if err := st.EnableKernelBlock(ctx); err != nil {
			log.Warnw("kernel block sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
