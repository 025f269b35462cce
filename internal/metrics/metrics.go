package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orasrs/orasrs-core/internal/health"
)

var (
	QueriesTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orasrs_queries_total", Help: "boundary lookups"}, []string{"kind", "result"})
	RefreshTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orasrs_refresh_total", Help: "refresh cycles"}, []string{"trigger", "status"})
	UpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orasrs_upstream_errors_total", Help: "failed upstream fetches"}, []string{"op"})
	PrunedTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "orasrs_domains_pruned_total", Help: "expired domain records removed"})
	DroppedTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "orasrs_records_dropped_total", Help: "malformed upstream records skipped"})
	ProbesTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orasrs_peer_probes_total", Help: "peer connection attempts"}, []string{"op", "result"})
	LockFaults     = prometheus.NewCounter(prometheus.CounterOpts{Name: "orasrs_lock_faults_total", Help: "operations refused because cache state is unavailable"})

	BlockedIPs    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "orasrs_blocked_ips", Help: "addresses on the blacklist"})
	DomainThreats = prometheus.NewGauge(prometheus.GaugeOpts{Name: "orasrs_domain_threats", Help: "domain records held, including not yet pruned"})
	Nodes         = prometheus.NewGauge(prometheus.GaugeOpts{Name: "orasrs_nodes", Help: "peers in the node registry"})
	ReachablePeer = prometheus.NewGauge(prometheus.GaugeOpts{Name: "orasrs_reachable_peers", Help: "peers whose last probe succeeded"})
	LastUpdate    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "orasrs_last_update_seconds", Help: "epoch of last successful refresh"})
)

func init() {
	prometheus.MustRegister(QueriesTotal, RefreshTotal, UpstreamErrors, PrunedTotal, DroppedTotal, ProbesTotal, LockFaults,
		BlockedIPs, DomainThreats, Nodes, ReachablePeer, LastUpdate)
}

// ObserveQuery counts one lookup.
func ObserveQuery(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	QueriesTotal.WithLabelValues(kind, result).Inc()
}

// ServeWithHealth exposes /metrics, /health, /ready and /live on addr.
func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler.HealthHandler)
	mux.HandleFunc("/ready", healthHandler.ReadinessHandler)
	mux.HandleFunc("/live", healthHandler.LivenessHandler)
	srv := &http.Server{Addr: addr, Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warnw("metrics server stopped", "err", err)
		return err
	}
	return nil
}
