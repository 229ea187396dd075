package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_passes_total", Help: "Completed reconciliation passes"},
	)
	SyncPassesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_passes_skipped_total", Help: "Ticks skipped because a pass was still running"},
	)
	BidPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bid_pushes_total", Help: "Bid pushes attempted per platform"},
		[]string{"platform", "result"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstream_errors_total", Help: "Upstream call failures by platform and kind"},
		[]string{"platform", "kind"},
	)
	AuctionsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "auctions_registered", Help: "Synced auctions currently in the registry"},
	)
)

func init() {
	prometheus.MustRegister(SyncPassesTotal, SyncPassesSkipped, BidPushesTotal, UpstreamErrorsTotal, AuctionsRegistered)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
