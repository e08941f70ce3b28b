package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nxtnode",
		Name:      "chain_height",
		Help:      "Height of the best block in the fork store.",
	})

	ChainScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nxtnode",
		Name:      "chain_score",
		Help:      "Cumulative Nxt score of the best chain, as a float64 approximation.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nxtnode",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	ControllerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nxtnode",
		Name:      "controller_state",
		Help:      "Current sync/forge controller state: 0=offline, 1=syncing, 2=generating.",
	})

	BlocksAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nxtnode",
		Name:      "blocks_appended_total",
		Help:      "Total blocks successfully appended to the fork store.",
	})

	BlocksRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nxtnode",
		Name:      "blocks_rejected_total",
		Help:      "Block append rejections by reason.",
	}, []string{"reason"})

	ForgeAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nxtnode",
		Name:      "forge_attempts_total",
		Help:      "Total forging attempts across all wallet accounts.",
	})

	BlocksForged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nxtnode",
		Name:      "blocks_forged_total",
		Help:      "Total blocks successfully forged locally.",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		ChainScore,
		PeersConnected,
		ControllerState,
		BlocksAppended,
		BlocksRejected,
		ForgeAttempts,
		BlocksForged,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
