package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	RefreshRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricesheet",
			Subsystem: "api",
			Name:      "refresh_requests_total",
			Help:      "Forced refresh requests by outcome (queued, pending)",
		},
		[]string{"result"},
	)

	FeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pricesheet",
			Subsystem: "api",
			Name:      "feed_clients",
			Help:      "Connected websocket price feed clients",
		},
	)
)

// Register adds the API metrics to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(RefreshRequests, FeedClients)
	})
}
