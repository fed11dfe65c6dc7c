// Package metrics holds the Prometheus collectors exported by the door server.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "doornode"

var (
	// ActiveSessions follows the registry size; updated on every count change.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "number of live connections",
		})

	// DoorLaunches counts door starts by code and strategy.
	DoorLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "door_launches_total",
			Help:      "door launches by code and strategy",
		}, []string{"code", "strategy"})

	// BridgeGiveUps counts emulator bridges that never became reachable.
	BridgeGiveUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_give_ups_total",
			Help:      "emulator bridge connections abandoned after the retry cap",
		})

	registry     = prometheus.NewRegistry()
	registerOnce sync.Once
)

// Register adds all collectors to r.
func Register(r prometheus.Registerer) {
	r.MustRegister(ActiveSessions, DoorLaunches, BridgeGiveUps)
}

// Handler serves the door server's collectors for scraping.
func Handler() http.Handler {
	registerOnce.Do(func() {
		Register(registry)
	})
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
