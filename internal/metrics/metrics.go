// Package metrics exposes Prometheus counters for the game server. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	connections   prometheus.Gauge
	rooms         prometheus.Gauge
	commands      *prometheus.CounterVec
	gamesStarted  prometheus.Counter
	gamesFinished *prometheus.CounterVec
	settleErrors  prometheus.Counter
	slowConsumers prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pvp", Name: "ws_connections", Help: "Open websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pvp", Name: "rooms", Help: "Game rooms cached by the session registry.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvp", Name: "commands_total", Help: "Inbound commands by type and result code.",
		}, []string{"type", "result"}),
		gamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pvp", Name: "games_started_total", Help: "Games that moved to playing.",
		}),
		gamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvp", Name: "games_finished_total", Help: "Finished games by reason.",
		}, []string{"reason"}),
		settleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pvp", Name: "settlement_failures_total", Help: "Settlement attempts that did not commit.",
		}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pvp", Name: "slow_consumer_drops_total", Help: "Sockets dropped because their outbox was full.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.rooms, m.commands, m.gamesStarted, m.gamesFinished, m.settleErrors, m.slowConsumers,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

// Command counts one handled command. result is "ok" or an error code.
func (m *Metrics) Command(kind, result string) {
	if m != nil {
		m.commands.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) GameStarted() {
	if m != nil {
		m.gamesStarted.Inc()
	}
}

func (m *Metrics) GameFinished(reason string) {
	if m != nil {
		m.gamesFinished.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SettlementFailed() {
	if m != nil {
		m.settleErrors.Inc()
	}
}

func (m *Metrics) SlowConsumer() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}
