package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"burrow/internal/events"
)

var (
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burrow_operations_total",
		Help: "Lifecycle operations by type",
	}, []string{"op"})

	StopEscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_stop_escalations_total",
		Help: "Graceful stops that fell back to a forceful stop",
	})

	NetworkUnconfirmedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_network_unconfirmed_total",
		Help: "Starts that could not confirm network readiness",
	})

	FleetPassFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "burrow_fleet_pass_failures",
		Help: "Failed containers in the most recent fleet pass",
	}, []string{"op"})

	ContainersByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "burrow_containers",
		Help: "Containers on the host by run state",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(
		OperationsTotal,
		StopEscalationsTotal,
		NetworkUnconfirmedTotal,
		FleetPassFailures,
		ContainersByState,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterEventHandler wires metric updates to the event emitter.
func RegisterEventHandler(emitter *events.Emitter) {
	emitter.OnEvent(func(ev events.Event) {
		switch ev.Type {
		case events.ContainerStarted, events.ContainerStopped,
			events.ContainerCreated, events.ContainerDestroyed,
			events.ContainerResynced:
			OperationsTotal.WithLabelValues(ev.Type).Inc()
		case events.StopEscalated:
			StopEscalationsTotal.Inc()
		case events.NetworkUnconfirmed:
			NetworkUnconfirmedTotal.Inc()
		case events.FleetPassDone:
			if op, ok := ev.Fields["op"]; ok {
				if failed, ok := ev.Fields["failed"]; ok {
					if v, err := strconv.ParseFloat(failed, 64); err == nil {
						FleetPassFailures.WithLabelValues(op).Set(v)
					}
				}
			}
		}
	})
}

// SetContainerCounts records the running/stopped split from a status
// sweep.
func SetContainerCounts(running, stopped int) {
	ContainersByState.WithLabelValues("running").Set(float64(running))
	ContainersByState.WithLabelValues("stopped").Set(float64(stopped))
}
