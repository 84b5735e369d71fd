package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

const namespace = "webapkd"

// Registry holds every webapkd metric and is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// ChecksStarted counts manifest fetches begun by the update manager.
	ChecksStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_checks_started_total",
			Help:      "Total number of WebAPK update checks started.",
		},
	)

	// ChecksFinished counts checks by outcome: manifest, no_manifest or timeout.
	ChecksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_checks_finished_total",
			Help:      "Total number of WebAPK update checks finished, by outcome.",
		},
		[]string{"outcome"},
	)

	// UpdateReasons counts decisions by reason, NONE included.
	UpdateReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_reasons_total",
			Help:      "Update decisions by reason.",
		},
		[]string{"reason"},
	)

	// RequestsQueued counts update requests handed to the scheduler.
	RequestsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_requests_queued_total",
			Help:      "Update requests scheduled for delivery.",
		},
		[]string{"forced"},
	)

	// DeliveriesFinished counts install outcomes of delivered requests.
	DeliveriesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_deliveries_total",
			Help:      "Delivered update requests by install result.",
		},
		[]string{"result"},
	)

	// InstallLatency records the round trip to the installer.
	InstallLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_latency_seconds",
			Help:      "Latency between publishing an update request and receiving its result.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// ScheduledDeliveries is the number of tasks waiting in the scheduler.
	ScheduledDeliveries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_deliveries",
			Help:      "Update deliveries currently waiting to run.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ChecksStarted,
		ChecksFinished,
		UpdateReasons,
		RequestsQueued,
		DeliveriesFinished,
		InstallLatency,
		ScheduledDeliveries,
	)
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

var brokerOnce sync.Once

// RegisterBrokerStatus exposes connected as a 0/1 gauge. Only the first call
// registers.
func RegisterBrokerStatus(connected func() bool) {
	brokerOnce.Do(func() {
		Registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "broker_connected",
				Help:      "Connectivity to the MQTT broker (1=connected, 0=not connected).",
			},
			func() float64 {
				if connected() {
					return 1
				}
				return 0
			},
		))
	})
}

// Sink feeds engine observations into the package metrics.
type Sink struct{}

var _ core.MetricsSink = Sink{}

func (Sink) CheckStarted() { ChecksStarted.Inc() }

func (Sink) CheckFinished(outcome string) { ChecksFinished.WithLabelValues(outcome).Inc() }

func (Sink) UpdateReason(r model.UpdateReason) { UpdateReasons.WithLabelValues(r.String()).Inc() }

func (Sink) RequestQueued(forced bool) {
	label := "false"
	if forced {
		label = "true"
	}
	RequestsQueued.WithLabelValues(label).Inc()
}

func (Sink) DeliveryFinished(result model.InstallResult) {
	DeliveriesFinished.WithLabelValues(result.String()).Inc()
}
