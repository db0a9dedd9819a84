// Package metrics turns protocol log events into Prometheus metrics.
//
// A Collector is a log.Logger: combine it with other loggers through
// log.NewMultiLogger and hand the result to sessions and servers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hsmlink/hsmlink-go/pkg/log"
	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

// Namespace prefixes every metric name.
const Namespace = "hsmlink"

// Collector counts frames, bytes, state transitions, handshakes and
// errors. It is safe for concurrent use.
type Collector struct {
	Frames        *prometheus.CounterVec
	Bytes         *prometheus.CounterVec
	States        *prometheus.CounterVec
	Sessions      prometheus.Gauge
	Handshakes    *prometheus.CounterVec
	HandshakeTime prometheus.Histogram
	Errors        *prometheus.CounterVec
}

// New registers a Collector's metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_total",
			Help:      "Length-prefixed packets sent and received",
		}, []string{"direction"}),

		Bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transport_bytes_total",
			Help:      "Plaintext bytes moved over sessions",
		}, []string{"direction"}),

		States: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "state_transitions_total",
			Help:      "State changes by entity and new state",
		}, []string{"entity", "state"}),

		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_connected",
			Help:      "Sessions currently in the CONNECTED state",
		}),

		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tls_handshakes_total",
			Help:      "TLS handshakes by outcome and negotiated cipher suite",
		}, []string{"outcome", "cipher_suite"}),

		HandshakeTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "tls_handshake_duration_seconds",
			Help:      "Time from the first handshake step to completion",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Failures by layer and error kind",
		}, []string{"layer", "kind"}),
	}
}

// Log updates the metrics for ev.
func (c *Collector) Log(ev log.Event) {
	switch ev.Category {
	case log.CategoryData:
		c.data(ev)
	case log.CategoryState:
		c.state(ev.StateChange)
	case log.CategoryHandshake:
		c.handshake(ev.Handshake)
	case log.CategoryError:
		c.failure(ev)
	}
}

func (c *Collector) data(ev log.Event) {
	if ev.Data == nil {
		return
	}
	dir := direction(ev.Direction)
	switch ev.Layer {
	case log.LayerFraming:
		c.Frames.WithLabelValues(dir).Inc()
	case log.LayerTransport:
		c.Bytes.WithLabelValues(dir).Add(float64(ev.Data.Size))
	}
}

var connected = socket.StateConnected.String()

func (c *Collector) state(sc *log.StateChangeEvent) {
	if sc == nil {
		return
	}
	c.States.WithLabelValues(entity(sc.Entity), sc.NewState).Inc()
	if sc.Entity != log.StateEntityConnection {
		return
	}
	switch {
	case sc.NewState == connected && sc.OldState != connected:
		c.Sessions.Inc()
	case sc.OldState == connected && sc.NewState != connected:
		c.Sessions.Dec()
	}
}

func (c *Collector) handshake(h *log.HandshakeEvent) {
	if h == nil || h.Outcome == log.HandshakeStarted {
		return
	}
	c.Handshakes.WithLabelValues(outcome(h.Outcome), h.CipherSuite).Inc()
	if h.Outcome == log.HandshakeCompleted && h.Duration > 0 {
		c.HandshakeTime.Observe(h.Duration.Seconds())
	}
}

func (c *Collector) failure(ev log.Event) {
	kind := "unknown"
	layer := ev.Layer
	if ev.Error != nil {
		layer = ev.Error.Layer
		if ev.Error.Code != nil {
			kind = socket.Kind(*ev.Error.Code).String()
		}
	}
	c.Errors.WithLabelValues(layerName(layer), kind).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func direction(d log.Direction) string {
	if d == log.DirectionOut {
		return "out"
	}
	return "in"
}

func entity(e log.StateEntity) string {
	switch e {
	case log.StateEntityConnection:
		return "connection"
	case log.StateEntityChannel:
		return "channel"
	case log.StateEntityListener:
		return "listener"
	default:
		return "unknown"
	}
}

func outcome(o log.HandshakeOutcome) string {
	switch o {
	case log.HandshakeCompleted:
		return "completed"
	case log.HandshakeFailed:
		return "failed"
	default:
		return "started"
	}
}

func layerName(l log.Layer) string {
	switch l {
	case log.LayerTransport:
		return "transport"
	case log.LayerTLS:
		return "tls"
	case log.LayerFraming:
		return "framing"
	default:
		return "unknown"
	}
}

var _ log.Logger = (*Collector)(nil)
