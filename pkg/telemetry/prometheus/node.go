package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	streamlinkNamespace string = "streamlink"
)

type ConnectivityPath string

const (
	PathDirect ConnectivityPath = "direct"
	PathRelay  ConnectivityPath = "relay"
)

var (
	initialized atomic.Bool

	ConnectivityCounter *prometheus.CounterVec
	CandidateCounter    *prometheus.CounterVec
	TurnRequestCounter  *prometheus.CounterVec

	promSessionsGauge prometheus.Gauge
)

// Init registers the collectors once. Recording before Init is a no-op.
func Init(nodeID string) {
	if initialized.Swap(true) {
		return
	}

	ConnectivityCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   streamlinkNamespace,
			Subsystem:   "node",
			Name:        "connectivity",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
		},
		[]string{"path", "status"},
	)

	CandidateCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   streamlinkNamespace,
			Subsystem:   "node",
			Name:        "candidates",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
		},
		[]string{"type", "origin"},
	)

	TurnRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   streamlinkNamespace,
			Subsystem:   "turn",
			Name:        "requests",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
		},
		[]string{"type", "status"},
	)

	promSessionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   streamlinkNamespace,
			Subsystem:   "node",
			Name:        "sessions",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
			Help:        "Sessions currently open.",
		},
	)

	prometheus.MustRegister(ConnectivityCounter)
	prometheus.MustRegister(CandidateCounter)
	prometheus.MustRegister(TurnRequestCounter)
	prometheus.MustRegister(promSessionsGauge)

	initPacketStats(nodeID)
	initQualityStats(nodeID)
}

func IsInitialized() bool {
	return initialized.Load()
}

func RecordConnectivity(path ConnectivityPath, err error) {
	if !initialized.Load() {
		return
	}
	ConnectivityCounter.WithLabelValues(string(path), statusLabel(err)).Inc()
}

func RecordCandidate(candidateType string, origin string) {
	if !initialized.Load() {
		return
	}
	CandidateCounter.WithLabelValues(candidateType, origin).Inc()
}

func RecordTurnRequest(requestType string, err error) {
	if !initialized.Load() {
		return
	}
	TurnRequestCounter.WithLabelValues(requestType, statusLabel(err)).Inc()
}

func AddSession() {
	if !initialized.Load() {
		return
	}
	promSessionsGauge.Inc()
}

func SubSession() {
	if !initialized.Load() {
		return
	}
	promSessionsGauge.Dec()
}

func statusLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
