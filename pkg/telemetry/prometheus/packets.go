package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

var (
	probesIn  atomic.Uint64
	probesOut atomic.Uint64
	relayIn   atomic.Uint64
	relayOut  atomic.Uint64

	promPacketLabels = []string{"direction"}

	promProbeTotal      *prometheus.CounterVec
	promRelayBytesTotal *prometheus.CounterVec
)

func initPacketStats(nodeID string) {
	promProbeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   streamlinkNamespace,
		Subsystem:   "probe",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)
	promRelayBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   streamlinkNamespace,
		Subsystem:   "relay",
		Name:        "bytes",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)

	prometheus.MustRegister(promProbeTotal)
	prometheus.MustRegister(promRelayBytesTotal)
}

func IncrementProbes(direction Direction, count uint64) {
	if direction == Incoming {
		probesIn.Add(count)
	} else {
		probesOut.Add(count)
	}
	if initialized.Load() {
		promProbeTotal.WithLabelValues(string(direction)).Add(float64(count))
	}
}

func IncrementRelayBytes(direction Direction, count uint64) {
	if direction == Incoming {
		relayIn.Add(count)
	} else {
		relayOut.Add(count)
	}
	if initialized.Load() {
		promRelayBytesTotal.WithLabelValues(string(direction)).Add(float64(count))
	}
}

// PacketTotals returns process wide probe and relay counts.
func PacketTotals() (probesIncoming, probesOutgoing, relayBytesIncoming, relayBytesOutgoing uint64) {
	return probesIn.Load(), probesOut.Load(), relayIn.Load(), relayOut.Load()
}
