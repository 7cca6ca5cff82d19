package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/livekit/streamlink/pkg/qos"
)

var (
	qosBitrate      *prometheus.GaugeVec
	qosFps          *prometheus.GaugeVec
	qosFECRatio     *prometheus.GaugeVec
	qosLoss         *prometheus.GaugeVec
	qosRTT          *prometheus.GaugeVec
	qosGradient     *prometheus.GaugeVec
	qosState        *prometheus.GaugeVec
	qosQualityDrops *prometheus.CounterVec
)

func initQualityStats(nodeID string) {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   streamlinkNamespace,
			Subsystem:   "qos",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"node_id": nodeID},
		}, []string{"session"})
	}

	qosBitrate = gauge("bitrate_kbps", "Target encoder bitrate.")
	qosFps = gauge("fps", "Target encoder frame rate.")
	qosFECRatio = gauge("fec_ratio", "Forward error correction redundancy.")
	qosLoss = gauge("smoothed_loss", "Smoothed loss rate.")
	qosRTT = gauge("smoothed_rtt_ms", "Smoothed round trip time.")
	qosGradient = gauge("delay_gradient", "Filtered one way delay gradient.")
	qosState = gauge("state", "Controller state, 0 hold, 1 increase, 2 decrease.")
	qosQualityDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   streamlinkNamespace,
		Subsystem:   "qos",
		Name:        "quality_drop",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"reason"})

	prometheus.MustRegister(qosBitrate)
	prometheus.MustRegister(qosFps)
	prometheus.MustRegister(qosFECRatio)
	prometheus.MustRegister(qosLoss)
	prometheus.MustRegister(qosRTT)
	prometheus.MustRegister(qosGradient)
	prometheus.MustRegister(qosState)
	prometheus.MustRegister(qosQualityDrops)
}

func RecordQoS(sessionID string, stats qos.Stats) {
	if !initialized.Load() {
		return
	}
	qosBitrate.WithLabelValues(sessionID).Set(stats.CurrentBitrateKbps)
	qosFps.WithLabelValues(sessionID).Set(float64(stats.CurrentFps))
	qosFECRatio.WithLabelValues(sessionID).Set(stats.FECRatio)
	qosLoss.WithLabelValues(sessionID).Set(stats.SmoothedLoss)
	qosRTT.WithLabelValues(sessionID).Set(stats.SmoothedRTTMicros / 1000)
	qosGradient.WithLabelValues(sessionID).Set(stats.DelayGradientEstimate)
	qosState.WithLabelValues(sessionID).Set(float64(stats.State))
}

func RecordQualityDrop(reason string) {
	if !initialized.Load() {
		return
	}
	qosQualityDrops.WithLabelValues(reason).Inc()
}

// ForgetSession drops the per session series.
func ForgetSession(sessionID string) {
	if !initialized.Load() {
		return
	}
	for _, g := range []*prometheus.GaugeVec{qosBitrate, qosFps, qosFECRatio, qosLoss, qosRTT, qosGradient, qosState} {
		g.DeleteLabelValues(sessionID)
	}
}
