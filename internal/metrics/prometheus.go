package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all discovery-engine metrics.
type Registry struct {
	// Store
	EntitiesByType   *prometheus.GaugeVec
	EntitiesByStatus *prometheus.GaugeVec
	RelationsTotal   prometheus.Gauge
	EntitiesRemoved  prometheus.Counter

	// Collectors
	ScanDuration *prometheus.HistogramVec
	ScanErrors   *prometheus.CounterVec
	ScanRuns     *prometheus.CounterVec

	// Packet pipeline
	PacketPipelineState     prometheus.Gauge
	PacketsCaptured         prometheus.Counter
	PacketRingOccupancy     prometheus.Gauge
	PacketDrainDropped      prometheus.Counter

	// Fingerprinting and classification
	FingerprintConfidence *prometheus.HistogramVec
	ActiveProbesTotal     *prometheus.CounterVec

	// Transport
	PublishLatency  *prometheus.HistogramVec
	SubscriberCount prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.EntitiesByType = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meridian_entities_by_type",
		Help: "Current entity count by signal type",
	}, []string{"type"})

	r.EntitiesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meridian_entities_by_status",
		Help: "Current entity count by lifecycle status",
	}, []string{"status"})

	r.RelationsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_relations_total",
		Help: "Current number of relations in the store",
	})

	r.EntitiesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_entities_removed_total",
		Help: "Total entities removed by the lifecycle tick",
	})

	r.ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_collector_scan_duration_seconds",
		Help:    "Collector scan duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"collector"})

	r.ScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_collector_scan_errors_total",
		Help: "Total collector scans that returned an empty result due to an internal failure",
	}, []string{"collector"})

	r.ScanRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_collector_scan_runs_total",
		Help: "Total collector scan invocations",
	}, []string{"collector"})

	r.PacketPipelineState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_packet_pipeline_state",
		Help: "Packet pipeline state (0=idle, 1=starting, 2=capturing, 3=stopping)",
	})

	r.PacketsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_packets_captured_total",
		Help: "Total packets parsed from the capture subprocess",
	})

	r.PacketRingOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_packet_ring_occupancy",
		Help: "Current number of events held in the bounded packet ring",
	})

	r.PacketDrainDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_packet_drain_dropped_total",
		Help: "Total packet events evicted from the bounded ring on overflow",
	})

	r.FingerprintConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_os_fingerprint_confidence",
		Help:    "Distribution of OS fingerprint confidence scores applied to entities",
		Buckets: []float64{0.45, 0.6, 0.75, 0.85, 0.95, 1.0},
	}, []string{"os_family"})

	r.ActiveProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_active_probes_total",
		Help: "Total active OS probes run, by outcome",
	}, []string{"outcome"})

	r.PublishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_publish_latency_seconds",
		Help:    "Time to build and fan out a snapshot publication",
		Buckets: prometheus.DefBuckets,
	}, []string{"payload_type"})

	r.SubscriberCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_transport_subscribers",
		Help: "Current number of connected transport subscribers",
	})

	return r
}

// RecordScan records one collector invocation's duration and outcome.
func (r *Registry) RecordScan(collector string, seconds float64, failed bool) {
	r.ScanRuns.WithLabelValues(collector).Inc()
	r.ScanDuration.WithLabelValues(collector).Observe(seconds)
	if failed {
		r.ScanErrors.WithLabelValues(collector).Inc()
	}
}

// RecordFingerprint records one applied OS fingerprint confidence score.
func (r *Registry) RecordFingerprint(osFamily string, confidence float64) {
	r.FingerprintConfidence.WithLabelValues(osFamily).Observe(confidence)
}

// RecordActiveProbe records one active OS probe outcome.
func (r *Registry) RecordActiveProbe(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.ActiveProbesTotal.WithLabelValues(outcome).Inc()
}

// SetPacketPipelineState reports the pipeline's current lifecycle state as
// a numeric gauge (0=idle, 1=starting, 2=capturing, 3=stopping).
func (r *Registry) SetPacketPipelineState(stateOrdinal int) {
	r.PacketPipelineState.Set(float64(stateOrdinal))
}
