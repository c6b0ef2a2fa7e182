package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsRegisterer prometheus.Registerer = prometheus.DefaultRegisterer

	consumerOnce sync.Once
	consumerM    *consumerMetrics
	producerOnce sync.Once
	producerM    *producerMetrics
)

// SetMetricsRegisterer must be called before the first consumer or
// producer is built. Tests use it to avoid the global registry.
func SetMetricsRegisterer(reg prometheus.Registerer) { metricsRegisterer = reg }

type consumerMetrics struct {
	laneDepth *prometheus.GaugeVec
	handled   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func consumerMetricsOnce() *consumerMetrics {
	consumerOnce.Do(func() {
		f := promauto.With(metricsRegisterer)
		consumerM = &consumerMetrics{
			laneDepth: f.NewGaugeVec(prometheus.GaugeOpts{
				Name: "finscan_kafka_consumer_lane_depth",
				Help: "Messages waiting in a consumer lane",
			}, []string{"lane"}),
			handled: f.NewCounterVec(prometheus.CounterOpts{
				Name: "finscan_kafka_consumer_messages_total",
				Help: "Messages handled by outcome (ok, failed, dlq)",
			}, []string{"topic", "outcome"}),
			latency: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "finscan_kafka_consumer_handle_seconds",
				Help:    "Time from fetch to commit",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		}
	})
	return consumerM
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func producerMetricsOnce() *producerMetrics {
	producerOnce.Do(func() {
		f := promauto.With(metricsRegisterer)
		producerM = &producerMetrics{
			messages: f.NewCounterVec(prometheus.CounterOpts{
				Name: "finscan_kafka_producer_messages_total",
				Help: "Messages published, by result",
			}, []string{"topic", "compression", "result"}),
			bytes: f.NewCounterVec(prometheus.CounterOpts{
				Name: "finscan_kafka_producer_bytes_total",
				Help: "Payload bytes published",
			}, []string{"topic", "compression"}),
			latency: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "finscan_kafka_producer_publish_seconds",
				Help:    "Publish latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		}
	})
	return producerM
}

func (m *producerMetrics) observe(topic, comp string, bytes int64, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, comp, result).Add(float64(count))
	if err == nil {
		m.bytes.WithLabelValues(topic, comp).Add(float64(bytes))
	}
	m.latency.WithLabelValues(topic).Observe(dur.Seconds())
}
