package kafka

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	producerMessages      *prometheus.CounterVec
	producerBytes         *prometheus.CounterVec
	producerLatency       *prometheus.HistogramVec
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec

	metricsOnce       sync.Once
	metricsRegisterer prometheus.Registerer
)

// SetMetricsRegisterer swaps the registerer used when the first producer or
// consumer is built. Tests pass a fresh registry.
func SetMetricsRegisterer(reg prometheus.Registerer) { metricsRegisterer = reg }

func initMetrics() {
	metricsOnce.Do(func() {
		reg := metricsRegisterer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		f := promauto.With(reg)

		producerMessages = f.NewCounterVec(
			prometheus.CounterOpts{Name: "stocksense_kafka_producer_messages_total", Help: "Messages handed to the Kafka writer"},
			[]string{"topic", "result"},
		)
		producerBytes = f.NewCounterVec(
			prometheus.CounterOpts{Name: "stocksense_kafka_producer_bytes_total", Help: "Encoded payload bytes handed to the Kafka writer"},
			[]string{"topic"},
		)
		producerLatency = f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "stocksense_kafka_producer_publish_seconds", Help: "Time spent in WriteMessages", Buckets: prometheus.DefBuckets},
			[]string{"topic"},
		)
		consumerQueueDepth = f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "stocksense_kafka_consumer_queue_depth", Help: "Messages waiting for a consumer worker"},
			[]string{"topic"},
		)
		consumerHandleLatency = f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "stocksense_kafka_consumer_handle_seconds", Help: "Handling time per message including retries"},
			[]string{"topic"},
		)
	})
}

func observePublish(topic string, n int, bytes int, seconds float64, err error) {
	if producerMessages == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, result).Add(float64(n))
	producerBytes.WithLabelValues(topic).Add(float64(bytes))
	if seconds >= 0 {
		producerLatency.WithLabelValues(topic).Observe(seconds)
	}
}
