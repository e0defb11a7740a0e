// Package telemetry exposes the streamer's prometheus metrics.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the pipeline updates. One instance
// per session; tests pass their own registry.
type Metrics struct {
	SamplesPulled  prometheus.Counter
	FramesEncoded  prometheus.Counter
	FramesSent     prometheus.Counter
	FramesAcked    prometheus.Counter
	FramesLost     prometheus.Counter
	FramesDropped  *prometheus.CounterVec // reason: overload | permanent
	PublishRetries prometheus.Counter
	QueueDepth     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SamplesPulled: f.NewCounter(prometheus.CounterOpts{
			Name: "eegstream_samples_pulled_total",
			Help: "Samples pulled from the device adapter.",
		}),
		FramesEncoded: f.NewCounter(prometheus.CounterOpts{
			Name: "eegstream_frames_encoded_total",
			Help: "Frames produced by the encoder.",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "eegstream_frames_sent_total",
			Help: "Frames delivered to the broker.",
		}),
		FramesAcked: f.NewCounter(prometheus.CounterOpts{
			Name: "eegstream_frames_acked_total",
			Help: "Frames acknowledged by the broker.",
		}),
		FramesLost: f.NewCounter(prometheus.CounterOpts{
			Name: "eegstream_frames_lost_total",
			Help: "Frames undelivered when the drain timeout elapsed.",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eegstream_frames_dropped_total",
			Help: "Frames dropped, by reason.",
		}, []string{"reason"}),
		PublishRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "eegstream_publish_retries_total",
			Help: "Transient send failures retried with backoff.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "eegstream_queue_depth",
			Help: "Frames waiting in the loop-to-publisher queue.",
		}),
	}
}

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
