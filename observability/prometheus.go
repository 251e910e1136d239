package observability

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetrics implements Metrics with client_golang collectors.
type PrometheusMetrics struct {
	renderDuration *prometheus.HistogramVec
	objects        *prometheus.CounterVec
	imageFetches   *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with
// registerer, or the default registerer when nil.
func NewPrometheusMetrics(registerer prometheus.Registerer) (*PrometheusMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flyerkit_render_duration_seconds",
				Help:    "Wall time of one document render.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"result"}, // ok | error
		),
		objects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flyerkit_objects_total",
				Help: "Overlay objects processed by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		imageFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flyerkit_image_fetch_total",
				Help: "Image candidate fetches by source type and result.",
			},
			[]string{"source", "result"},
		),
	}
	for _, c := range []prometheus.Collector{m.renderDuration, m.objects, m.imageFetches} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RenderFinished(seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.renderDuration.WithLabelValues(result).Observe(seconds)
}

func (m *PrometheusMetrics) ObjectRendered(kind, outcome string) {
	if m == nil {
		return
	}
	m.objects.WithLabelValues(kind, outcome).Inc()
}

func (m *PrometheusMetrics) ImageFetched(source, result string) {
	if m == nil {
		return
	}
	m.imageFetches.WithLabelValues(source, result).Inc()
}
