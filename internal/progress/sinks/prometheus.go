package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkuosman/partsmirror/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	pages         *prometheus.CounterVec
	parts         *prometheus.CounterVec
	images        *prometheus.CounterVec
	imageBytes    prometheus.Counter
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partsmirror_runs_started_total",
			Help: "Total crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partsmirror_runs_completed_total",
			Help: "Total crawl runs finished, partitioned by result.",
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partsmirror_pages_total",
			Help: "Model pages visited, partitioned by result.",
		}, []string{"result"}),
		parts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partsmirror_parts_total",
			Help: "Part records processed, partitioned by outcome.",
		}, []string{"outcome"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partsmirror_images_total",
			Help: "Image synchronizations, partitioned by status.",
		}, []string{"status"}),
		imageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partsmirror_image_bytes_total",
			Help: "Total image bytes transferred.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.pages, s.parts, s.images, s.imageBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from one event.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
	case progress.StagePageDone:
		s.pages.WithLabelValues("success").Inc()
	case progress.StagePageError:
		s.pages.WithLabelValues("error").Inc()
	case progress.StagePart:
		s.parts.WithLabelValues(evt.Outcome).Inc()
	case progress.StageImage:
		status := evt.Outcome
		if status == "" {
			status = "error"
		}
		s.images.WithLabelValues(status).Inc()
		if evt.Bytes > 0 {
			s.imageBytes.Add(float64(evt.Bytes))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
