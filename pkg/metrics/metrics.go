// Package metrics provides Prometheus instrumentation for the order
// listener.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg)
//
//	collector.EventEmitted("OFICIT")
//	collector.SetWatermark("OFICIT", 101)
//
//	// Expose /metrics and /healthz
//	go metrics.Serve(ctx, ":9108", reg, log)
//
// All Collector methods are safe on a nil receiver, so components can be
// built without instrumentation in tests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "factulink"

// Collector groups every metric the listener records.
type Collector struct {
	eventsEmitted *prometheus.CounterVec   // Events handed to the funnel
	pollErrors    *prometheus.CounterVec   // Failures by business and kind
	watermark     *prometheus.GaugeVec     // Current watermark per business
	pollDuration  *prometheus.HistogramVec // Duration of one poll cycle
	funnelDepth   prometheus.Gauge         // Events waiting for the controller
	sinkSent      *prometheus.CounterVec   // Controller deliveries by status
}

// NewCollector creates the listener metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		eventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_emitted_total",
				Help:      "Total number of order events enqueued for the controller",
			},
			[]string{"business"},
		),
		pollErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_errors_total",
				Help:      "Total number of listener failures by kind (connection, query, processing)",
			},
			[]string{"business", "kind"},
		),
		watermark: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watermark",
				Help:      "Highest order identifier emitted per business",
			},
			[]string{"business"},
		),
		pollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Duration of one detect-transform-emit cycle",
				Buckets: []float64{
					0.005, // local file, nothing new
					0.025,
					0.1,
					0.5,
					1,
					5, // locked file waiting on busy timeout
					30,
				},
			},
			[]string{"business"},
		),
		funnelDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "funnel_depth",
				Help:      "Events queued and not yet taken by the controller",
			},
		),
		sinkSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_sent_total",
				Help:      "Events delivered to the controller sink by status",
			},
			[]string{"sink", "status"},
		),
	}
}

// EventEmitted counts one event enqueued for business.
func (c *Collector) EventEmitted(business string) {
	if c == nil {
		return
	}
	c.eventsEmitted.WithLabelValues(business).Inc()
}

// PollError counts one failure of the given kind.
func (c *Collector) PollError(business, kind string) {
	if c == nil {
		return
	}
	c.pollErrors.WithLabelValues(business, kind).Inc()
}

// SetWatermark records the current watermark of business.
func (c *Collector) SetWatermark(business string, id int64) {
	if c == nil {
		return
	}
	c.watermark.WithLabelValues(business).Set(float64(id))
}

// ObservePoll records the duration of one poll cycle.
func (c *Collector) ObservePoll(business string, d time.Duration) {
	if c == nil {
		return
	}
	c.pollDuration.WithLabelValues(business).Observe(d.Seconds())
}

// SetFunnelDepth records the number of queued events.
func (c *Collector) SetFunnelDepth(depth int) {
	if c == nil {
		return
	}
	c.funnelDepth.Set(float64(depth))
}

// SinkSent counts one delivery attempt to the named sink.
func (c *Collector) SinkSent(sink string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.sinkSent.WithLabelValues(sink, status).Inc()
}

// Handler returns the HTTP handler exposing g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve exposes Handler(g) on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
