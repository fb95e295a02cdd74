// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// Recorder owns every crawl collector. A nil *Recorder is valid and records nothing.
type Recorder struct {
	outcomes       *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	versesWritten  prometheus.Counter
	passes         prometheus.Counter
	dispatched     prometheus.Counter
	pending        prometheus.Gauge
	coveredTargets *prometheus.GaugeVec
	coverageVerses *prometheus.GaugeVec
}

// NewRecorder registers the collectors against reg (the default registerer when nil).
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblecom_fetch_outcomes_total",
			Help: "Worker outcomes partitioned by status and error category.",
		}, []string{"status", "error_type"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "biblecom_target_duration_seconds",
			Help:    "Wall time spent per target, partitioned by status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
		versesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblecom_verses_written_total",
			Help: "Verses written to completed artifacts.",
		}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblecom_passes_total",
			Help: "Dispatch passes started.",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblecom_targets_dispatched_total",
			Help: "Targets handed to workers across all passes.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biblecom_targets_pending",
			Help: "Targets still without an artifact after the latest pass.",
		}),
		coveredTargets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biblecom_coverage_translations",
			Help: "Translations in the latest coverage report, partitioned by source and whether any verse was found.",
		}, []string{"source", "covered"}),
		coverageVerses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biblecom_coverage_verses",
			Help: "Total verses in the latest coverage report per source.",
		}, []string{"source"}),
	}
	for _, collector := range []prometheus.Collector{
		r.outcomes,
		r.fetchDuration,
		r.versesWritten,
		r.passes,
		r.dispatched,
		r.pending,
		r.coveredTargets,
		r.coverageVerses,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register crawl collector: %w", err)
		}
	}
	return r, nil
}

// ObserveOutcome records one worker outcome
func (r *Recorder) ObserveOutcome(o models.FetchOutcome) {
	if r == nil {
		return
	}
	status := o.Status.String()
	errorType := ""
	if o.Err != nil {
		errorType = utils.CategorizeError(o.Err)
	}
	r.outcomes.WithLabelValues(status, errorType).Inc()
	if o.Duration > 0 {
		r.fetchDuration.WithLabelValues(status).Observe(o.Duration.Seconds())
	}
	if o.Status == models.FetchStatusSuccess && o.Verses > 0 {
		r.versesWritten.Add(float64(o.Verses))
	}
}

// ObservePass records the start of a pass dispatching n targets
func (r *Recorder) ObservePass(n int) {
	if r == nil {
		return
	}
	r.passes.Inc()
	r.dispatched.Add(float64(n))
}

// SetPending updates the pending-target gauge
func (r *Recorder) SetPending(n int) {
	if r == nil {
		return
	}
	r.pending.Set(float64(n))
}

// SetCoverage publishes the totals of a freshly written coverage report
func (r *Recorder) SetCoverage(source string, rows []models.CoverageRow) {
	if r == nil {
		return
	}
	covered, uncovered, verses := 0, 0, 0
	for _, row := range rows {
		if row.Verses > 0 {
			covered++
		} else {
			uncovered++
		}
		verses += row.Verses
	}
	r.coveredTargets.WithLabelValues(source, "true").Set(float64(covered))
	r.coveredTargets.WithLabelValues(source, "false").Set(float64(uncovered))
	r.coverageVerses.WithLabelValues(source).Set(float64(verses))
}

// Serve exposes gatherer on addr at /metrics until ctx ends
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("component", "metrics").Infof("Serving metrics on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
