// Package telemetry holds the prometheus instruments and the otel tracer of
// an evaluation run.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalnine/robogauge/internal/result"
)

const tracerName = "github.com/signalnine/robogauge"

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	cells        *prometheus.CounterVec
	cellDuration prometheus.Histogram
	recoveries   prometheus.Counter
	abortedGoals prometheus.Counter
	probes       *prometheus.CounterVec
	tasks        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cells: f.NewCounterVec(prometheus.CounterOpts{
			Name: "robogauge_cells_total",
			Help: "Grid cells evaluated by status",
		}, []string{"status"}),
		cellDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "robogauge_cell_duration_seconds",
			Help:    "Wall-clock duration of one grid cell",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		recoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "robogauge_penetration_recoveries_total",
			Help: "Soft resets after a penetration fault",
		}),
		abortedGoals: f.NewCounter(prometheus.CounterOpts{
			Name: "robogauge_aborted_goals_total",
			Help: "Goals aborted by a non-recoverable fault",
		}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "robogauge_level_probes_total",
			Help: "Level search probes by level and outcome",
		}, []string{"level", "result"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "robogauge_stress_tasks_total",
			Help: "Stress benchmark tasks by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveCell(c result.Cell) {
	if m == nil {
		return
	}
	m.cells.WithLabelValues(string(c.Status)).Inc()
	m.cellDuration.Observe(c.DurationS)
	if c.Result == nil {
		return
	}
	m.recoveries.Add(float64(c.Result.Recoveries))
	for _, g := range c.Result.Goals {
		if g.Aborted {
			m.abortedGoals.Inc()
		}
	}
}

func (m *Metrics) ObserveProbe(level int, passed bool) {
	if m == nil {
		return
	}
	res := "fail"
	if passed {
		res = "pass"
	}
	m.probes.WithLabelValues(strconv.Itoa(level), res).Inc()
}

func (m *Metrics) ObserveTask(outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
}

// Start opens a span on the global tracer provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
