package otlp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/config"
)

const shutdownTimeout = 5 * time.Second

// backoffBaseSeconds and backoffMaxSeconds bound the inline retry delay of
// spec.md §4.6 step 5: delay = min(1 * 2^(failures-1), 300) seconds.
const (
	backoffBaseSeconds = 1
	backoffMaxSeconds  = 300
)

// Loop is the timer-driven OTLP push task: idle when disabled, otherwise
// one snapshot→convert→transmit→classify cycle per configured interval.
type Loop struct {
	cfg      config.OpenTelemetry
	gatherer prometheus.Gatherer
	exporter Exporter
	resource *resource.Resource
	health   *Health
	logger   log.Logger

	status              prometheus.Gauge
	lastSuccess         prometheus.Gauge
	consecutiveFailures prometheus.Gauge
	exportDuration      prometheus.Histogram
	exportedTotal       prometheus.Counter

	runningMu    sync.Mutex
	cycleRunning bool
	wg           sync.WaitGroup

	shutdownOnce sync.Once
}

// Exporter is the transport surface the loop needs from an OTLP exporter.
// go.opentelemetry.io/otel/sdk/metric.Exporter satisfies it.
type Exporter interface {
	Export(context.Context, *metricdata.ResourceMetrics) error
	Shutdown(context.Context) error
}

// NewLoop builds a Loop reading scrape-model families from gatherer and
// pushing them through exporter, registering its self-health metrics onto
// reg. health is shared with the /healthz handler.
func NewLoop(cfg config.OpenTelemetry, gatherer prometheus.Gatherer, exporter Exporter, res *resource.Resource, reg prometheus.Registerer, logger log.Logger) (*Loop, *Health) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	health := &Health{}

	l := &Loop{
		cfg:      cfg,
		gatherer: gatherer,
		exporter: exporter,
		resource: res,
		health:   health,
		logger:   logger,

		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loxone_otlp_export_status",
			Help: "OTLP push loop state: 0=disabled 1=idle 2=exporting 3=retrying 4=failed.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loxone_otlp_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful OTLP export cycle.",
		}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loxone_otlp_consecutive_failures",
			Help: "Current consecutive OTLP export failure streak.",
		}),
		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loxone_otlp_export_duration_seconds",
			Help:    "Wall-clock duration of one OTLP export attempt.",
			Buckets: prometheus.DefBuckets,
		}),
		exportedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loxone_otlp_exported_metrics_total",
			Help: "Total number of OTLP data points sent in successful export cycles.",
		}),
	}
	if reg != nil {
		reg.MustRegister(l.status, l.lastSuccess, l.consecutiveFailures, l.exportDuration, l.exportedTotal)
	}

	initialState := StateIdle
	if !cfg.Enabled {
		initialState = StateDisabled
	}
	health.setState(initialState)
	l.status.Set(float64(initialState))

	return l, health
}

// Run ticks every cfg.IntervalSeconds until ctx is cancelled, running at
// most one cycle at a time (spec.md §4.6 step 1's overlap guard).
func (l *Loop) Run(ctx context.Context) error {
	if !l.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(l.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !l.tryStart() {
				_ = level.Warn(l.logger).Log("msg", "otlp export cycle still running, skipping tick")
				continue
			}
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				defer l.markDone()
				l.runCycle(ctx)
			}()
		}
	}
}

// Shutdown waits for an in-flight cycle and then shuts the transport down,
// both bounded together by 5s. It does not interrupt a retry sleep itself;
// that sleep ends when the ctx passed to Run is cancelled. Idempotent.
func (l *Loop) Shutdown(ctx context.Context) error {
	var err error
	l.shutdownOnce.Do(func() {
		waitCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		done := make(chan struct{})
		go func() {
			l.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-waitCtx.Done():
		}
		err = l.exporter.Shutdown(waitCtx)
	})
	return err
}

func (l *Loop) tryStart() bool {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()
	if l.cycleRunning {
		return false
	}
	l.cycleRunning = true
	return true
}

func (l *Loop) markDone() {
	l.runningMu.Lock()
	l.cycleRunning = false
	l.runningMu.Unlock()
}

// runCycle executes one snapshot→convert→transmit→classify cycle,
// including the single inline retry of spec.md §4.6 step 5.
func (l *Loop) runCycle(ctx context.Context) {
	l.health.resetIfFailed()

	families, err := l.gatherer.Gather()
	if err != nil {
		_ = level.Warn(l.logger).Log("msg", "gather metrics for otlp export failed", "err", err)
		return
	}
	rm := Convert(families, l.resource, time.Now())

	l.health.setState(StateExporting)
	l.status.Set(float64(StateExporting))

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		attemptStart := time.Now()
		exportCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout())
		err := l.exporter.Export(exportCtx, rm)
		cancel()
		l.exportDuration.Observe(time.Since(attemptStart).Seconds())

		if err == nil {
			now := time.Now()
			l.health.recordSuccess(now)
			l.lastSuccess.Set(float64(now.Unix()))
			l.consecutiveFailures.Set(0)
			l.status.Set(float64(StateIdle))
			l.exportedTotal.Add(float64(CountDataPoints(rm)))
			return
		}

		lastErr = err
		streak, latched := l.health.recordFailure(err)
		l.consecutiveFailures.Set(float64(streak))
		if latched {
			l.status.Set(float64(StateFailed))
			_ = level.Error(l.logger).Log("msg", "otlp export latched into failed state", "consecutive_failures", streak, "err", err)
			return
		}

		l.status.Set(float64(StateRetrying))
		if attempt == 0 {
			delay := backoffDelay(streak)
			_ = level.Warn(l.logger).Log("msg", "otlp export failed, retrying inline", "delay", delay, "err", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}
	_ = level.Warn(l.logger).Log("msg", "otlp export failed after inline retry", "err", fmt.Errorf("export: %w", lastErr))
}

// backoffDelay computes min(1*2^(streak-1), 300) seconds for the given
// consecutive-failure streak (streak >= 1).
func backoffDelay(streak int) time.Duration {
	seconds := backoffBaseSeconds << (streak - 1)
	if seconds > backoffMaxSeconds || seconds <= 0 {
		seconds = backoffMaxSeconds
	}
	return time.Duration(seconds) * time.Second
}
