package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	actionsCounter      metric.Int64Counter
	violationsCounter   metric.Int64Counter
	runsCounter         metric.Int64Counter
	runDuration         metric.Float64Histogram
	engineCallsCounter  metric.Int64Counter
	engineCallDuration  metric.Float64Histogram
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		actionsCounter, err = m.Int64Counter("deskpilot_actions_total", metric.WithDescription("Actions requested by the engine, by kind and outcome"))
		if err != nil {
			return
		}
		violationsCounter, err = m.Int64Counter("deskpilot_policy_violations_total", metric.WithDescription("Actions or tasks denied by the sandbox, by rule"))
		if err != nil {
			return
		}
		runsCounter, err = m.Int64Counter("deskpilot_runs_total", metric.WithDescription("Finished runs by stop reason"))
		if err != nil {
			return
		}
		runDuration, err = m.Float64Histogram("deskpilot_run_duration_seconds", metric.WithDescription("Run wall time in seconds"))
		if err != nil {
			return
		}
		engineCallsCounter, err = m.Int64Counter("deskpilot_engine_calls_total", metric.WithDescription("Reasoning engine calls by provider and status"))
		if err != nil {
			return
		}
		engineCallDuration, err = m.Float64Histogram("deskpilot_engine_call_duration_seconds", metric.WithDescription("Reasoning engine call latency in seconds"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("deskpilot_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("deskpilot_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordAction records one requested action and what became of it
// ("executed", "failed", "denied", "invalid").
func RecordAction(ctx context.Context, kind, outcome string) {
	if actionsCounter == nil {
		return
	}
	actionsCounter.Add(ctx, 1, metric.WithAttributes(
		AttrKind.String(kind),
		AttrOutcome.String(outcome),
	))
}

// RecordViolation records one sandbox denial.
func RecordViolation(ctx context.Context, rule, kind string) {
	if violationsCounter == nil {
		return
	}
	violationsCounter.Add(ctx, 1, metric.WithAttributes(AttrRule.String(rule), AttrKind.String(kind)))
}

// RecordRun records a finished run and its duration.
func RecordRun(ctx context.Context, stopReason string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(AttrStopReason.String(stopReason), attribute.Bool("success", success))
	if runsCounter != nil {
		runsCounter.Add(ctx, 1, attrs)
	}
	if runDuration != nil {
		runDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordEngineCall records one completion call. status is "ok" or "error".
func RecordEngineCall(ctx context.Context, provider, status string, duration time.Duration) {
	attrs := metric.WithAttributes(AttrProvider.String(provider), AttrStatus.String(status))
	if engineCallsCounter != nil {
		engineCallsCounter.Add(ctx, 1, attrs)
	}
	if engineCallDuration != nil {
		engineCallDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// ActiveRunsFunc returns the number of runs currently executing.
type ActiveRunsFunc func() int64

// InitMetricsWithActiveRuns creates instruments and optionally registers a
// callback for the deskpilot_active_runs gauge. Call after InitMeterProvider.
// If activeRuns is nil, the gauge is not reported.
func InitMetricsWithActiveRuns(ctx context.Context, activeRuns ActiveRunsFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if activeRuns == nil {
		return nil
	}
	m := Meter()
	gauge, err := m.Int64ObservableGauge("deskpilot_active_runs", metric.WithDescription("Runs currently executing"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, activeRuns())
		return nil
	}, gauge)
	return err
}
