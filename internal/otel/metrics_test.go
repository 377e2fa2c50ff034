package otel

import (
	"context"
	"testing"
	"time"
)

func TestInitMetrics_Record(t *testing.T) {
	ctx := context.Background()
	_, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordAction(ctx, "click", "executed")
	RecordAction(ctx, "open_url", "denied")
	RecordViolation(ctx, "private_address", "open_url")
	RecordRun(ctx, "completed", true, 2*time.Second)
	RecordEngineCall(ctx, "openai", "ok", 300*time.Millisecond)
	RecordSSEEvent(ctx)
}

func TestAddSSEConnection_RemoveSSEConnection(t *testing.T) {
	AddSSEConnection()
	AddSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection() // should not go negative
	sseConnectionsMu.Lock()
	n := sseConnections
	sseConnectionsMu.Unlock()
	if n != 0 {
		t.Errorf("sseConnections = %d, want 0", n)
	}
}

func TestInitMetricsWithActiveRuns(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "active-runs-test")
	err := InitMetricsWithActiveRuns(ctx, func() int64 { return 2 })
	if err != nil {
		t.Fatalf("InitMetricsWithActiveRuns: %v", err)
	}
}

func TestInitMetricsWithActiveRuns_nilFunc(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "active-runs-nil-test")
	if err := InitMetricsWithActiveRuns(ctx, nil); err != nil {
		t.Fatalf("InitMetricsWithActiveRuns(nil): %v", err)
	}
}
