package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitMeterProvider(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "test-service")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if handler == nil {
		t.Fatal("InitMeterProvider: expected non-nil handler")
	}
	// Serve /metrics and check we get 200 and OpenMetrics-style output
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status=%d", rec.Code)
	}
	body := rec.Body.String()
	if body == "" {
		t.Fatal("GET /metrics: empty body")
	}
}

func TestInitMeterProvider_emptyServiceName(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestMeter(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "meter-test")
	m := Meter()
	if m == nil {
		t.Fatal("Meter() returned nil")
	}
}

func TestAttributeKeys(t *testing.T) {
	kv := AttrRule.String("private_address")
	if string(kv.Key) != "rule" || kv.Value.AsString() != "private_address" {
		t.Errorf("AttrRule = %v", kv)
	}
	_ = AttrKind.String("click")
	_ = AttrOutcome.String("denied")
	_ = AttrStopReason.String("completed")
	_ = AttrProvider.String("openai")
	_ = AttrRoute.String("/runs")
}

func TestInitMeterProvider_resourceAttributes(t *testing.T) {
	handler, err := InitMeterProvider(context.Background(), "deskpilot",
		AttrEngine.String("script"),
		AttrDriver.String("stub-display-7"),
	)
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	counter, err := Meter().Int64Counter("deskpilot_resource_test_total")
	if err != nil {
		t.Fatal(err)
	}
	counter.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "target_info") || !strings.Contains(body, "stub-display-7") {
		t.Errorf("resource attributes missing from /metrics:\n%s", body)
	}
}
