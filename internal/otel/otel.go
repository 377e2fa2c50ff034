package otel

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/ankittk/deskpilot"

// InitMeterProvider installs a Prometheus-backed global MeterProvider and
// returns the /metrics handler. attrs are added to the resource, e.g. the
// engine provider and driver kind the daemon was started with, and show up
// on target_info. On error the daemon serves without /metrics.
func InitMeterProvider(ctx context.Context, serviceName string, attrs ...attribute.KeyValue) (http.Handler, error) {
	if serviceName == "" {
		serviceName = "deskpilot"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(append([]attribute.KeyValue{semconv.ServiceName(serviceName)}, attrs...)...),
	)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

// Meter returns the global meter for deskpilot (after InitMeterProvider).
func Meter() metric.Meter {
	return otelglobal.Meter(meterName)
}

// Common attribute keys for metrics.
var (
	AttrKind       = attribute.Key("action")
	AttrOutcome    = attribute.Key("outcome")
	AttrRule       = attribute.Key("rule")
	AttrStopReason = attribute.Key("stop_reason")
	AttrProvider   = attribute.Key("provider")
	AttrStatus     = attribute.Key("status")
	AttrRoute      = attribute.Key("http.route")

	// Resource attributes describing the daemon.
	AttrEngine = attribute.Key("deskpilot.engine")
	AttrDriver = attribute.Key("deskpilot.driver")
)
