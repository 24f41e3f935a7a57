package observability

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName     = "seatbook"
	shutdownTimeout = 5 * time.Second
)

// SetupOTel installs the global tracer provider for the named seatbook process. Trace context is
// propagated either way; spans are exported only when an OTLP endpoint is configured. The
// returned func flushes pending spans.
func SetupOTel(ctx context.Context, cfg *config.Config, process string) (func(), error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if cfg.OTLPEndpoint == "" {
		return func() {}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create otlp exporter")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(processAttributes(cfg, process)...),
		resource.WithHost(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "build otel resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	)
	otel.SetTracerProvider(tp)

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			NewLogger().WithError(err).Warn("trace provider shutdown")
		}
	}, nil
}

func processAttributes(cfg *config.Config, process string) []attribute.KeyValue {
	host, _ := os.Hostname()
	return []attribute.KeyValue{
		semconv.ServiceName(serviceName + "-" + process),
		semconv.ServiceNamespace(serviceName),
		semconv.ServiceInstanceID(host),
		semconv.DeploymentEnvironment(cfg.Environment),
	}
}

// Tracer returns a named tracer from the global provider; a no-op until SetupOTel installs one.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(serviceName + "/" + component)
}
