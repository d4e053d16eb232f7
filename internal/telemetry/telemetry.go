package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/xerrors"
)

// NewLogger builds the process logger. The level comes from GO_LOG and keys
// follow the OpenTelemetry log data model.
func NewLogger(w io.Writer, debug bool) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if v, ok := os.LookupEnv("GO_LOG"); ok {
		if err := logLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, xerrors.Errorf("failed to parse log level: %w", err)
		}
	}
	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
		// https://opentelemetry.io/docs/specs/otel/logs/data-model/
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severitytext"
			case slog.MessageKey:
				a.Key = "body"
			}
			return a
		},
	}
	if debug {
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
}

// Logr adapts logger for components that take a logr.Logger.
func Logr(logger *slog.Logger) logr.Logger {
	return logr.FromSlogHandler(logger.Handler())
}

type Config struct {
	ServiceName string
	// Tracing exports spans over OTLP/gRPC. When unset it is enabled only if
	// OTEL_EXPORTER_OTLP_ENDPOINT is present.
	Tracing bool
	// PyroscopeEndpoint enables continuous profiling when non-empty.
	PyroscopeEndpoint string
}

type Telemetry struct {
	Meter metric.Meter

	traceProvider *sdktrace.TracerProvider
	profiler      *pyroscope.Profiler
}

func Setup(ctx context.Context, config Config) (*Telemetry, error) {
	t := &Telemetry{}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	if config.PyroscopeEndpoint != "" {
		runtime.SetMutexProfileFraction(1)
		runtime.SetBlockProfileRate(1)

		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: config.ServiceName,
			ServerAddress:   config.PyroscopeEndpoint,
			UploadRate:      60 * time.Second,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
				pyroscope.ProfileMutexCount,
				pyroscope.ProfileMutexDuration,
				pyroscope.ProfileBlockCount,
				pyroscope.ProfileBlockDuration,
			},
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to create profiler: %w", err)
		}
		t.profiler = profiler
	}

	if _, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); config.Tracing || ok {
		r, err := sdkresource.Merge(
			sdkresource.Default(),
			sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(config.ServiceName)),
		)
		if err != nil {
			return nil, xerrors.Errorf("failed to create resource: %w", err)
		}
		traceExporter, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, xerrors.Errorf("failed to create trace exporter: %w", err)
		}
		t.traceProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(r),
			sdktrace.WithBatcher(traceExporter),
		)
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(t.traceProvider))
	}

	exporter, err := otelprometheus.New()
	if err != nil {
		return nil, xerrors.Errorf("failed to create exporter: %w", err)
	}
	// NOTE: Gauge(UpDownCounter), Summary or Untyped does not support exemplars
	// https://github.com/prometheus/client_golang/blob/v1.20.4/prometheus/metric.go#L200
	t.Meter = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter(config.ServiceName)

	return t, nil
}

// Shutdown flushes pending spans and stops the profiler.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.traceProvider != nil {
		if err := t.traceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, xerrors.Errorf("failed to shutdown trace provider: %w", err))
		}
	}
	if t.profiler != nil {
		if err := t.profiler.Stop(); err != nil {
			errs = append(errs, xerrors.Errorf("failed to shutdown profiler: %w", err))
		}
	}
	return errors.Join(errs...)
}
