// Package telemetry wires OpenTelemetry tracing and metrics for ragfus.
//
// Spans and metrics are exported over OTLP (gRPC by default, or
// http/protobuf) to a collector. Telemetry is disabled by default; when it
// is off, Tracer and Meter hand back the global no-op providers so
// instrumented code needs no branches.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures do not fail startup. The instance reports itself as
// degraded through Health instead.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
