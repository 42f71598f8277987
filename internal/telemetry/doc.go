// Package telemetry sets up OpenTelemetry tracing and metrics for the
// coordinator and exports them over OTLP, grpc or http/protobuf.
//
// Each processed turn gets an orchestrator span with child spans for
// generation and function execution.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// An exporter that cannot be built leaves its signal on the global no-op
// provider; Health then reports Degraded with the reason.
//
// NewTestTelemetry records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "function.execute")
//	span.End()
//	tt.AssertSpanExists(t, "function.execute")
package telemetry
