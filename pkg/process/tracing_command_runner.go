package process

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracingCommandRunner struct {
	CommandRunner
	tracer trace.Tracer
}

// NewTracingCommandRunner is a decorator for CommandRunner that creates
// an OpenTelemetry trace span for every process that is run.
func NewTracingCommandRunner(base CommandRunner, tracerProvider trace.TracerProvider) CommandRunner {
	return &tracingCommandRunner{
		CommandRunner: base,
		tracer:        tracerProvider.Tracer("github.com/buildbarn/bb-remote-cache/pkg/process"),
	}
}

func (r *tracingCommandRunner) Run(ctx context.Context, request MultiPlatformProcess) (*Result, error) {
	var attributes []attribute.KeyValue
	if process, ok := r.CommandRunner.ExtractCompatibleRequest(request); ok {
		attributes = append(attributes,
			attribute.String("description", process.Description),
			attribute.StringSlice("arguments", process.Arguments),
			attribute.Bool("do_not_cache", process.DoNotCache),
			attribute.Float64("timeout", process.Timeout.Seconds()))
	}
	ctxWithTracing, span := r.tracer.Start(ctx, "CommandRunner.Run", trace.WithAttributes(attributes...))
	defer span.End()

	result, err := r.CommandRunner.Run(ctxWithTracing, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("exit_code", int(result.ExitCode)),
		attribute.String("source", result.Metadata.Source.String()))
	return result, nil
}
