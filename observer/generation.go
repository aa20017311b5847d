package observer

import (
	"context"
	"time"

	canopy "github.com/canopyrag/canopy"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedGeneration wraps a canopy.GenerationProvider with OTEL
// instrumentation.
type ObservedGeneration struct {
	inner canopy.GenerationProvider
	inst  *Instruments
	model string
}

// WrapGeneration returns an instrumented generation provider.
func WrapGeneration(inner canopy.GenerationProvider, model string, inst *Instruments) *ObservedGeneration {
	return &ObservedGeneration{inner: inner, inst: inst, model: model}
}

var _ canopy.GenerationProvider = (*ObservedGeneration)(nil)

func (o *ObservedGeneration) Name() string { return o.inner.Name() }

func (o *ObservedGeneration) Generate(ctx context.Context, contextText, question string) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "generation.generate", trace.WithAttributes(
		AttrModel.String(o.model),
		AttrProvider.String(o.inner.Name()),
		AttrContextLength.Int(len(contextText)),
	))
	defer span.End()
	start := time.Now()

	answer, err := o.inner.Generate(ctx, contextText, question)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.inst.GenRequests.Add(ctx, 1, metric.WithAttributes(
		AttrModel.String(o.model),
		AttrProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.GenDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrModel.String(o.model),
		AttrProvider.String(o.inner.Name()),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("generation completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.Int("generation.context_length", len(contextText)),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return answer, err
}
