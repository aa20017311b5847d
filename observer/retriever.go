package observer

import (
	"context"
	"time"

	canopy "github.com/canopyrag/canopy"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRetriever wraps a canopy.Retriever with OTEL instrumentation.
type ObservedRetriever struct {
	inner canopy.Retriever
	inst  *Instruments
}

// WrapRetriever returns an instrumented retriever.
func WrapRetriever(inner canopy.Retriever, inst *Instruments) *ObservedRetriever {
	return &ObservedRetriever{inner: inner, inst: inst}
}

var _ canopy.Retriever = (*ObservedRetriever)(nil)

func (o *ObservedRetriever) Retrieve(ctx context.Context, vector []float32, k int) ([]canopy.Match, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		AttrRetrieveK.Int(k),
	))
	defer span.End()
	start := time.Now()

	matches, err := o.inner.Retrieve(ctx, vector, k)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(AttrResultCount.Int(len(matches)))
	}

	o.inst.RetrieveRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	o.inst.RetrieveDuration.Record(ctx, durationMs)
	if err == nil {
		o.inst.ResultCount.Record(ctx, int64(len(matches)))
	}

	return matches, err
}
