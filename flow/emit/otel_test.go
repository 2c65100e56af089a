package emit_test

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flowgraph/flowgraph/flow/emit"
)

func TestOTelEmitterSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := emit.NewOTelEmitter(tp.Tracer("test"))

	e.Emit(emit.Event{
		RunID:  "run-1",
		Step:   3,
		NodeID: "reviewer",
		Msg:    "node completed",
		Meta:   map[string]interface{}{"score": 8.5},
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "node completed" {
		t.Errorf("span name = %q, want %q", span.Name(), "node completed")
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["flowgraph.run_id"].AsString(); got != "run-1" {
		t.Errorf("run_id attribute = %q", got)
	}
	if got := attrs["flowgraph.step"].AsInt64(); got != 3 {
		t.Errorf("step attribute = %d", got)
	}
	if got := attrs["flowgraph.score"].AsFloat64(); got != 8.5 {
		t.Errorf("score attribute = %v", got)
	}
}

func TestOTelEmitterErrorStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := emit.NewOTelEmitter(tp.Tracer("test"))

	e.Emit(emit.Event{
		RunID:  "run-1",
		NodeID: "deployer",
		Msg:    "node failed",
		Meta:   map[string]interface{}{"error": "deploy refused"},
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
}
