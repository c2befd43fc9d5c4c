package natsutil

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Not parallel: swaps the global propagator.
func TestInjectExtractRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg := &nats.Msg{Subject: "x"}
	Inject(ctx, msg)
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", msg.Header.Get("traceparent"))

	got := trace.SpanContextFromContext(Extract(context.Background(), msg.Header))
	require.Equal(t, traceID, got.TraceID())
	require.True(t, got.IsRemote())
}

func TestCarrierNilHeader(t *testing.T) {
	t.Parallel()

	c := (*headerCarrier)(&nats.Msg{})
	require.Empty(t, c.Get("k"))
	require.Empty(t, c.Keys())
	c.Set("k", "v")
	require.Equal(t, "v", c.Get("k"))
	require.Equal(t, []string{"k"}, c.Keys())
}
