package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Jovells/dchain/pkg/shipment"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "dchain", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	_, done := p.TrackOperation(context.Background(), "create_shipment")
	done(errors.New("boom"))
	p.RecordSettlement(context.Background(), "PREPAID", "transfer", 10)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	_, done := p.TrackOperation(context.Background(), "update_status")
	done(nil)
	p.RecordSettlement(context.Background(), "ESCROWED", "escrow", 1)
	require.NoError(t, p.Shutdown(context.Background()))
}

func newTestProvider(t *testing.T) (*Provider, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)
	return p, reader, recorder
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestTrackOperation_RecordsREDMetrics(t *testing.T) {
	p, reader, recorder := newTestProvider(t)
	ctx := context.Background()

	_, done := p.TrackOperation(ctx, "handle_payment", attribute.Int64("dchain.shipment_id", 1))
	done(nil)
	_, done = p.TrackOperation(ctx, "handle_payment", attribute.Int64("dchain.shipment_id", 2))
	done(&shipment.Error{Kind: shipment.ErrInsufficientPayment})

	metrics := collect(t, reader)
	require.Equal(t, int64(2), sumOf(t, metrics["dchain.operations.total"]))
	require.Equal(t, int64(1), sumOf(t, metrics["dchain.errors.total"]))
	require.Contains(t, metrics, "dchain.operation.duration")

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "ledger.handle_payment", spans[0].Name())
	require.Len(t, spans[1].Events(), 1)
}

func TestRecordSettlement(t *testing.T) {
	p, reader, _ := newTestProvider(t)
	p.RecordSettlement(context.Background(), "ESCROWED", "escrow", 250)
	p.RecordSettlement(context.Background(), "ESCROWED", "release", 250)

	metrics := collect(t, reader)
	require.Equal(t, int64(500), sumOf(t, metrics["dchain.settled.amount"]))
}

func TestErrorKind(t *testing.T) {
	require.Equal(t, "not authorized", ErrorKind(&shipment.Error{Kind: shipment.ErrNotAuthorized}))
	require.Equal(t, "not found", ErrorKind(fmt.Errorf("get: %w", shipment.NotFound("shipment", 1))))
	require.Equal(t, "canceled", ErrorKind(context.Canceled))
	require.Equal(t, "internal", ErrorKind(errors.New("disk full")))
}
