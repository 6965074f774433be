package otel

import (
	"context"
	"sync"
	"testing"

	goMFA "github.com/MrEthical07/goMFA"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goMFA.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goMFA.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goMFA.MetricsSnapshot{
		Counters:   make(map[goMFA.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goMFA.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gomfa-test")

	src := &fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{
				goMFA.MetricLoginSuccess: 3,
			},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gomfa-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterRejectsNilMeter(t *testing.T) {
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestCloseIsIdempotentOnNil(t *testing.T) {
	var exp *OTelExporter
	if err := exp.Close(); err != nil {
		t.Fatalf("expected nil error closing nil exporter, got %v", err)
	}
}
