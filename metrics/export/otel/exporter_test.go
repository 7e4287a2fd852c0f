package otel

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	gatekit "github.com/nocturnesec/gatekit"
)

type fakeSource struct {
	counters map[gatekit.MetricID]uint64
}

func (f *fakeSource) MetricsSnapshot() gatekit.MetricsSnapshot {
	return gatekit.MetricsSnapshot{Counters: f.counters}
}

func (f *fakeSource) AuditDropped() uint64 { return 0 }

func (f *fakeSource) SecurityEventsDropped() uint64 { return 0 }

func TestNewOTelExporterValidatesInputs(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(meter, nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestNewOTelExporterRegistersAndCloses(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	exporter, err := NewOTelExporterFromSource(meter, &fakeSource{
		counters: map[gatekit.MetricID]uint64{gatekit.MetricLoginSuccess: 5},
	})
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCloseOnNilExporter(t *testing.T) {
	var exporter *OTelExporter
	if err := exporter.Close(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
