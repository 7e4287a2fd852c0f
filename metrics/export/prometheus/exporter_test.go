package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	gatekit "github.com/nocturnesec/gatekit"
)

type fakeSource struct {
	counters      map[gatekit.MetricID]uint64
	auditDropped  uint64
	eventsDropped uint64
}

func (f *fakeSource) MetricsSnapshot() gatekit.MetricsSnapshot {
	return gatekit.MetricsSnapshot{Counters: f.counters}
}

func (f *fakeSource) AuditDropped() uint64 { return f.auditDropped }

func (f *fakeSource) SecurityEventsDropped() uint64 { return f.eventsDropped }

func TestRenderExposesCounters(t *testing.T) {
	exporter := NewPrometheusExporterFromSource(&fakeSource{
		counters: map[gatekit.MetricID]uint64{
			gatekit.MetricLoginSuccess:    7,
			gatekit.MetricChallengeIssued: 3,
		},
		auditDropped: 2,
	})

	out := exporter.Render()
	for _, want := range []string{
		"# TYPE gatekit_login_success_total counter",
		"gatekit_login_success_total 7",
		"gatekit_challenge_issued_total 3",
		"gatekit_audit_dropped_total 2",
		"gatekit_security_events_dropped_total 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRenderEmptyWhenAllZero(t *testing.T) {
	exporter := NewPrometheusExporterFromSource(&fakeSource{})
	if out := exporter.Render(); out != "" {
		t.Fatalf("expected empty output, got:\n%s", out)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	exporter := NewPrometheusExporterFromSource(&fakeSource{
		counters: map[gatekit.MetricID]uint64{gatekit.MetricLoginSuccess: 1},
	})

	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rec.Body.String(), "gatekit_login_success_total 1") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}
