package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goMFA "github.com/MrEthical07/goMFA"
)

type fakeSource struct {
	snapshot goMFA.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goMFA.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                   { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters:   map[goMFA.MetricID]uint64{},
			Histograms: map[goMFA.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{
				goMFA.MetricLoginSuccess: 7,
				goMFA.MetricMFASuccess:   3,
			},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "gomfa_login_success_total 7") {
		t.Fatalf("missing login counter:\n%s", out)
	}
	if !strings.Contains(out, "gomfa_mfa_success_total 3") {
		t.Fatalf("missing mfa counter:\n%s", out)
	}
	if !strings.Contains(out, `gomfa_validate_latency_seconds_bucket{le="+Inf"} 36`) {
		t.Fatalf("missing cumulative +Inf bucket:\n%s", out)
	}
	if !strings.Contains(out, "gomfa_validate_latency_seconds_count 36") {
		t.Fatalf("missing histogram count:\n%s", out)
	}
	if !strings.Contains(out, "gomfa_audit_dropped_total 2") {
		t.Fatalf("missing audit dropped counter:\n%s", out)
	}
}

func TestHandlerServesTextExposition(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{
				goMFA.MetricSessionCreated: 1,
			},
			Histograms: map[goMFA.MetricID][]uint64{},
		},
	})

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "gomfa_session_created_total 1") {
		t.Fatalf("missing counter in response:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{
				goMFA.MetricLoginSuccess:       1000,
				goMFA.MetricLoginFailure:       40,
				goMFA.MetricMFASuccess:         700,
				goMFA.MetricMFAFailure:         30,
				goMFA.MetricRefreshSuccess:     800,
				goMFA.MetricSessionCreated:     800,
				goMFA.MetricSessionInvalidated: 20,
			},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
