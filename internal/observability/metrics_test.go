package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.ApiInflightInc()
	m.IncChunkSummarized(true)
	m.ObserveFold("worker", false, time.Second)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil handler: want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())
	m.ObserveAPI("POST", "/api/docs/upload", "200", 20*time.Millisecond)
	m.ObserveAPI("POST", "/api/docs/upload", "200", 30*time.Millisecond)
	m.IncChunkSummarized(false)
	m.IncChunkSummarized(true)
	m.IncChunkSummarized(true)
	m.ObserveLLMRequest("gpt-4o-mini", "summary", "ok", time.Second, 100, 20)

	if got := testutil.ToFloat64(m.apiRequests.WithLabelValues("POST", "/api/docs/upload", "200")); got != 2 {
		t.Fatalf("api requests: want=2 got=%v", got)
	}
	if got := testutil.ToFloat64(m.chunksSummarized.WithLabelValues("fallback")); got != 2 {
		t.Fatalf("fallback chunks: want=2 got=%v", got)
	}
	if got := testutil.ToFloat64(m.llmTokens.WithLabelValues("gpt-4o-mini", "input")); got != 100 {
		t.Fatalf("input tokens: want=100 got=%v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "prd_chunks_summarized_total") {
		t.Fatalf("exposition missing chunk counter")
	}
}
