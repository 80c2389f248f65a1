package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewRegistersWithoutPanic(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil registry")
	}
}

func TestRecordersDoNotPanic(t *testing.T) {
	r := New()
	r.RecordBuildStart()
	r.RecordBuildCompletion("succeeded", time.Second)
	r.RecordStageDuration("failed", 2*time.Second)
	r.RecordStepDuration("succeeded", 500*time.Millisecond)
	r.RecordCacheResult(true)
	r.RecordCacheResult(false)
	r.RecordEventBusDepth(42)
	r.RecordApprovalWait(time.Minute)
}

func TestHandlerServesMetrics(t *testing.T) {
	r := New()
	r.RecordBuildStart()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chengis_builds_started_total") {
		t.Fatal("expected build start counter in output")
	}
}
