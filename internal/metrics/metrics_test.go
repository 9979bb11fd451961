package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHTTPRequest(t *testing.T) {
	Init()

	ObserveHTTPRequest(http.MethodGet, "/v1/jobs", http.StatusServiceUnavailable, 25*time.Millisecond)

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "503")); val != 1 {
		t.Errorf("expected one GET 503 request, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected request duration to be observed, got %d", val)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "harvester_http_requests_total") {
		t.Error("expected harvester_http_requests_total in metrics output")
	}
}
