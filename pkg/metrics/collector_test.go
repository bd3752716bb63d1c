package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.UpstreamRequest("prompt", "ok", time.Second)
	c.SessionRotated()
	c.Signal("token")
	c.CleanupFailed()
	c.ChatRequest("stream", "ok")
	c.StreamStarted()()
	c.CatalogRefreshed("ok", 3)
	if c.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(nil)
	c.SessionRotated()
	c.SessionRotated()
	c.UpstreamRequest("prompt", "ok", 200*time.Millisecond)
	c.UpstreamRequest("prompt", "invalid_session", 0)
	done := c.StreamStarted()

	if got := testutil.ToFloat64(c.rotations); got != 2 {
		t.Fatalf("expected 2 rotations, got %v", got)
	}
	if got := testutil.ToFloat64(c.upstreamRequests.WithLabelValues("prompt", "invalid_session")); got != 1 {
		t.Fatalf("expected 1 invalid session request, got %v", got)
	}
	if got := testutil.ToFloat64(c.activeStreams); got != 1 {
		t.Fatalf("expected 1 active stream, got %v", got)
	}
	done()
	if got := testutil.ToFloat64(c.activeStreams); got != 0 {
		t.Fatalf("expected 0 active streams, got %v", got)
	}

	c.CatalogRefreshed("ok", 7)
	c.CatalogRefreshed("error", 0)
	if got := testutil.ToFloat64(c.catalogModels); got != 7 {
		t.Fatalf("expected catalog gauge 7, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(nil)
	c.Signal("done")
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `kagi_proxy_stream_signals_total{kind="done"} 1`) {
		t.Fatalf("signal counter missing from output:\n%s", rec.Body.String())
	}
}
