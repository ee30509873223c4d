package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/ntn-orchestrator/internal/observability"
	"github.com/signalsfoundry/ntn-orchestrator/internal/orchestrator"
)

type staticSource struct{ snap orchestrator.Snapshot }

func (s staticSource) Snapshot() orchestrator.Snapshot { return s.snap }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	metrics, err := observability.NewConnectivityCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	metrics.ObserveTransition("idle", "acquiring_fix")
	src := staticSource{snap: orchestrator.Snapshot{
		Device:       orchestrator.DeviceView{State: "acquiring_fix", Phase: "phase1", CyclesCompleted: 3},
		NumDelivered: 3,
	}}
	return NewRouter(src, metrics.Handler())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthz(t *testing.T) {
	rr := get(t, newTestRouter(t), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestStateServesSnapshot(t *testing.T) {
	rr := get(t, newTestRouter(t), "/state")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var snap orchestrator.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Device.State != "acquiring_fix" || snap.NumDelivered != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}

	rr = get(t, newTestRouter(t), "/state/device")
	var dev orchestrator.DeviceView
	if err := json.Unmarshal(rr.Body.Bytes(), &dev); err != nil {
		t.Fatalf("decode device: %v", err)
	}
	if dev.CyclesCompleted != 3 || dev.Phase != "phase1" {
		t.Fatalf("device = %+v", dev)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := get(t, newTestRouter(t), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `ntn_state_transitions_total{from="idle",to="acquiring_fix"} 1`) {
		t.Fatalf("metrics body missing transition counter:\n%s", rr.Body.String())
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	rr := get(t, newTestRouter(t), "/nope")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", newTestRouter(t), nil)
	addr, err := s.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ntn-agent") {
		t.Fatalf("response %d %s", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
