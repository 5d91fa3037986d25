package monitoring

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOpenClose(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordOpen("readwrite", nil)
	m.RecordOpen("readwrite", errors.New("locked"))
	if got := testutil.ToFloat64(m.OpensTotal.WithLabelValues("readwrite", "ok")); got != 1 {
		t.Errorf("Expected 1 successful open, got %v", got)
	}
	if got := testutil.ToFloat64(m.OpensTotal.WithLabelValues("readwrite", "error")); got != 1 {
		t.Errorf("Expected 1 failed open, got %v", got)
	}
	if got := testutil.ToFloat64(m.HandlesOpen.WithLabelValues("readwrite")); got != 1 {
		t.Errorf("Expected 1 open handle, got %v", got)
	}

	m.RecordClose("readwrite")
	if got := testutil.ToFloat64(m.HandlesOpen.WithLabelValues("readwrite")); got != 0 {
		t.Errorf("Expected 0 open handles, got %v", got)
	}
	if got := testutil.ToFloat64(m.ClosesTotal); got != 1 {
		t.Errorf("Expected 1 close, got %v", got)
	}
}

func TestRecordTransfer(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.RecordTransfer("received", 4096, 20*time.Millisecond)
	m.RecordTransfer("received", 1024, 10*time.Millisecond)
	m.RecordTransferRequest("read", nil)
	m.RecordResize(40)
	m.RecordFieldOp("set", errors.New("cast"))
	m.UpdateExposed(2)
	m.UpdateWorkerPool(3, 7)

	if got := testutil.ToFloat64(m.TransferBytes.WithLabelValues("received")); got != 5120 {
		t.Errorf("Expected 5120 bytes, got %v", got)
	}
	if got := testutil.CollectAndCount(m.TransferDuration); got != 1 {
		t.Errorf("Expected one duration series, got %d", got)
	}
	if got := testutil.ToFloat64(m.FieldOpsTotal.WithLabelValues("set", "error")); got != 1 {
		t.Errorf("Expected 1 failed set, got %v", got)
	}
	if got := testutil.ToFloat64(m.ExposedFiles); got != 2 {
		t.Errorf("Expected 2 exposed files, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkerPoolPending); got != 7 {
		t.Errorf("Expected 7 pending tasks, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordOpen("readonly", nil)
	m.RecordClose("readonly")
	m.RecordRepack(nil)
	m.RecordFieldOp("get", nil)
	m.RecordResize(1)
	m.RecordTransfer("sent", 1, time.Second)
	m.RecordTransferRequest("stat", nil)
	m.UpdateExposed(1)
	m.UpdateWorkerPool(1, 1)
}

func TestMetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.RecordRepack(nil)

	s := NewMetricsServer(":0", reg)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("Expected OK, got %q", body)
	}

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `test_repacks_total{result="ok"} 1`) {
		t.Errorf("Metrics output missing repack counter:\n%s", body)
	}
}
