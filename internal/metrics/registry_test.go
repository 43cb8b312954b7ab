package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewRegistry(t *testing.T) {
	reg, m := NewRegistry()

	m.NodeExecutions.WithLabelValues("complete").Inc()

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range metricFamilies {
		found[mf.GetName()] = true
	}
	if !found["loom_node_executions_total"] {
		t.Error("loom metrics not registered with custom registry")
	}
	if !found["go_goroutines"] {
		t.Error("go collector not registered")
	}
}

func TestHandlerFor(t *testing.T) {
	reg, m := NewRegistry()
	m.ObserveWave(2, time.Second)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %v, want %v", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "loom_waves_total") {
		t.Error("metrics output does not contain loom_waves_total")
	}
}

func TestMultipleRegistries(t *testing.T) {
	reg1, m1 := NewRegistry()
	_, m2 := NewRegistry()

	m1.ObserveSkip("no_cache")

	if m1 == m2 {
		t.Fatal("expected different metrics instances")
	}
	families, err := reg1.Gather()
	if err != nil {
		t.Fatalf("failed to gather from reg1: %v", err)
	}
	if len(families) == 0 {
		t.Error("reg1 has no metrics")
	}
}

func TestListen(t *testing.T) {
	reg, m := NewRegistry()
	m.ObserveNode("complete", time.Second)

	srv, err := Listen("127.0.0.1:0", reg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "loom_node_executions_total") {
		t.Error("scrape does not contain loom_node_executions_total")
	}
}
