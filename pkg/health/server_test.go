// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mbeema/capq/pkg/queue"
)

func newTestManager(t *testing.T) *queue.Manager {
	t.Helper()
	cfg := queue.DefaultConfig()
	cfg.QueueCapacity = 8
	cfg.PoolBuffers = 8
	cfg.BufferSize = 4096
	return queue.NewManager(cfg, zap.NewNop())
}

func TestHealthEndpoint(t *testing.T) {
	m := newTestManager(t)
	id, err := m.RegisterReader()
	if err != nil {
		t.Fatalf("RegisterReader: %v", err)
	}
	t.Cleanup(func() {
		m.DeregisterReader(id)
		if err := m.Close(); err != nil {
			t.Errorf("manager close: %v", err)
		}
	})

	srv := NewServer(":0", "1.0.0-test", NewStats(m), zap.NewNop())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var hr healthResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if hr.Status != "healthy" {
		t.Errorf("expected status=healthy, got %q", hr.Status)
	}
	if hr.Version != "1.0.0-test" {
		t.Errorf("expected version=1.0.0-test, got %q", hr.Version)
	}
	if hr.Readers != 1 {
		t.Errorf("expected readers=1, got %d", hr.Readers)
	}
}

func TestReadyEndpoint_NotReady(t *testing.T) {
	srv := NewServer(":0", "test", NewStats(nil), zap.NewNop())

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	srv.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestReadyEndpoint_Ready(t *testing.T) {
	srv := NewServer(":0", "test", NewStats(nil), zap.NewNop())
	srv.SetReady(true)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	srv.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := newTestManager(t)

	id, err := m.RegisterReader()
	if err != nil {
		t.Fatalf("RegisterReader: %v", err)
	}
	for i := 0; i < 3; i++ {
		m.EnqueuePacket([]byte{1, 2, 3, 4}, 4, 1, 1)
	}

	srv := NewServer(":0", "test", NewStats(m), zap.NewNop())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.handleMetrics(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "capq_blocks_captured_total 3") {
		t.Errorf("expected capq_blocks_captured_total 3 in metrics output:\n%s", body)
	}
	if !strings.Contains(body, "capq_readers 1") {
		t.Errorf("expected capq_readers 1 in metrics output")
	}
	if !strings.Contains(body, "capq_uptime_seconds") {
		t.Errorf("expected capq_uptime_seconds in metrics output")
	}

	m.DeregisterReader(id)
	if err := m.Close(); err != nil {
		t.Errorf("manager close: %v", err)
	}
}

func TestSnapshotWithoutManager(t *testing.T) {
	snap := NewStats(nil).Snapshot()
	if snap.CapturedBlocks != 0 || snap.RegisteredReaders != 0 {
		t.Error("nil manager should report zero queue counters")
	}
	if snap.Goroutines <= 0 {
		t.Error("goroutine count should be positive")
	}
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "test", NewStats(nil), zap.NewNop())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}
