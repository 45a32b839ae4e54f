package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	collector := NewCollector()
	if collector == nil {
		t.Fatal("NewCollector() returned nil")
	}
	if collector.registry == nil {
		t.Error("collector.registry is nil")
	}
	if collector.operations == nil {
		t.Error("collector.operations map is nil")
	}
}

func TestNewCollectorOnRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	if _, err := NewCollectorOn(registry); err != nil {
		t.Fatalf("first NewCollectorOn() error = %v", err)
	}
	if _, err := NewCollectorOn(registry); err == nil {
		t.Error("second NewCollectorOn() on the same registry should fail")
	}
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	t.Run("successful operation", func(t *testing.T) {
		collector := NewCollector()
		collector.RecordOperation("intf", "read", 10*time.Millisecond, 1024, nil)

		snap := collector.Snapshot()
		op, exists := snap["intf/read"]
		if !exists {
			t.Fatal("intf/read not recorded")
		}
		if op.Count != 1 {
			t.Errorf("op.Count = %d, want 1", op.Count)
		}
		if op.TotalBytes != 1024 {
			t.Errorf("op.TotalBytes = %d, want 1024", op.TotalBytes)
		}
		if op.Errors != 0 {
			t.Errorf("op.Errors = %d, want 0", op.Errors)
		}
	})

	t.Run("failed operation", func(t *testing.T) {
		collector := NewCollector()
		collector.RecordOperation("intf", "write", time.Millisecond, 0, errors.New("broken pipe"))

		snap := collector.Snapshot()
		op := snap["intf/write"]
		if op.Count != 1 || op.Errors != 1 {
			t.Errorf("op = %+v, want 1 count and 1 error", op)
		}
	})

	t.Run("aggregates across calls", func(t *testing.T) {
		collector := NewCollector()
		for i := 0; i < 5; i++ {
			collector.RecordOperation("intf", "read", time.Millisecond, 100, nil)
		}
		collector.RecordOperation("intf", "read", time.Millisecond, 100, errors.New("late failure"))

		op := collector.Snapshot()["intf/read"]
		if op.Count != 6 {
			t.Errorf("op.Count = %d, want 6", op.Count)
		}
		if op.TotalBytes != 600 {
			t.Errorf("op.TotalBytes = %d, want 600", op.TotalBytes)
		}
		if op.Errors != 1 {
			t.Errorf("op.Errors = %d, want 1", op.Errors)
		}
	})
}

func TestNilCollectorIsSafe(t *testing.T) {
	t.Parallel()

	var collector *Collector
	collector.RecordOperation("intf", "read", time.Millisecond, 10, nil)
	collector.RecordDeviceEvent("init")
	collector.SetActiveInterfaces(3)
	if collector.Handler() != nil {
		t.Error("nil collector Handler() should be nil")
	}
	if collector.Snapshot() != nil {
		t.Error("nil collector Snapshot() should be nil")
	}
	if collector.Uptime() != 0 {
		t.Error("nil collector Uptime() should be zero")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	collector := NewCollector()
	collector.RecordOperation("intf", "read", 5*time.Millisecond, 256, nil)
	collector.RecordDeviceEvent("init")
	collector.SetActiveInterfaces(2)

	srv := httptest.NewServer(collector.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}

	text := string(body)
	for _, want := range []string{
		"devio_operations_total",
		"devio_operation_duration_seconds",
		"devio_io_bytes_total",
		"devio_device_events_total",
		"devio_active_interfaces 2",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
