package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestRunCountersAndTextfile(t *testing.T) {
	r := NewRun()
	r.Boundaries.WithLabelValues("created").Add(3)
	r.Boundaries.WithLabelValues("skipped").Inc()

	if got := testutil.ToFloat64(r.Boundaries.WithLabelValues("created")); got != 3 {
		t.Errorf("created = %v, want 3", got)
	}

	path := filepath.Join(t.TempDir(), "mapit.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `mapit_import_boundaries_total{outcome="created"} 3`) {
		t.Errorf("textfile missing counter:\n%s", data)
	}

	if err := r.WriteTextfile(""); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}

func TestRunsAreIndependent(t *testing.T) {
	a, b := NewRun(), NewRun()
	a.Lookups.WithLabelValues("postcode", "hit").Inc()
	if got := testutil.ToFloat64(b.Lookups.WithLabelValues("postcode", "hit")); got != 0 {
		t.Errorf("runs share state: %v", got)
	}
}

func TestCollectorSample(t *testing.T) {
	run := NewRun()
	c := NewCollector(0, zap.NewNop(), run)
	if c.interval != 30*time.Second {
		t.Errorf("interval = %v, want default", c.interval)
	}
	if c.GetMetrics() != nil {
		t.Error("metrics before first sample")
	}
	c.collect()
	m := c.GetMetrics()
	if m == nil || m.Timestamp.IsZero() {
		t.Fatalf("GetMetrics() = %+v", m)
	}
	if m.MemoryTotal > 0 && testutil.ToFloat64(run.MemoryUsed) != float64(m.MemoryUsed) {
		t.Error("memory gauge not mirrored")
	}
}
