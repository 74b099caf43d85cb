package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPipeline_LabelsWithCamera(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipeline(reg, "cam-7")

	m.Dropped.Add(3)
	m.QueueDepth.Set(9)

	expected := `
# HELP crop_exporter_records_dropped_total Records evicted from a full staging queue.
# TYPE crop_exporter_records_dropped_total counter
crop_exporter_records_dropped_total{camera_id="cam-7"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "crop_exporter_records_dropped_total"); err != nil {
		t.Errorf("Unexpected dropped counter: %v", err)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 9 {
		t.Errorf("Expected queue depth 9, got %v", got)
	}
}

func TestNewPipeline_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPipeline(reg, "cam-1")

	defer func() {
		if recover() == nil {
			t.Error("Expected registering the same metrics twice to panic")
		}
	}()
	NewPipeline(reg, "cam-1")
}

func TestDiscard_IsIndependent(t *testing.T) {
	a := Discard()
	b := Discard()

	a.Submitted.Inc()
	if got := testutil.ToFloat64(b.Submitted); got != 0 {
		t.Errorf("Expected separate registries, got %v on the second instance", got)
	}
}
