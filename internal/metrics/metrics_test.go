package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSink(t *testing.T) *Sink {
	t.Helper()
	s := New(Thresholds{CoordinationMaxMs: 200, MinSuccessRate: 0.9})
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestValidateRequirements_ComputesPercentiles(t *testing.T) {
	s := testSink(t)
	for _, d := range []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		s.RecordSuccess(KindCoordinationOverhead, d, true)
	}

	summaries := s.ValidateRequirements()
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	sum := summaries[0]
	if sum.Samples != 10 {
		t.Errorf("expected 10 samples, got %d", sum.Samples)
	}
	if sum.MeanMs != 55 {
		t.Errorf("expected mean 55, got %f", sum.MeanMs)
	}
	if !sum.MeetsSub200msRequirement {
		t.Error("expected sub-200ms requirement to be met")
	}
}

func TestValidateRequirements_FlagsViolation(t *testing.T) {
	s := testSink(t)
	for i := 0; i < 20; i++ {
		s.RecordSuccess(KindCoordinationOverhead, 250, true)
	}

	summaries := s.ValidateRequirements()
	if summaries[0].MeetsSub200msRequirement {
		t.Error("expected sub-200ms requirement to be violated")
	}
}

func TestRingBuffer_WrapsAtCapacity(t *testing.T) {
	s := testSink(t)
	for i := 0; i < capacity+5; i++ {
		s.RecordSuccess(KindAgentInit, float64(i), true)
	}

	snap := s.snapshot()
	if len(snap) != capacity {
		t.Fatalf("expected snapshot capped at %d, got %d", capacity, len(snap))
	}
	// The oldest 5 events should have been evicted: the window now starts at 5.
	if snap[0].DurationMs != 5 {
		t.Errorf("expected oldest surviving event to be duration 5, got %f", snap[0].DurationMs)
	}
}

func TestEstablishBaseline_RequiresMinSamples(t *testing.T) {
	s := testSink(t)
	s.RecordSuccess(KindCoordinationOverhead, 100, true)

	_, err := s.EstablishBaseline(time.Hour, 100, 0.95, "")
	if err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestEstablishBaseline_RequiresSuccessRate(t *testing.T) {
	s := testSink(t)
	for i := 0; i < 10; i++ {
		s.RecordSuccess(KindCoordinationOverhead, 100, i < 5) // 50% success
	}

	_, err := s.EstablishBaseline(time.Hour, 10, 0.95, "")
	if err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData due to low success rate, got %v", err)
	}
}

func TestEstablishBaseline_PersistsToPath(t *testing.T) {
	s := testSink(t)
	for i := 0; i < 10; i++ {
		s.RecordSuccess(KindCoordinationOverhead, 100, true)
	}

	path := filepath.Join(t.TempDir(), "baseline.json")
	baseline, err := s.EstablishBaseline(time.Hour, 10, 0.95, path)
	if err != nil {
		t.Fatal(err)
	}
	if baseline.Samples != 10 {
		t.Errorf("expected 10 samples, got %d", baseline.Samples)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected baseline file to be written: %v", err)
	}
}

func TestExportForCI_WritesFile(t *testing.T) {
	s := testSink(t)
	for i := 0; i < 5; i++ {
		s.RecordSuccess(KindCoordinationOverhead, 50, true)
	}

	path := filepath.Join(t.TempDir(), "ci.json")
	export, err := s.ExportForCI(path)
	if err != nil {
		t.Fatal(err)
	}
	if !export.MeetsRequirements {
		t.Error("expected requirements to be met")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected CI export file to be written: %v", err)
	}
}

func TestRecord_CancelledContextImpliesFailure(t *testing.T) {
	s := testSink(t)
	s.Record(KindCoordinationOverhead, 5000, map[string]any{"cancelled": true})

	snap := s.snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 event, got %d", len(snap))
	}
	if !snap[0].Cancelled {
		t.Error("expected Cancelled to be true")
	}
	if snap[0].Success {
		t.Error("expected a cancelled event to count as unsuccessful")
	}
}
