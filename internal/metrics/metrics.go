// Package metrics records per-request timing events in a bounded ring
// buffer and derives percentile summaries, baselines, and CI export
// artefacts from them.
package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"
)

// Kind identifies the category of a recorded duration.
type Kind string

const (
	KindCoordinationOverhead Kind = "coordination_overhead"
	KindTaskExecution        Kind = "task_execution"
	KindAgentInit            Kind = "agent_init"
	KindParallelCoordination Kind = "parallel_coordination"
)

// Event is one recorded measurement. Context carries the free-form
// `agent_id`/`task_id`/other tags of spec.md §3's Metric Event; "success"
// and "cancelled" keys are interpreted specially (see Record).
type Event struct {
	Kind       Kind
	DurationMs float64
	Success    bool
	Cancelled  bool
	Context    map[string]any
	Recorded   time.Time
}

// capacity is the ring buffer size — the most recent N=10,000 events are
// retained (performance_config.py's monitoring window).
const capacity = 10000

// Sink is a mutex-guarded ring buffer of recent metric events, mirroring
// the registry's append-under-lock shape but bounded instead of
// unbounded (grounded on internal/agent/registry.go's Registry).
type Sink struct {
	mu     sync.Mutex
	events []Event
	next   int
	filled bool

	thresholds Thresholds
	now        func() time.Time
}

// Thresholds gates the sub-200ms requirement and baseline quality bars.
type Thresholds struct {
	CoordinationWarningMs  float64
	CoordinationCriticalMs float64
	CoordinationMaxMs      float64
	MinSuccessRate         float64
}

// New creates an empty Sink.
func New(thresholds Thresholds) *Sink {
	return &Sink{
		events:     make([]Event, capacity),
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Record appends one event, overwriting the oldest slot once the buffer
// is full. ctx mirrors spec.md §4.10's record(kind, duration_ms, ctx): a
// `"cancelled": true` entry marks a client-disconnect abort (and implies
// failure); otherwise a `"success"` bool entry controls the baseline's
// success-rate gate, defaulting to true when absent.
func (s *Sink) Record(kind Kind, durationMs float64, ctx map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	success := true
	if v, ok := ctx["success"].(bool); ok {
		success = v
	}
	cancelled, _ := ctx["cancelled"].(bool)
	if cancelled {
		success = false
	}

	s.events[s.next] = Event{Kind: kind, DurationMs: durationMs, Success: success, Cancelled: cancelled, Context: ctx, Recorded: s.now()}
	s.next = (s.next + 1) % capacity
	if s.next == 0 {
		s.filled = true
	}
}

// RecordSuccess is a convenience wrapper for the common case of recording
// a plain success/failure outcome with no additional context.
func (s *Sink) RecordSuccess(kind Kind, durationMs float64, success bool) {
	s.Record(kind, durationMs, map[string]any{"success": success})
}

// snapshot returns a copy of all currently-stored events, oldest first.
func (s *Sink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filled {
		out := make([]Event, s.next)
		copy(out, s.events[:s.next])
		return out
	}
	out := make([]Event, capacity)
	copy(out, s.events[s.next:])
	copy(out[capacity-s.next:], s.events[:s.next])
	return out
}

// Summary is the percentile breakdown for one metric kind.
type Summary struct {
	Kind                       Kind    `json:"kind"`
	Samples                    int     `json:"samples"`
	MeanMs                     float64 `json:"mean_ms"`
	P95Ms                      float64 `json:"p95_ms"`
	P99Ms                      float64 `json:"p99_ms"`
	MeetsSub200msRequirement   bool    `json:"meets_sub_200ms_requirement,omitempty"`
}

// ValidateRequirements summarises every event currently in the window,
// grouped by kind, and flags the coordination-overhead kind against the
// sub-200ms requirement.
func (s *Sink) ValidateRequirements() []Summary {
	byKind := make(map[Kind][]float64)
	for _, e := range s.snapshot() {
		byKind[e.Kind] = append(byKind[e.Kind], e.DurationMs)
	}

	var out []Summary
	for kind, durations := range byKind {
		sum := summarize(kind, durations)
		if kind == KindCoordinationOverhead {
			sum.MeetsSub200msRequirement = sum.P95Ms < s.thresholds.CoordinationMaxMs
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func summarize(kind Kind, durations []float64) Summary {
	if len(durations) == 0 {
		return Summary{Kind: kind}
	}
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)

	var total float64
	for _, d := range sorted {
		total += d
	}

	return Summary{
		Kind:    kind,
		Samples: len(sorted),
		MeanMs:  total / float64(len(sorted)),
		P95Ms:   percentile(sorted, 0.95),
		P99Ms:   percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Baseline is a persisted snapshot of the steady-state timing
// distribution, used to detect regressions over time.
type Baseline struct {
	CoordinationOverheadMs float64   `json:"coordination_overhead_ms"`
	TaskExecutionMs        float64   `json:"task_execution_ms"`
	AgentInitMs            float64   `json:"agent_init_ms"`
	Samples                int       `json:"samples"`
	CI                     float64   `json:"ci"`
	EstablishedAt          time.Time `json:"established_at"`
}

// ErrInsufficientData is returned when the window does not have enough
// samples, or enough successful samples, to establish a trustworthy
// baseline.
var ErrInsufficientData = fmt.Errorf("insufficient samples or success rate to establish a baseline")

// EstablishBaseline computes a baseline from events recorded within
// window of now, requiring at least minSamples total events and at least
// a MinSuccessRate success ratio among them.
func (s *Sink) EstablishBaseline(window time.Duration, minSamples int, ci float64, path string) (Baseline, error) {
	cutoff := s.now().Add(-window)
	var recent []Event
	for _, e := range s.snapshot() {
		if !e.Recorded.Before(cutoff) {
			recent = append(recent, e)
		}
	}

	if len(recent) < minSamples {
		return Baseline{}, ErrInsufficientData
	}

	successCount := 0
	byKind := make(map[Kind][]float64)
	for _, e := range recent {
		if e.Success {
			successCount++
		}
		byKind[e.Kind] = append(byKind[e.Kind], e.DurationMs)
	}
	successRate := float64(successCount) / float64(len(recent))
	if successRate < s.thresholds.MinSuccessRate {
		return Baseline{}, ErrInsufficientData
	}

	mean := func(k Kind) float64 {
		vals := byKind[k]
		if len(vals) == 0 {
			return 0
		}
		var total float64
		for _, v := range vals {
			total += v
		}
		return total / float64(len(vals))
	}

	baseline := Baseline{
		CoordinationOverheadMs: mean(KindCoordinationOverhead),
		TaskExecutionMs:        mean(KindTaskExecution),
		AgentInitMs:            mean(KindAgentInit),
		Samples:                len(recent),
		CI:                     ci,
		EstablishedAt:          s.now(),
	}

	if path != "" {
		if err := writeJSON(path, baseline); err != nil {
			return Baseline{}, fmt.Errorf("persisting baseline: %w", err)
		}
	}
	return baseline, nil
}

// CIExport is the artefact consumed by a CI gate.
type CIExport struct {
	Summary         []Summary `json:"summary"`
	MeetsRequirements bool    `json:"meets_requirements"`
}

// ExportForCI writes the current validation summary to path as JSON.
func (s *Sink) ExportForCI(path string) (CIExport, error) {
	summary := s.ValidateRequirements()
	meets := true
	for _, sum := range summary {
		if sum.Kind == KindCoordinationOverhead && !sum.MeetsSub200msRequirement {
			meets = false
		}
	}
	export := CIExport{Summary: summary, MeetsRequirements: meets}
	if err := writeJSON(path, export); err != nil {
		return CIExport{}, fmt.Errorf("exporting CI metrics: %w", err)
	}
	return export, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
