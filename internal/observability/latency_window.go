package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Phase separates greetings from first and continuing turns. First turns carry
// the longest prompt, so they are tracked apart from the rest of a session.
type Phase string

const (
	PhaseGreeting   Phase = "greeting"
	PhaseFirstTurn  Phase = "first_turn"
	PhaseContinuing Phase = "continuing"
)

var phaseOrder = []Phase{PhaseGreeting, PhaseFirstTurn, PhaseContinuing}

// PipelineRun is one successful greet or turn.
type PipelineRun struct {
	Phase       Phase
	Recognition time.Duration
	Generation  time.Duration
	Synthesis   time.Duration
	Total       time.Duration
	Navigated   bool
}

type StageLatency struct {
	Stage       string  `json:"stage"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms"`
	OverTarget  int     `json:"over_target"`
}

type PhaseLatency struct {
	Phase       Phase          `json:"phase"`
	Runs        int            `json:"runs"`
	Navigations int            `json:"navigations"`
	Stages      []StageLatency `json:"stages"`
}

type FailureCount struct {
	Stage string `json:"stage"`
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// LatencySnapshot is the JSON body of the perf endpoint.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Phases      []PhaseLatency `json:"phases"`
	Failures    []FailureCount `json:"failures,omitempty"`
}

type failureKey struct {
	stage string
	kind  string
}

// latencyWindow keeps the most recent runs in a ring. Failures are counted
// since the last reset.
type latencyWindow struct {
	mu       sync.Mutex
	runs     []PipelineRun
	next     int
	size     int
	failures map[failureKey]int
}

func newLatencyWindow(capacity int) *latencyWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &latencyWindow{
		runs:     make([]PipelineRun, capacity),
		failures: make(map[failureKey]int),
	}
}

func (w *latencyWindow) Add(run PipelineRun) {
	if run.Phase == "" || run.Total < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runs[w.next] = run
	w.next = (w.next + 1) % len(w.runs)
	if w.size < len(w.runs) {
		w.size++
	}
}

func (w *latencyWindow) Fail(stage, kind string) {
	if stage == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[failureKey{stage: stage, kind: kind}]++
}

func (w *latencyWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.size = 0
	w.failures = make(map[failureKey]int)
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	byPhase := make(map[Phase][]PipelineRun, len(phaseOrder))
	for i := 0; i < w.size; i++ {
		run := w.runs[i]
		byPhase[run.Phase] = append(byPhase[run.Phase], run)
	}
	failures := make([]FailureCount, 0, len(w.failures))
	for k, n := range w.failures {
		failures = append(failures, FailureCount{Stage: k.stage, Kind: k.kind, Count: n})
	}
	capacity := len(w.runs)
	w.mu.Unlock()

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Stage != failures[j].Stage {
			return failures[i].Stage < failures[j].Stage
		}
		return failures[i].Kind < failures[j].Kind
	})

	phases := make([]PhaseLatency, 0, len(phaseOrder))
	for _, phase := range phaseOrder {
		runs := byPhase[phase]
		if len(runs) == 0 {
			continue
		}
		phases = append(phases, summarizePhase(phase, runs))
	}

	return LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  capacity,
		Phases:      phases,
		Failures:    failures,
	}
}

func summarizePhase(phase Phase, runs []PipelineRun) PhaseLatency {
	out := PhaseLatency{Phase: phase, Runs: len(runs)}
	for _, run := range runs {
		if run.Navigated {
			out.Navigations++
		}
	}

	stages := []struct {
		name string
		get  func(PipelineRun) time.Duration
	}{
		{StageRecognition, func(r PipelineRun) time.Duration { return r.Recognition }},
		{StageGeneration, func(r PipelineRun) time.Duration { return r.Generation }},
		{StageSynthesis, func(r PipelineRun) time.Duration { return r.Synthesis }},
		{StageTotal, func(r PipelineRun) time.Duration { return r.Total }},
	}
	for _, stage := range stages {
		// Greetings never run recognition.
		if phase == PhaseGreeting && stage.name == StageRecognition {
			continue
		}
		values := make([]float64, len(runs))
		for i, run := range runs {
			values[i] = float64(stage.get(run)) / float64(time.Millisecond)
		}
		out.Stages = append(out.Stages, stageLatency(stage.name, targetP95MS(phase, stage.name), values))
	}
	return out
}

func stageLatency(stage string, target float64, values []float64) StageLatency {
	sort.Float64s(values)
	over := 0
	for _, v := range values {
		if target > 0 && v > target {
			over++
		}
	}
	return StageLatency{
		Stage:       stage,
		P50MS:       round2(nearestRank(values, 0.50)),
		P95MS:       round2(nearestRank(values, 0.95)),
		P99MS:       round2(nearestRank(values, 0.99)),
		MaxMS:       round2(values[len(values)-1]),
		TargetP95MS: target,
		OverTarget:  over,
	}
}

// nearestRank expects sorted input.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func targetP95MS(phase Phase, stage string) float64 {
	switch stage {
	case StageRecognition:
		return 1500
	case StageGeneration:
		if phase == PhaseFirstTurn {
			return 3000
		}
		return 2500
	case StageSynthesis:
		return 2000
	case StageTotal:
		if phase == PhaseGreeting {
			return 4500
		}
		return 6000
	default:
		return 0
	}
}
