package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func turn(phase Phase, stt, chat, tts int, navigated bool) PipelineRun {
	ms := time.Millisecond
	return PipelineRun{
		Phase:       phase,
		Recognition: time.Duration(stt) * ms,
		Generation:  time.Duration(chat) * ms,
		Synthesis:   time.Duration(tts) * ms,
		Total:       time.Duration(stt+chat+tts) * ms,
		Navigated:   navigated,
	}
}

func TestLatencyWindowSplitsPhases(t *testing.T) {
	w := newLatencyWindow(8)
	w.Add(turn(PhaseGreeting, 0, 800, 400, false))
	w.Add(turn(PhaseFirstTurn, 300, 3200, 500, false))
	w.Add(turn(PhaseContinuing, 200, 900, 500, true))
	w.Add(turn(PhaseContinuing, 400, 1100, 700, false))
	w.Add(turn(PhaseContinuing, 600, 1300, 900, false))

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Phases) != 3 {
		t.Fatalf("len(Phases) = %d, want 3", len(snap.Phases))
	}

	greet := snap.Phases[0]
	if greet.Phase != PhaseGreeting || greet.Runs != 1 {
		t.Fatalf("greeting = %+v", greet)
	}
	if len(greet.Stages) != 3 || greet.Stages[0].Stage != StageGeneration {
		t.Fatalf("greeting stages = %+v, want generation, synthesis, total", greet.Stages)
	}
	if got := greet.Stages[2].TargetP95MS; got != 4500 {
		t.Fatalf("greeting total target = %.0f, want 4500", got)
	}

	first := snap.Phases[1]
	if first.Phase != PhaseFirstTurn {
		t.Fatalf("Phases[1] = %q, want first_turn", first.Phase)
	}
	if gen := first.Stages[1]; gen.Stage != StageGeneration || gen.TargetP95MS != 3000 || gen.OverTarget != 1 {
		t.Fatalf("first turn generation = %+v", gen)
	}

	cont := snap.Phases[2]
	if cont.Runs != 3 || cont.Navigations != 1 {
		t.Fatalf("continuing = %+v, want 3 runs 1 navigation", cont)
	}
	rec := cont.Stages[0]
	if rec.Stage != StageRecognition || rec.P50MS != 400 || rec.P95MS != 600 || rec.MaxMS != 600 {
		t.Fatalf("continuing recognition = %+v", rec)
	}
	if rec.OverTarget != 0 {
		t.Fatalf("OverTarget = %d, want 0", rec.OverTarget)
	}
}

func TestLatencyWindowWrapsAndResets(t *testing.T) {
	w := newLatencyWindow(2)
	w.Add(turn(PhaseContinuing, 10, 10, 10, false))
	w.Add(turn(PhaseContinuing, 20, 20, 20, false))
	w.Add(turn(PhaseContinuing, 30, 30, 30, false))
	w.Add(PipelineRun{})
	w.Fail(StageSynthesis, "quota")
	w.Fail(StageGeneration, "timeout")
	w.Fail(StageGeneration, "timeout")

	snap := w.Snapshot()
	if got := snap.Phases[0].Runs; got != 2 {
		t.Fatalf("Runs = %d, want 2", got)
	}
	if got := snap.Phases[0].Stages[0].P50MS; got != 20 {
		t.Fatalf("P50MS = %.2f, want 20", got)
	}
	want := []FailureCount{
		{Stage: StageGeneration, Kind: "timeout", Count: 2},
		{Stage: StageSynthesis, Kind: "quota", Count: 1},
	}
	if len(snap.Failures) != len(want) || snap.Failures[0] != want[0] || snap.Failures[1] != want[1] {
		t.Fatalf("Failures = %+v, want %+v", snap.Failures, want)
	}

	w.Reset()
	snap = w.Snapshot()
	if len(snap.Phases) != 0 || len(snap.Failures) != 0 {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}

func TestNearestRank(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := []struct {
		q    float64
		want float64
	}{
		{0.50, 5},
		{0.95, 10},
		{0.10, 1},
		{0, 1},
	}
	for _, tc := range cases {
		if got := nearestRank(values, tc.q); got != tc.want {
			t.Fatalf("nearestRank(%.2f) = %v, want %v", tc.q, got, tc.want)
		}
	}
	if got := nearestRank(nil, 0.5); got != 0 {
		t.Fatalf("nearestRank(nil) = %v, want 0", got)
	}
}

func TestMetricsRecordStagesAndCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test")

	m.ObserveStage(StageGeneration, 1200*time.Millisecond)
	m.ObserveProviderError(StageSynthesis, "quota")
	m.ObserveNavigation("call")
	m.ObserveOperation("turn", "ok")
	m.ObserveSessionEviction("capacity")
	m.ObserveRun(turn(PhaseFirstTurn, 100, 1200, 300, true))

	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues(StageSynthesis, "quota")); got != 1 {
		t.Fatalf("provider errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Navigations.WithLabelValues("call")); got != 1 {
		t.Fatalf("navigations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Operations.WithLabelValues("turn", "ok")); got != 1 {
		t.Fatalf("operations = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.StageLatency); got != 1 {
		t.Fatalf("stage latency series = %d, want 1", got)
	}

	snap := m.LatencySnapshot()
	if len(snap.Phases) != 1 || snap.Phases[0].Phase != PhaseFirstTurn || snap.Phases[0].Navigations != 1 {
		t.Fatalf("snapshot phases = %+v", snap.Phases)
	}
	if len(snap.Failures) != 1 {
		t.Fatalf("snapshot failures = %+v, want 1", snap.Failures)
	}

	m.ResetLatencyWindow()
	if got := len(m.LatencySnapshot().Phases); got != 0 {
		t.Fatalf("phases after reset = %d, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStage(StageTurnTotal, time.Second)
	m.ObserveProviderError(StageRecognition, "generic")
	m.ObserveNavigation("call")
	m.ObserveOperation("greet", "ok")
	m.ObserveSessionEviction("expired")
	m.ObserveWSMessage("in", "turn_request")
	m.ObserveRun(PipelineRun{Phase: PhaseGreeting})
	m.ResetLatencyWindow()
	if snap := m.LatencySnapshot(); len(snap.Phases) != 0 {
		t.Fatalf("nil metrics snapshot = %+v", snap)
	}
}
