package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/novavoice/internal/audio"
)

var stageOrder = []string{"recognition", "generation", "synthesis", "server_total", "client_roundtrip", "greet_total"}

type report struct {
	mu           sync.Mutex
	samples      map[string][]float64
	turns        int
	greets       int
	audioSeconds float64
}

func newReport() *report {
	return &report{samples: make(map[string][]float64)}
}

func (r *report) addTurn(t timings, roundTrip time.Duration, audioBase64 string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns++
	r.samples["recognition"] = append(r.samples["recognition"], float64(t.RecognitionMS))
	r.samples["generation"] = append(r.samples["generation"], float64(t.GenerationMS))
	r.samples["synthesis"] = append(r.samples["synthesis"], float64(t.SynthesisMS))
	r.samples["server_total"] = append(r.samples["server_total"], float64(t.TotalMS))
	r.samples["client_roundtrip"] = append(r.samples["client_roundtrip"], float64(roundTrip.Milliseconds()))
	r.audioSeconds += wavSeconds(audioBase64)
}

func (r *report) addGreet(t timings, _ time.Duration, audioBase64 string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.greets++
	r.samples["greet_total"] = append(r.samples["greet_total"], float64(t.TotalMS))
	r.audioSeconds += wavSeconds(audioBase64)
}

type stageStats struct {
	Stage   string
	Samples int
	P50     float64
	P95     float64
	Max     float64
}

func (r *report) Stats() []stageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stageStats, 0, len(stageOrder))
	for _, stage := range stageOrder {
		values := append([]float64(nil), r.samples[stage]...)
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)
		out = append(out, stageStats{
			Stage:   stage,
			Samples: len(values),
			P50:     percentile(values, 0.50),
			P95:     percentile(values, 0.95),
			Max:     values[len(values)-1],
		})
	}
	return out
}

func (r *report) Print(w io.Writer) {
	stats := r.Stats()
	r.mu.Lock()
	fmt.Fprintf(w, "greets=%d turns=%d decoded_wav_audio=%.1fs\n", r.greets, r.turns, r.audioSeconds)
	r.mu.Unlock()
	for _, s := range stats {
		fmt.Fprintf(w, "%-16s n=%-5d p50=%8.1fms p95=%8.1fms max=%8.1fms\n", s.Stage, s.Samples, s.P50, s.P95, s.Max)
	}
}

// percentile uses nearest-rank on sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// wavSeconds reports the length of a base64 WAV reply, or 0 for other formats.
func wavSeconds(audioBase64 string) float64 {
	data, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return 0
	}
	d, err := audio.WAVDuration(data)
	if err != nil {
		return 0
	}
	return d.Seconds()
}
