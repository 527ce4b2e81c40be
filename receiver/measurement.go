package receiver

import (
	"sync"
	"time"
)

// Measurement is the running average of one integration.
type Measurement struct {
	Frequencies []float64
	Amplitudes  []float64
	Start       time.Time
	// Duration is the summed wall-clock time of completed cycles.
	Duration time.Duration
	Cycles   int
}

// Accumulator folds calibrated cycles into a cumulative mean. It is safe for
// concurrent use.
type Accumulator struct {
	mu sync.Mutex
	m  Measurement
}

func NewAccumulator(freqs []float64, start time.Time) *Accumulator {
	return &Accumulator{m: Measurement{
		Frequencies: append([]float64(nil), freqs...),
		Amplitudes:  make([]float64, len(freqs)),
		Start:       start,
	}}
}

// Add merges one cycle that took d.
func (a *Accumulator) Add(spec []float64, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m.Cycles++
	n := float64(a.m.Cycles)
	for i := range a.m.Amplitudes {
		a.m.Amplitudes[i] = (a.m.Amplitudes[i]*(n-1) + spec[i]) / n
	}
	a.m.Duration += d
}

// Snapshot returns a copy of the current average.
func (a *Accumulator) Snapshot() Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.m
	m.Frequencies = append([]float64(nil), a.m.Frequencies...)
	m.Amplitudes = append([]float64(nil), a.m.Amplitudes...)
	return m
}
