package receiver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestPowerSpectrumOrdering(t *testing.T) {
	const n = 8
	for _, test := range []struct {
		name string
		bin  int // raw FFT bin of the tone
		want int // index after reordering
	}{
		{"dc", 0, 4},
		{"positive", 1, 5},
		{"highest positive", 3, 7},
		{"most negative", 4, 0},
		{"negative", 7, 3},
	} {
		t.Run(test.name, func(t *testing.T) {
			// Two blocks of the same tone stack to the same normalized power.
			samples := make([]complex64, 2*n+3)
			for i := range samples {
				phase := 2 * math.Pi * float64(test.bin*i) / n
				samples[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
			}
			got := PowerSpectrum(samples, n)
			want := make([]float64, n)
			want[test.want] = n * n
			// complex64 samples carry about seven significant digits.
			if diff := cmp.Diff(got, want, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
				t.Errorf("unexpected spectrum: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestMedian(t *testing.T) {
	for _, test := range []struct {
		in   []float64
		want float64
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{7}, 7},
		{nil, 0},
	} {
		if got := median(test.in); got != test.want {
			t.Errorf("median(%v) = %v, want %v", test.in, got, test.want)
		}
	}
	in := []float64{3, 1, 2}
	median(in)
	if diff := cmp.Diff(in, []float64{3, 1, 2}); diff != "" {
		t.Errorf("median reordered its input: got(-)/want(+):\n%s", diff)
	}
}

func TestDespike(t *testing.T) {
	const window = 32
	spec := make([]float64, 4*window)
	rng := rand.New(rand.NewSource(7))
	for i := range spec {
		// Within ±5% of 100, below the 10% threshold.
		spec[i] = 100 + 10*(rng.Float64()-0.5)
	}
	orig := append([]float64(nil), spec...)
	const spike = 2*window + 5
	spec[spike] = 1000
	m := median(spec[2*window : 3*window])

	if n := Despike(spec, window, 0.1); n != 1 {
		t.Fatalf("first pass replaced %d bins, want 1", n)
	}
	want := append([]float64(nil), orig...)
	want[spike] = m
	if diff := cmp.Diff(spec, want); diff != "" {
		t.Errorf("unexpected spectrum: got(-)/want(+):\n%s", diff)
	}

	if n := Despike(spec, window, 0.1); n != 0 {
		t.Errorf("second pass replaced %d bins, want 0", n)
	}
	if diff := cmp.Diff(spec, want); diff != "" {
		t.Errorf("second pass changed the spectrum: got(-)/want(+):\n%s", diff)
	}
}

func TestDownsample(t *testing.T) {
	got := Downsample([]float64{1, 3, 5, 7, 2, 2, 0, 4}, 4)
	if diff := cmp.Diff(got, []float64{2, 6, 2, 2}); diff != "" {
		t.Errorf("unexpected spectrum: got(-)/want(+):\n%s", diff)
	}
}

func TestCalibrate(t *testing.T) {
	got := Calibrate([]float64{2, 1, 1.5}, []float64{1, 1, 2}, 285)
	if diff := cmp.Diff(got, []float64{285, 0, -71.25}); diff != "" {
		t.Errorf("unexpected spectrum: got(-)/want(+):\n%s", diff)
	}
}

func TestFrequencies(t *testing.T) {
	freqs := DefaultConfig().Frequencies()
	if len(freqs) != 512 {
		t.Fatalf("got %d frequencies, want 512", len(freqs))
	}
	for _, test := range []struct {
		i    int
		want float64
	}{
		{0, 1.4204e9 - 1.25e6},
		{256, 1.4204e9},
		{511, 1.4204e9 - 1.25e6 + 2.5e6*511/512},
	} {
		if math.Abs(freqs[test.i]-test.want) > 1e-3 {
			t.Errorf("freqs[%d] = %v, want %v", test.i, freqs[test.i], test.want)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestAccumulatorMean(t *testing.T) {
	values := []float64{10, -4, 7.5, 3, 100}
	durations := []time.Duration{time.Second, 2 * time.Second, 1500 * time.Millisecond, time.Second, 3 * time.Second}
	var sum float64
	var total time.Duration
	for i, v := range values {
		sum += v
		total += durations[i]
	}

	for _, order := range [][]int{{0, 1, 2, 3, 4}, {4, 3, 2, 1, 0}, {2, 0, 4, 1, 3}} {
		acc := NewAccumulator([]float64{1, 2}, time.Time{})
		for _, i := range order {
			acc.Add([]float64{values[i], 2 * values[i]}, durations[i])
		}
		m := acc.Snapshot()
		want := Measurement{
			Frequencies: []float64{1, 2},
			Amplitudes:  []float64{sum / 5, 2 * sum / 5},
			Duration:    total,
			Cycles:      5,
		}
		if diff := cmp.Diff(m, want, cmpopts.EquateApprox(1e-12, 0)); diff != "" {
			t.Errorf("order %v: unexpected measurement: got(-)/want(+):\n%s", order, diff)
		}
	}
}

// scaledDevice returns the same pseudo-random block at every frequency,
// scaled by gains[freq].
type scaledDevice struct {
	gains map[float64]float64

	mu     sync.Mutex
	freq   float64
	reads  int
	closed bool
}

func (d *scaledDevice) SetSampleRate(ctx context.Context, rate float64) error { return nil }
func (d *scaledDevice) SetGain(ctx context.Context, gain float64) error       { return nil }

func (d *scaledDevice) Tune(ctx context.Context, freq float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freq = freq
	return nil
}

func (d *scaledDevice) ReadSamples(ctx context.Context, buf []complex64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rng := rand.New(rand.NewSource(3))
	g := d.gains[d.freq]
	for i := range buf {
		buf[i] = complex64(complex(g*rng.NormFloat64(), g*rng.NormFloat64()))
	}
	d.reads++
	return nil
}

func (d *scaledDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 1280
	cfg.IntegrationTime = 100 * time.Millisecond
	cfg.FFTPoints = 64
	cfg.AveragePoints = 16
	cfg.DespikeWindow = 8
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIntegration(t *testing.T) {
	cfg := testConfig()
	dev := &scaledDevice{gains: map[float64]float64{
		cfg.SignalFrequency:    2,
		cfg.ReferenceFrequency: 1,
	}}
	in, err := Start(context.Background(), "salsa", cfg, OpenerFunc(func(ctx context.Context) (Device, error) {
		return dev, nil
	}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := in.Measurement(); ok {
		t.Error("measurement available before the first cycle")
	}
	waitFor(t, "three cycles", func() bool {
		m, _ := in.Measurement()
		return m.Cycles >= 3
	})
	in.Stop()
	<-in.Done()
	if !in.Finished() {
		t.Error("Finished() = false after Done")
	}
	if !dev.closed {
		t.Error("device not closed")
	}
	if dev.reads%2 != 0 {
		t.Errorf("stopped mid-cycle after %d reads", dev.reads)
	}

	m, ok := in.Measurement()
	if !ok {
		t.Fatal("no measurement")
	}
	// Signal power is 4x reference in every bin.
	want := make([]float64, cfg.AveragePoints)
	for i := range want {
		want[i] = cfg.Tsys * 3
	}
	if diff := cmp.Diff(m.Amplitudes, want, cmpopts.EquateApprox(1e-9, 0)); diff != "" {
		t.Errorf("unexpected amplitudes: got(-)/want(+):\n%s", diff)
	}
	if diff := cmp.Diff(m.Frequencies, cfg.Frequencies()); diff != "" {
		t.Errorf("unexpected frequencies: got(-)/want(+):\n%s", diff)
	}
	if m.Cycles != dev.reads/2 {
		t.Errorf("cycles = %d, want %d", m.Cycles, dev.reads/2)
	}
	if in.Err() != nil {
		t.Errorf("Err() = %v", in.Err())
	}
}

func TestIntegrationRetriesOpen(t *testing.T) {
	cfg := testConfig()
	cfg.IntegrationTime = 20 * time.Millisecond
	cfg.SampleRate = 6400
	var mu sync.Mutex
	attempts := 0
	errNoDevice := errors.New("no device")
	in, err := Start(context.Background(), "salsa", cfg, OpenerFunc(func(ctx context.Context) (Device, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return nil, errNoDevice
	}), nil)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two attempts", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	})
	if !errors.Is(in.Err(), errNoDevice) {
		t.Errorf("Err() = %v, want %v", in.Err(), errNoDevice)
	}
	in.Stop()
	select {
	case <-in.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("integration did not stop")
	}
}

func TestStartRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.AveragePoints = 7
	if _, err := Start(context.Background(), "salsa", cfg, nil, nil); err == nil {
		t.Error("Start accepted an invalid config")
	}
}
