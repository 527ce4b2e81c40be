// Package simulated is a synthetic SDR producing receiver noise with a
// Doppler-broadened 21 cm hydrogen line.
package simulated

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// HydrogenLine is the rest frequency of the HI hyperfine transition.
	HydrogenLine = 1420.405751768e6
	blockSize    = 1024
)

var ErrClosed = errors.New("device closed")

type Config struct {
	Seed int64
	// LineAmplitude is the peak line power relative to the noise floor.
	LineAmplitude float64
	// LineWidth is the line's Gaussian sigma in Hz.
	LineWidth float64
	// LineOffset shifts the line from its rest frequency, in Hz.
	LineOffset float64
	// Realtime paces ReadSamples at the configured sample rate.
	Realtime bool
}

func DefaultConfig() Config {
	return Config{
		Seed:          1,
		LineAmplitude: 0.5,
		LineWidth:     100e3,
	}
}

type Device struct {
	cfg Config
	fft *fourier.CmplxFFT

	mu     sync.Mutex
	rng    *rand.Rand
	rate   float64
	gain   float64
	freq   float64
	closed bool
}

func New(cfg Config) *Device {
	return &Device{
		cfg:  cfg,
		fft:  fourier.NewCmplxFFT(blockSize),
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		rate: 2.5e6,
	}
}

func (d *Device) SetSampleRate(ctx context.Context, rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.rate = rate
	return nil
}

func (d *Device) SetGain(ctx context.Context, gain float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.gain = gain
	return nil
}

func (d *Device) Tune(ctx context.Context, freq float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.freq = freq
	return nil
}

// Frequency returns the tuned centre frequency.
func (d *Device) Frequency() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// profile is the expected power in a bin at baseband offset f.
func (d *Device) profile(f float64) float64 {
	x := (d.freq + f) - (HydrogenLine + d.cfg.LineOffset)
	return 1 + d.cfg.LineAmplitude*math.Exp(-x*x/(2*d.cfg.LineWidth*d.cfg.LineWidth))
}

// ReadSamples synthesizes blocks in the frequency domain and transforms them
// back to IQ samples.
func (d *Device) ReadSamples(ctx context.Context, buf []complex64) error {
	rate, err := d.synthesize(buf)
	if err != nil || !d.cfg.Realtime {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(float64(len(buf)) / rate * float64(time.Second))):
		return nil
	}
}

func (d *Device) synthesize(buf []complex64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	spec := make([]complex128, blockSize)
	seq := make([]complex128, blockSize)
	scale := complex(1/math.Sqrt(blockSize), 0)
	for off := 0; off < len(buf); off += blockSize {
		for k := range spec {
			// Bin k sits at +k for the first half and wraps negative after.
			bin := k
			if k >= blockSize/2 {
				bin = k - blockSize
			}
			f := float64(bin) * d.rate / blockSize
			amp := math.Sqrt(d.profile(f) / 2)
			spec[k] = complex(d.rng.NormFloat64()*amp, d.rng.NormFloat64()*amp)
		}
		seq = d.fft.Sequence(seq, spec)
		for i := 0; i < blockSize && off+i < len(buf); i++ {
			buf[off+i] = complex64(seq[i] * scale)
		}
	}
	return d.rate, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
