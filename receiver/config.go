// Package receiver runs switched-radiometer integrations on an SDR.
//
// Each cycle samples the signal frequency for half the integration time and
// the reference frequency for the other half, then calibrates the difference
// against a fixed system temperature and folds it into a running average.
package receiver

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	// IntegrationTime is the length of one switched cycle.
	IntegrationTime    time.Duration
	SampleRate         float64 // Hz
	SignalFrequency    float64 // Hz
	ReferenceFrequency float64 // Hz
	Gain               float64 // dB
	// FFTPoints is the raw spectral resolution, AveragePoints the reported one.
	FFTPoints     int
	AveragePoints int
	// Tsys is the system temperature in K.
	Tsys float64

	DespikeWindow    int
	DespikeThreshold float64
}

// DefaultConfig is a switched HI observation.
func DefaultConfig() Config {
	return Config{
		IntegrationTime:    time.Second,
		SampleRate:         2.5e6,
		SignalFrequency:    1.4204e9,
		ReferenceFrequency: 1.4179e9,
		Gain:               38,
		FFTPoints:          8192,
		AveragePoints:      512,
		Tsys:               285,
		DespikeWindow:      32,
		DespikeThreshold:   0.1,
	}
}

// HalfCycleSamples is the number of samples taken at each frequency.
func (c Config) HalfCycleSamples() int {
	return int(0.5 * c.IntegrationTime.Seconds() * c.SampleRate)
}

func (c Config) Validate() error {
	switch {
	case c.FFTPoints <= 0 || c.FFTPoints%2 != 0:
		return fmt.Errorf("fft points %d must be positive and even", c.FFTPoints)
	case c.AveragePoints <= 0 || c.FFTPoints%c.AveragePoints != 0:
		return fmt.Errorf("average points %d must divide fft points %d", c.AveragePoints, c.FFTPoints)
	case c.DespikeWindow <= 0 || c.FFTPoints%c.DespikeWindow != 0:
		return fmt.Errorf("despike window %d must divide fft points %d", c.DespikeWindow, c.FFTPoints)
	case c.SampleRate <= 0:
		return errors.New("sample rate must be positive")
	case c.HalfCycleSamples() < c.FFTPoints:
		return fmt.Errorf("integration time %v too short for %d point FFT", c.IntegrationTime, c.FFTPoints)
	}
	return nil
}

// Frequencies returns the lower edge of each reported bin, in Hz.
func (c Config) Frequencies() []float64 {
	freqs := make([]float64, c.AveragePoints)
	for i := range freqs {
		freqs[i] = c.SignalFrequency - 0.5*c.SampleRate + c.SampleRate*float64(i)/float64(c.AveragePoints)
	}
	return freqs
}
