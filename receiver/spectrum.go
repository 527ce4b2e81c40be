package receiver

import (
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// powerSpectrum stacks |FFT|² over consecutive blocks of samples, in
// increasing frequency order, normalized by the number of blocks. Trailing
// samples that do not fill a block are ignored.
type powerSpectrum struct {
	fft *fourier.CmplxFFT
	in  []complex128
	out []complex128
}

func newPowerSpectrum(points int) *powerSpectrum {
	return &powerSpectrum{
		fft: fourier.NewCmplxFFT(points),
		in:  make([]complex128, points),
		out: make([]complex128, points),
	}
}

func (p *powerSpectrum) compute(samples []complex64) []float64 {
	n := len(p.in)
	half := n / 2
	spec := make([]float64, n)
	nstack := len(samples) / n
	for b := 0; b < nstack; b++ {
		for i, s := range samples[b*n : (b+1)*n] {
			p.in[i] = complex128(s)
		}
		p.out = p.fft.Coefficients(p.out, p.in)
		// Raw output runs DC..+fs/2 then -fs/2..DC; swap the halves.
		for i := 0; i < half; i++ {
			spec[i+half] += norm2(p.out[i])
			spec[i] += norm2(p.out[i+half])
		}
	}
	if nstack > 0 {
		for i := range spec {
			spec[i] /= float64(nstack)
		}
	}
	return spec
}

func norm2(c complex128) float64 {
	return real(c)*real(c) + imag(c)*imag(c)
}

// PowerSpectrum is a one-off powerSpectrum computation.
func PowerSpectrum(samples []complex64, points int) []float64 {
	return newPowerSpectrum(points).compute(samples)
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (s[n/2-1] + s[n/2]) / 2
	}
	return s[n/2]
}

// Despike replaces, in place, every bin deviating from the median of its
// window by more than threshold times that median. It returns the number of
// bins replaced.
func Despike(spec []float64, window int, threshold float64) int {
	replaced := 0
	for start := 0; start+window <= len(spec); start += window {
		chunk := spec[start : start+window]
		m := median(chunk)
		for i, v := range chunk {
			d := v - m
			if d < 0 {
				d = -d
			}
			if d > threshold*m {
				chunk[i] = m
				replaced++
			}
		}
	}
	return replaced
}

// Downsample block-averages spec to points bins. len(spec) must be a
// multiple of points.
func Downsample(spec []float64, points int) []float64 {
	navg := len(spec) / points
	out := make([]float64, points)
	for i := range out {
		sum := 0.0
		for _, v := range spec[i*navg : (i+1)*navg] {
			sum += v
		}
		out[i] = sum / float64(navg)
	}
	return out
}

// Calibrate converts a signal/reference pair to antenna temperature.
func Calibrate(sig, ref []float64, tsys float64) []float64 {
	out := make([]float64, len(sig))
	for i := range out {
		out[i] = tsys * (sig[i] - ref[i]) / ref[i]
	}
	return out
}
