package telescope

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PairSize is the packed size of one (frequency, amplitude) pair.
const PairSize = 16

// PackSpectrum encodes s as little-endian float64 frequency, amplitude
// pairs.
func PackSpectrum(s ObservedSpectrum) []byte {
	n := len(s.Frequencies)
	if len(s.Amplitudes) < n {
		n = len(s.Amplitudes)
	}
	buf := make([]byte, n*PairSize)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[i*PairSize:], math.Float64bits(s.Frequencies[i]))
		binary.LittleEndian.PutUint64(buf[i*PairSize+8:], math.Float64bits(s.Amplitudes[i]))
	}
	return buf
}

// UnpackSpectrum decodes a payload written by PackSpectrum.
func UnpackSpectrum(buf []byte) (freqs, amps []float64, err error) {
	if len(buf)%PairSize != 0 {
		return nil, nil, fmt.Errorf("spectrum payload of %d bytes is not a whole number of pairs", len(buf))
	}
	n := len(buf) / PairSize
	freqs = make([]float64, n)
	amps = make([]float64, n)
	for i := 0; i < n; i++ {
		freqs[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*PairSize:]))
		amps[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*PairSize+8:]))
	}
	return freqs, amps, nil
}
