package audio

import (
	"encoding/binary"
	"math"
)

// PCM16 converts float samples to little-endian signed 16-bit PCM bytes,
// clipping out-of-range samples.
func PCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(Clip(s)) * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return buf
}

// FromPCM16 converts little-endian signed 16-bit PCM bytes to float samples.
// A trailing odd byte is ignored.
func FromPCM16(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		samples[i] = Clip(float32(v) / math.MaxInt16)
	}
	return samples
}
