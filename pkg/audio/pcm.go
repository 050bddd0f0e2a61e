// Package audio holds the raw PCM16 helpers shared by the session client and
// the protocol proxy: odd-length repair, sample conversion and resampling.
//
// All audio is 16-bit signed little-endian mono. A byte slice is a valid
// PCM16 payload only when its length is even.
package audio

import "encoding/binary"

// BytesPerSample is the width of one PCM16 sample.
const BytesPerSample = 2

// RepairPCM16 returns data with a trailing odd byte removed. truncated reports
// whether a byte was dropped. The returned slice aliases data.
func RepairPCM16(data []byte) (fixed []byte, truncated bool) {
	if len(data)%BytesPerSample == 0 {
		return data, false
	}
	return data[:len(data)-1], true
}

// Samples decodes little-endian PCM16 into samples. A trailing odd byte is
// ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as little-endian PCM16.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DurationMillis returns the playback length of pcm in milliseconds at rate Hz.
func DurationMillis(pcm []byte, rate int) int {
	if rate <= 0 {
		return 0
	}
	return len(pcm) / BytesPerSample * 1000 / rate
}
