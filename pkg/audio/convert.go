package audio

// ResampleMono16 converts 16-bit little-endian mono PCM from srcRate to
// dstRate using linear interpolation. A trailing odd byte is ignored.
// Non-positive rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(pcm, srcIdx+1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func sampleAt(pcm []byte, idx int) int16 {
	return int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
}

// Resampler converts a stream of PCM16 chunks between two fixed rates.
// A zero-value Resampler, or one with equal rates, passes audio through.
//
// Interpolation spans chunk boundaries: the read position and the last
// sample of each chunk carry over to the next, so the output length tracks
// the exact rate ratio however the stream is split. An output sample that
// needs the first sample of the next chunk is held until that chunk arrives.
type Resampler struct {
	SrcRate int
	DstRate int

	// pos is the next output's read position, in 1/DstRate source samples
	// from the start of the next chunk. It is negative while the output
	// falls between last and that chunk's first sample.
	pos  int64
	last int16
}

// Passthrough reports whether Convert returns its input unchanged.
func (r *Resampler) Passthrough() bool {
	return r.SrcRate <= 0 || r.DstRate <= 0 || r.SrcRate == r.DstRate
}

// Convert resamples the next chunk of the stream. A trailing odd byte is
// ignored.
func (r *Resampler) Convert(pcm []byte) []byte {
	if r.Passthrough() {
		return pcm
	}
	n := int64(len(pcm) / 2)
	if n == 0 {
		return nil
	}
	src, dst := int64(r.SrcRate), int64(r.DstRate)
	at := func(idx int64) int64 {
		if idx < 0 {
			return int64(r.last)
		}
		return int64(sampleAt(pcm, int(idx)))
	}

	out := make([]byte, 0, (n*dst/src+2)*2)
	for {
		idx := floorDiv(r.pos, dst)
		if idx+1 >= n {
			break
		}
		frac := r.pos - idx*dst
		v := int16((at(idx)*(dst-frac) + at(idx+1)*frac) / dst)
		out = append(out, byte(v), byte(v>>8))
		r.pos += src
	}
	r.pos -= n * dst
	r.last = sampleAt(pcm, int(n-1))
	return out
}

// Reset forgets the carried position and sample. The next chunk starts a
// new stream.
func (r *Resampler) Reset() {
	r.pos, r.last = 0, 0
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
