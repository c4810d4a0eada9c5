package audio

import "encoding/binary"

// ResampleMono16 resamples 16-bit little-endian mono PCM from srcRate to
// dstRate by linear interpolation. Browsers usually capture at 44.1 or 48 kHz
// while the live session expects 16 kHz. Invalid rates or equal rates return
// pcm unchanged.
//
// Use a [Resampler] for audio that arrives in frames.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	return NewResampler(srcRate, dstRate).Process(pcm)
}

// Resampler is a streaming linear resampler for 16-bit little-endian mono
// PCM. The read position and the last input sample carry over between calls
// to Process, so a stream split into frames resamples to the same samples as
// the stream in one piece. Not safe for concurrent use.
type Resampler struct {
	step float64

	// pos is the input position of the next output sample, relative to the
	// first sample of the next frame. It lies in [-1, 0) once a frame has
	// ended between two output positions; -1 addresses prev.
	pos  float64
	prev int16
}

// NewResampler returns a Resampler from srcRate to dstRate. Both rates must
// be positive.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{step: float64(srcRate) / float64(dstRate)}
}

// Process resamples one frame. A trailing odd byte is ignored.
func (r *Resampler) Process(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	sample := func(i int) float64 {
		if i < 0 {
			return float64(r.prev)
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	last := float64(n - 1)
	out := make([]byte, 0, int(float64(n)/r.step)*2+4)
	for ; r.pos < last; r.pos += r.step {
		idx := int(r.pos+1) - 1 // floor for pos >= -1
		frac := r.pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
	}
	r.pos -= float64(n)
	r.prev = int16(binary.LittleEndian.Uint16(pcm[(n-1)*2:]))
	return out
}
