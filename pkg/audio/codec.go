package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// EncodeForUpload converts float samples in [-1, 1] to a 16 kHz upload chunk.
// Samples outside the range are clamped; negative values scale by 0x8000 and
// positive values by 0x7FFF so that both extremes map exactly onto the int16
// range. len(chunk.Data) == 2*len(samples).
func EncodeForUpload(samples []float32) Chunk {
	return Chunk{Data: Float32ToPCM16(samples), MIMEType: UploadMIMEType}
}

// Float32ToPCM16 packs float samples as little-endian int16 PCM.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(math.Round(float64(s) * 0x8000))
	}
	return int16(math.Round(float64(s) * 0x7FFF))
}

// Float32FromBytes decodes little-endian IEEE-754 float32 samples, the format
// browsers deliver from an AudioWorklet. Trailing bytes that do not form a
// whole sample are ignored.
func Float32FromBytes(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// DecodeFragments base64-decodes fragments and concatenates them in the order
// given. Order is never changed: synthesized speech is order-dependent.
func DecodeFragments(fragments []string) ([]byte, error) {
	size := 0
	for _, f := range fragments {
		size += base64.StdEncoding.DecodedLen(len(f))
	}
	out := make([]byte, 0, size)
	for i, f := range fragments {
		b, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("audio: decode fragment %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// UploadEncoder converts capture frames at SourceRate into upload chunks at
// [UploadSampleRate]. It logs a warning on the first frame that needs
// resampling. Resampling state carries over between frames, so create one
// per capture; not designed for shared use across goroutines.
type UploadEncoder struct {
	SourceRate int
	warned     sync.Once
	rs         *Resampler
}

// Encode clamps, quantises and, if needed, resamples samples to 16 kHz.
func (e *UploadEncoder) Encode(samples []float32) Chunk {
	chunk := EncodeForUpload(samples)
	if e.SourceRate <= 0 || e.SourceRate == UploadSampleRate {
		return chunk
	}
	e.warned.Do(func() {
		slog.Warn("capture rate differs from upload rate: resampling",
			"from", e.SourceRate,
			"to", UploadSampleRate,
		)
		e.rs = NewResampler(e.SourceRate, UploadSampleRate)
	})
	chunk.Data = e.rs.Process(chunk.Data)
	return chunk
}
