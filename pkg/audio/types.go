package audio

// Upload and synthesis formats used by the Gemini Live API.
const (
	// UploadSampleRate is the sample rate of PCM sent to the live session.
	UploadSampleRate = 16000

	// UploadMIMEType tags every uploaded chunk.
	UploadMIMEType = "audio/pcm;rate=16000"

	// SynthesisSampleRate is the sample rate of PCM returned by speech synthesis.
	SynthesisSampleRate = 24000

	// SynthesisChannels is the channel count of synthesized speech.
	SynthesisChannels = 1

	// BitsPerSample is the bit depth of all PCM handled by voxcast.
	BitsPerSample = 16
)

// Chunk is a block of 16-bit little-endian linear PCM tagged with its MIME
// type. Chunks are produced continuously while a live session is open and are
// never persisted.
type Chunk struct {
	// Data is the raw PCM payload, 2 bytes per sample.
	Data []byte

	// MIMEType describes Data, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Samples returns the number of 16-bit samples in the chunk.
func (c Chunk) Samples() int { return len(c.Data) / 2 }
