// Package mock provides test doubles for the gemini package.
//
// Use Dialer and Session to drive Live sessions: the test emits server events
// with [Session.Emit], ends the stream with [Session.End], and inspects what
// the code under test uploaded. Use Generator for the one-shot operations.
//
// Example:
//
//	sess := mock.NewSession()
//	d := &mock.Dialer{Session: sess}
//	// ... start the code under test with d ...
//	sess.Emit(gemini.Event{Kind: gemini.EventOpen})
//	sess.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "hello"})
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/voxcast/pkg/audio"
	"github.com/MrWong99/voxcast/pkg/dialogue"
	"github.com/MrWong99/voxcast/pkg/provider/gemini"
)

var (
	_ gemini.Dialer      = (*Dialer)(nil)
	_ gemini.LiveSession = (*Session)(nil)
)

// ErrSessionClosed is returned by Session send methods after Close.
var ErrSessionClosed = errors.New("mock: session closed")

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer is a mock implementation of [gemini.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// [Session] on every call; all of them are available via [Dialer.Sessions].
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, if non-nil, makes Connect wait until it is closed or the context
	// is cancelled.
	Block chan struct{}

	// ConnectCalls records the LiveConfig of every Connect call in order.
	ConnectCalls []gemini.LiveConfig

	sessions []*Session
}

// Connect records the call and returns Session or ConnectErr.
func (d *Dialer) Connect(ctx context.Context, cfg gemini.LiveConfig) (gemini.LiveSession, error) {
	d.mu.Lock()
	d.ConnectCalls = append(d.ConnectCalls, cfg)
	block := d.Block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	s := d.Session
	if s == nil {
		s = NewSession()
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

// CallCount returns the number of Connect calls.
func (d *Dialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ConnectCalls)
}

// Sessions returns every session handed out by Connect, oldest first.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.sessions)
}

// Last returns the most recent session, or nil.
func (d *Dialer) Last() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [gemini.LiveSession].
type Session struct {
	mu     sync.Mutex
	events chan gemini.Event
	ended  bool
	closed bool
	err    error

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// SentAudio records the payload of every SendAudio call in order.
	SentAudio [][]byte

	// SentText records every SendText call in order.
	SentText []string

	// CallCountClose records how many times Close was called.
	CallCountClose int

	audioSent chan struct{}
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events:    make(chan gemini.Event, 64),
		audioSent: make(chan struct{}, 1024),
	}
}

// Emit delivers ev to the code under test. It returns false once the session
// has ended.
func (s *Session) Emit(ev gemini.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.events <- ev
	return true
}

// End closes the event stream as if the server closed the connection. err is
// reported by Err; nil models a clean close.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.events)
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.SentAudio = append(s.SentAudio, slices.Clone(chunk.Data))
	select {
	case s.audioSent <- struct{}{}:
	default:
	}
	return nil
}

// AudioSent is signalled after every successful SendAudio.
func (s *Session) AudioSent() <-chan struct{} { return s.audioSent }

// Audio returns a copy of the recorded audio payloads.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.SentAudio)
}

// SendText records the text.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.SentText = append(s.SentText, text)
	return nil
}

// Events implements [gemini.LiveSession].
func (s *Session) Events() <-chan gemini.Event { return s.events }

// Err implements [gemini.LiveSession].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close marks the session closed and ends the event stream. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.endLocked(nil)
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Generator ────────────────────────────────────────────────────────────────

// Generator is a mock of the one-shot Gemini operations. It satisfies the
// script writer, speech synthesizer and file transcriber contracts used by the
// workflows.
type Generator struct {
	mu sync.Mutex

	// Dialogue and ScriptErr are returned by GenerateScript.
	Dialogue  dialogue.Dialogue
	ScriptErr error

	// PCM and SpeechErr are returned by SynthesizeSpeech.
	PCM       []byte
	SpeechErr error

	// Text and TranscribeErr are returned by TranscribeOnce.
	Text          string
	TranscribeErr error

	// ScriptCalls records the source text of every GenerateScript call.
	ScriptCalls []string

	// SpeechCalls records the dialogue of every SynthesizeSpeech call.
	SpeechCalls []dialogue.Dialogue

	// TranscribeCalls records the MIME type of every TranscribeOnce call.
	TranscribeCalls []string
}

// GenerateScript records the call and returns Dialogue, ScriptErr.
func (g *Generator) GenerateScript(_ context.Context, sourceText string) (dialogue.Dialogue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ScriptCalls = append(g.ScriptCalls, sourceText)
	if g.ScriptErr != nil {
		return nil, g.ScriptErr
	}
	return g.Dialogue, nil
}

// SynthesizeSpeech records the call and returns PCM, SpeechErr.
func (g *Generator) SynthesizeSpeech(_ context.Context, d dialogue.Dialogue) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.SpeechCalls = append(g.SpeechCalls, d)
	if g.SpeechErr != nil {
		return nil, g.SpeechErr
	}
	return g.PCM, nil
}

// TranscribeOnce records the call and returns Text, TranscribeErr.
func (g *Generator) TranscribeOnce(_ context.Context, _ []byte, mimeType string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.TranscribeCalls = append(g.TranscribeCalls, mimeType)
	if g.TranscribeErr != nil {
		return "", g.TranscribeErr
	}
	return g.Text, nil
}

// Scripts returns a copy of ScriptCalls.
func (g *Generator) Scripts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.ScriptCalls)
}

// Transcriptions returns a copy of TranscribeCalls.
func (g *Generator) Transcriptions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.TranscribeCalls)
}
