package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxcast/pkg/audio"
)

// Compile-time assertions.
var (
	_ Dialer      = (*Client)(nil)
	_ LiveSession = (*session)(nil)
)

const (
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// writeTimeout bounds a single frame write; a stalled peer fails the
	// write instead of holding writeMu indefinitely.
	writeTimeout = 10 * time.Second

	eventBuffer = 64
)

// ── Public session contract ───────────────────────────────────────────────────

// EventKind classifies a Live session event.
type EventKind int

const (
	// EventOpen is emitted once when the server acknowledges the setup.
	EventOpen EventKind = iota

	// EventInputTranscript carries recognised text of the uploaded audio.
	EventInputTranscript

	// EventOutputTranscript carries the text version of the model's audio.
	EventOutputTranscript

	// EventAudio carries one base64 fragment of synthesized PCM.
	EventAudio

	// EventTurnComplete signals that the model finished its turn.
	EventTurnComplete

	// EventError carries a classified provider error. The session may still
	// be open afterwards.
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventAudio:
		return "audio"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one message from a Live session. Events arrive on a single
// channel in the order the server sent them.
type Event struct {
	Kind EventKind

	// Text is set for transcript events.
	Text string

	// Audio is the base64 PCM fragment for EventAudio, exactly as received.
	Audio string

	// Err is set for EventError.
	Err error
}

// LiveConfig configures a new Live session.
type LiveConfig struct {
	// Model overrides the client's live model for this session.
	Model string

	// InputTranscription asks the server to transcribe uploaded audio.
	InputTranscription bool

	// Voice selects a prebuilt voice for audio responses.
	Voice string

	// Instructions is an optional system instruction.
	Instructions string
}

// LiveSession is an open bidirectional Live session. All methods are safe for
// concurrent use. Callers must call Close.
type LiveSession interface {
	// SendAudio uploads one PCM chunk.
	SendAudio(chunk audio.Chunk) error

	// SendText submits text as one complete user turn.
	SendText(text string) error

	// Events returns the ordered event channel. It is closed when the session
	// ends; check Err afterwards.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil for a clean close.
	Err() error

	// Close terminates the session. Idempotent.
	Close() error
}

// Dialer opens Live sessions.
type Dialer interface {
	Connect(ctx context.Context, cfg LiveConfig) (LiveSession, error)
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                   string           `json:"model"`
	GenerationConfig        generationConfig `json:"generationConfig"`
	SystemInstruction       *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription *struct{}        `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("gemini: %d %s: %s", e.Code, e.Status, msg)
	}
	return "gemini: " + msg
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── Connect ───────────────────────────────────────────────────────────────────

// Connect opens a Live session. The returned session emits [EventOpen] once
// the server acknowledges the setup; audio sent before that is queued by the
// server.
func (c *Client) Connect(ctx context.Context, cfg LiveConfig) (LiveSession, error) {
	model := cfg.Model
	if model == "" {
		model = c.liveModel
	}
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		c.liveBaseURL, c.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	// Synthesized audio arrives in large frames.
	conn.SetReadLimit(16 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan Event

	mu     sync.Mutex
	errVal error
	closed bool
	done   chan struct{}

	// writeMu serialises frames so that chunks go out in SendAudio call order.
	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *session) sendSetup(model string, cfg LiveConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and turns them into events.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(closeError(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}
		if !s.dispatch(&msg) {
			return
		}
	}
}

// closeError turns a WebSocket close into an error that carries the server's
// close reason, which is where the Live API reports quota exhaustion.
func closeError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Reason != "" {
		return fmt.Errorf("gemini: session closed (%d): %s", ce.Code, ce.Reason)
	}
	return fmt.Errorf("gemini: read: %w", err)
}

// dispatch emits the events carried by msg. Returns false when the session
// context ended while emitting.
func (s *session) dispatch(msg *serverMessage) bool {
	if msg.SetupComplete != nil {
		if !s.emit(Event{Kind: EventOpen}) {
			return false
		}
	}
	if msg.Error != nil {
		if !s.emit(Event{Kind: EventError, Err: msg.Error}) {
			return false
		}
	}
	sc := msg.ServerContent
	if sc == nil {
		return true
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				if !s.emit(Event{Kind: EventAudio, Audio: p.InlineData.Data}) {
					return false
				}
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !s.emit(Event{Kind: EventInputTranscript, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !s.emit(Event{Kind: EventOutputTranscript, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.TurnComplete {
		if !s.emit(Event{Kind: EventTurnComplete}) {
			return false
		}
	}
	return true
}

func (s *session) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendAudio uploads one PCM chunk as realtime input.
func (s *session) SendAudio(chunk audio.Chunk) error {
	if s.isClosed() {
		return fmt.Errorf("gemini: session closed")
	}
	mime := chunk.MIMEType
	if mime == "" {
		mime = audio.UploadMIMEType
	}
	return s.writeJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{
				MIMEType: mime,
				Data:     base64.StdEncoding.EncodeToString(chunk.Data),
			}},
		},
	})
}

// SendText submits text as a complete user turn.
func (s *session) SendText(text string) error {
	if s.isClosed() {
		return fmt.Errorf("gemini: session closed")
	}
	return s.writeJSON(clientContentMessage{
		ClientContent: clientContent{
			Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: true,
		},
	})
}

// Events returns the ordered event channel.
func (s *session) Events() <-chan Event { return s.events }

// Err returns the first error that terminated the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
