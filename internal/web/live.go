package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxcast/internal/live"
	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/internal/transcriber"
	"github.com/MrWong99/voxcast/pkg/audio"
)

// writeTimeout bounds every server-to-browser message.
const writeTimeout = 5 * time.Second

// Client → server message types. Microphone samples arrive as binary
// messages of little-endian float32.
const (
	msgStart     = "start"
	msgStop      = "stop"
	msgSave      = "save"
	msgMicReady  = "mic_ready"
	msgMicDenied = "mic_denied"
)

// Server → client message types.
const (
	msgState      = "state"
	msgTranscript = "transcript"
	msgError      = "error"
	msgSaved      = "saved"
	msgMicRequest = "mic_request"
)

type clientMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Message    string `json:"message,omitempty"`
}

type serverMessage struct {
	Type        string     `json:"type"`
	State       string     `json:"state,omitempty"`
	Delta       string     `json:"delta,omitempty"`
	Error       *errorBody `json:"error,omitempty"`
	ID          string     `json:"id,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
}

// sessionErrorMessage is shown when a live session fails for a reason that has
// no more specific message.
const sessionErrorMessage = "A session error occurred. Please try again."

// handleLive handles GET /ws/live.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		observe.Logger(r.Context()).Warn("live: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	lc := &liveConn{conn: conn, ctx: r.Context()}
	lc.mic = newBrowserMic(func(context.Context) error {
		return lc.send(serverMessage{Type: msgMicRequest})
	})
	lc.sess = s.transcriber.NewSession(lc.mic, lc)

	err = lc.run()
	lc.mic.shutdown()
	_ = lc.sess.Close()
	lc.starts.Wait()

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
	default:
		if !errors.Is(err, context.Canceled) {
			observe.Logger(r.Context()).Info("live: connection ended", "err", err)
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// liveConn is one browser's live transcription socket. It implements
// [transcriber.Observer].
type liveConn struct {
	conn *websocket.Conn
	ctx  context.Context
	mic  *browserMic
	sess *transcriber.Session

	starts sync.WaitGroup
}

var _ transcriber.Observer = (*liveConn)(nil)

// run reads client messages until the socket closes.
func (lc *liveConn) run() error {
	for {
		typ, data, err := lc.conn.Read(lc.ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			lc.mic.push(audio.Float32FromBytes(data))
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			lc.sendError(badRequest("Malformed message."))
			continue
		}
		lc.dispatch(msg)
	}
}

func (lc *liveConn) dispatch(msg clientMessage) {
	log := observe.Logger(lc.ctx)
	switch msg.Type {
	case msgStart:
		// Start blocks until the browser answers the microphone request,
		// which arrives through this read loop.
		lc.starts.Add(1)
		go func() {
			defer lc.starts.Done()
			err := lc.sess.Start(lc.ctx)
			switch {
			case err == nil, errors.Is(err, live.ErrStopped):
			case errors.Is(err, live.ErrSessionActive):
				lc.sendError(badRequest("A session is already running."))
			default:
				// Errored state already carried the error to the browser.
				log.Info("live: start failed", "err", err)
			}
		}()
	case msgStop:
		lc.sess.Stop()
	case msgSave:
		a, err := lc.sess.Save(lc.ctx)
		if err != nil {
			lc.sendError(err)
			return
		}
		_ = lc.send(serverMessage{Type: msgSaved, ID: a.ID, DownloadURL: downloadURL(a.ID)})
	case msgMicReady:
		if !lc.mic.answer(micReply{sampleRate: msg.SampleRate}) {
			log.Debug("live: unsolicited mic_ready")
		}
	case msgMicDenied:
		if msg.Message == "" {
			msg.Message = "denied by user"
		}
		lc.mic.answer(micReply{denied: msg.Message})
	default:
		lc.sendError(badRequest("Unknown message type " + msg.Type + "."))
	}
}

// OnState implements [transcriber.Observer].
func (lc *liveConn) OnState(st live.State, err error) {
	msg := serverMessage{Type: msgState, State: st.String()}
	if st == live.Errored && err != nil {
		_, body := describe(err)
		if body.Kind == kindInternal {
			body.Message = sessionErrorMessage
		}
		msg.Error = &body
	}
	_ = lc.send(msg)
}

// OnTranscript implements [transcriber.Observer].
func (lc *liveConn) OnTranscript(delta string) {
	_ = lc.send(serverMessage{Type: msgTranscript, Delta: delta})
}

func (lc *liveConn) sendError(err error) {
	_, body := describe(err)
	_ = lc.send(serverMessage{Type: msgError, Error: &body})
}

func (lc *liveConn) send(msg serverMessage) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(lc.ctx), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, lc.conn, msg)
}
