package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxcast/pkg/audio"
	"github.com/MrWong99/voxcast/pkg/dialogue"
	"github.com/MrWong99/voxcast/pkg/fault"
)

// SynthesizeSpeech reads d aloud through a Live session and returns the
// concatenated 24 kHz mono PCM. The whole script is submitted as one turn once
// the server has acknowledged the setup. Fragments are kept in arrival order.
//
// Completion rules:
//   - turnComplete with at least one fragment: success.
//   - the session ends after one or more fragments: success with the partial
//     audio.
//   - the session ends, or the turn completes, without fragments:
//     [fault.NoAudioProduced], unless the session reported an error, which is
//     translated instead.
func (c *Client) SynthesizeSpeech(ctx context.Context, d dialogue.Dialogue) ([]byte, error) {
	if len(d) == 0 {
		return nil, fault.New(fault.KindOperationFailed, OpGenerateSpeech, "dialogue has no turns")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	sess, err := c.Connect(ctx, LiveConfig{Voice: c.voice})
	if err != nil {
		if fault.IsQuotaMessage(err.Error()) {
			return nil, fault.Translate(OpGenerateSpeech, err)
		}
		return nil, fault.Wrap(fault.KindConnectionFailure, OpGenerateSpeech, err)
	}
	defer sess.Close()

	var (
		fragments []string
		sent      bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				if len(fragments) > 0 {
					slog.Warn("speech session closed before turn completed, using partial audio",
						"fragments", len(fragments))
					return decodeSpeech(fragments)
				}
				if err := sess.Err(); err != nil {
					return nil, fault.Translate(OpGenerateSpeech, err)
				}
				return nil, errNoAudio("session closed before any audio arrived")
			}

			switch ev.Kind {
			case EventOpen:
				if sent {
					continue
				}
				sent = true
				if err := sess.SendText(dialogue.SpeechPrompt(d, c.speakers)); err != nil {
					return nil, fault.Translate(OpGenerateSpeech, fmt.Errorf("send script: %w", err))
				}
			case EventAudio:
				fragments = append(fragments, ev.Audio)
			case EventError:
				if len(fragments) == 0 {
					return nil, fault.Translate(OpGenerateSpeech, ev.Err)
				}
				slog.Warn("speech session reported an error after audio arrived", "err", ev.Err)
			case EventTurnComplete:
				if len(fragments) == 0 {
					return nil, errNoAudio("turn completed without audio")
				}
				slog.Debug("speech synthesized", "fragments", len(fragments))
				return decodeSpeech(fragments)
			}
		}
	}
}

func errNoAudio(msg string) error {
	return fault.New(fault.KindNoAudioProduced, OpGenerateSpeech, msg)
}

func decodeSpeech(fragments []string) ([]byte, error) {
	pcm, err := audio.DecodeFragments(fragments)
	if err != nil {
		return nil, fault.Wrap(fault.KindOperationFailed, OpGenerateSpeech, err)
	}
	return pcm, nil
}
