// Package dialogue holds the podcast script model shared by script writers,
// speech synthesis and the HTTP layer.
//
// A [Dialogue] is an ordered, immutable sequence of [Turn] values between
// exactly two speakers. Order is playback order. Script writers produce
// dialogues with [Parse], which is the only place model output is decoded.
package dialogue

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultSpeakers is the fixed two-speaker label set.
var DefaultSpeakers = Speakers{"Alex", "Ben"}

// Speakers is the two-element label set a dialogue may use.
type Speakers [2]string

// Contains reports whether name is one of the two labels.
func (s Speakers) Contains(name string) bool {
	return slices.Contains(s[:], name)
}

// Turn is one line of dialogue.
type Turn struct {
	Speaker string `json:"speaker"`
	Line    string `json:"line"`
}

// Dialogue is an ordered sequence of turns.
type Dialogue []Turn

// Validate checks that d is non-empty, every turn has text, and every speaker
// belongs to speakers.
func (d Dialogue) Validate(speakers Speakers) error {
	if len(d) == 0 {
		return fmt.Errorf("dialogue: no turns")
	}
	for i, t := range d {
		if !speakers.Contains(t.Speaker) {
			return fmt.Errorf("dialogue: turn %d: unexpected speaker %q (want %q or %q)", i, t.Speaker, speakers[0], speakers[1])
		}
		if strings.TrimSpace(t.Line) == "" {
			return fmt.Errorf("dialogue: turn %d: empty line", i)
		}
	}
	return nil
}

// Script renders d as "Speaker: line" paragraphs separated by blank lines, the
// form read aloud by speech synthesis.
func (d Dialogue) Script() string {
	lines := make([]string, len(d))
	for i, t := range d {
		lines[i] = t.Speaker + ": " + t.Line
	}
	return strings.Join(lines, "\n\n")
}
