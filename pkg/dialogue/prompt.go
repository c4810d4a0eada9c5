package dialogue

import (
	"encoding/json"
	"fmt"
)

// Schema returns the JSON schema of a dialogue for speakers, in the shape the
// model is instructed to follow.
func Schema(speakers Speakers) map[string]any {
	return map[string]any{
		"type": "ARRAY",
		"items": map[string]any{
			"type": "OBJECT",
			"properties": map[string]any{
				"speaker": map[string]any{
					"type":        "STRING",
					"description": fmt.Sprintf("The speaker's name, either '%s' or '%s'.", speakers[0], speakers[1]),
				},
				"line": map[string]any{
					"type":        "STRING",
					"description": "The line of dialogue spoken by the speaker.",
				},
			},
			"required": []string{"speaker", "line"},
		},
	}
}

// ScriptPrompt builds the script-generation instruction for sourceText. The
// output shape is stated twice, in prose and as the JSON schema, so that
// providers without native schema support still return parseable JSON.
func ScriptPrompt(sourceText string, speakers Speakers, maxTurns int) string {
	schema, _ := json.Marshal(Schema(speakers))
	if maxTurns <= 0 {
		maxTurns = 6
	}
	minTurns := max(2, maxTurns-2)
	return fmt.Sprintf(`Generate a SHORT podcast dialogue between two speakers, %[1]s and %[2]s, based on the following text.
Task: Create a conversation where they discuss the MAIN POINTS and key takeaways of the text. Do NOT just read it verbatim.
Constraint: The dialogue MUST be limited to approx %[3]d-%[4]d turns (total).
The output MUST be a valid JSON array matching this schema:

%[5]s

Text content:
%[6]s`, speakers[0], speakers[1], minTurns, maxTurns, schema, sourceText)
}

// FileScriptPrompt builds the script-generation instruction for a source
// that travels as an attached file rather than inline text. note is an
// optional steer from the user and is appended when non-empty.
func FileScriptPrompt(note string, speakers Speakers, maxTurns int) string {
	schema, _ := json.Marshal(Schema(speakers))
	if maxTurns <= 0 {
		maxTurns = 6
	}
	minTurns := max(2, maxTurns-2)
	p := fmt.Sprintf(`Generate a SHORT podcast dialogue between two speakers, %[1]s and %[2]s, based on the attached file.
Task: Create a conversation where they discuss the MAIN POINTS and key takeaways of the file.
Constraint: The dialogue MUST be limited to approx %[3]d-%[4]d turns (total).
The output MUST be a valid JSON array matching this schema:

%[5]s`, speakers[0], speakers[1], minTurns, maxTurns, schema)
	if note != "" {
		p += "\n\nAdditional instructions:\n" + note
	}
	return p
}

// SpeechPrompt builds the instruction that asks a speech model to read d aloud
// with distinct voices.
func SpeechPrompt(d Dialogue, speakers Speakers) string {
	return fmt.Sprintf("Read the following podcast dialogue out loud. Use different voices or tones for the two speakers, %s and %s. %s should sound energetic and %s should sound thoughtful.\n\n%s",
		speakers[0], speakers[1], speakers[0], speakers[1], d.Script())
}
