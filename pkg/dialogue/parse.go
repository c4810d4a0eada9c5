package dialogue

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/MrWong99/voxcast/pkg/fault"
)

var fencePattern = regexp.MustCompile("```json\\n?|\\n?```")

// StripFences removes markdown code-fence markers around model output.
func StripFences(text string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
}

// Parse decodes model output into a Dialogue for the given speakers.
//
// Empty or non-JSON output and an empty array yield [fault.EmptyResponse].
// Well-formed JSON with unknown speakers or blank lines yields
// [fault.OperationFailed]. Parse never panics on arbitrary input.
func Parse(op, text string, speakers Speakers) (Dialogue, error) {
	body := StripFences(text)
	if body == "" {
		return nil, fault.New(fault.KindEmptyResponse, op, "empty response from model")
	}

	var d Dialogue
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		// Some models wrap the array in an object; accept {"dialogue":[...]}.
		var wrapped struct {
			Dialogue Dialogue `json:"dialogue"`
		}
		if werr := json.Unmarshal([]byte(body), &wrapped); werr != nil || wrapped.Dialogue == nil {
			return nil, fault.Wrap(fault.KindEmptyResponse, op, err)
		}
		d = wrapped.Dialogue
	}
	if len(d) == 0 {
		return nil, fault.New(fault.KindEmptyResponse, op, "model returned no turns")
	}
	if err := d.Validate(speakers); err != nil {
		return nil, fault.Wrap(fault.KindOperationFailed, op, err)
	}
	return d, nil
}
