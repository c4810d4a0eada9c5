package document

import (
	"fmt"

	"github.com/lu4p/cat/docxtxt"
)

// extractDOCX returns the plain text of a Word document's main body.
func extractDOCX(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("document: malformed docx: %v", r)
		}
	}()

	text, err = docxtxt.BytesToStr(data)
	if err != nil {
		return "", fmt.Errorf("document: read docx: %w", err)
	}
	return text, nil
}
