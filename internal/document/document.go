// Package document extracts plain text from uploaded source documents.
//
// Supported formats are chosen by file extension, case-insensitively:
//
//   - .txt  UTF-8 text, invalid sequences replaced.
//   - .pdf  text layer of every page, in page order, one page per line.
//   - .docx paragraph text of word/document.xml.
//
// Any other extension fails with [fault.UnsupportedFormat] before the reader
// is touched.
package document

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/MrWong99/voxcast/pkg/fault"
)

// OpProcessFile names the extraction step in classified errors.
const OpProcessFile = "process file"

// DefaultMaxBytes caps the size of an uploaded document.
const DefaultMaxBytes = 20 << 20

// Format identifies a supported document type.
type Format string

const (
	FormatText Format = "txt"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Formats lists the supported formats in display order.
var Formats = []Format{FormatText, FormatPDF, FormatDOCX}

// FormatOf returns the format of name and whether it is supported.
func FormatOf(name string) (Format, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, f := range Formats {
		if string(f) == ext {
			return f, true
		}
	}
	return "", false
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithMaxBytes limits how many bytes are read from an upload. Larger files
// fail with [fault.ReadFailure].
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// Extractor turns uploads into text. The zero value is not usable; call
// [NewExtractor].
type Extractor struct {
	maxBytes int64
}

// NewExtractor returns an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxBytes: DefaultMaxBytes}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract reads r completely and returns the text of the document named
// name.
func (e *Extractor) Extract(name string, r io.Reader) (string, error) {
	format, ok := FormatOf(name)
	if !ok {
		return "", fault.New(fault.KindUnsupportedFormat, OpProcessFile, fmt.Sprintf("unsupported file %q", name))
	}

	data, err := io.ReadAll(io.LimitReader(r, e.maxBytes+1))
	if err != nil {
		return "", fault.Wrap(fault.KindReadFailure, OpProcessFile, err)
	}
	if int64(len(data)) > e.maxBytes {
		return "", fault.New(fault.KindReadFailure, OpProcessFile,
			fmt.Sprintf("file exceeds %d bytes", e.maxBytes))
	}

	var text string
	switch format {
	case FormatText:
		text = decodeText(data)
	case FormatPDF:
		text, err = extractPDF(data)
	case FormatDOCX:
		text, err = extractDOCX(data)
	}
	if err != nil {
		return "", fault.Wrap(fault.KindOperationFailed, OpProcessFile, err)
	}
	return text, nil
}

// Extract is a convenience wrapper around a default [Extractor].
func Extract(name string, r io.Reader) (string, error) {
	return NewExtractor().Extract(name, r)
}

// decodeText decodes UTF-8, dropping a byte-order mark and replacing invalid
// sequences with U+FFFD.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ToValidUTF8(string(data), "\uFFFD")
}
