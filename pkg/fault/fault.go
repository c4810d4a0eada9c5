// Package fault defines the user-facing error taxonomy shared by every voxcast
// component.
//
// Each failure carries a [Kind] that the HTTP and WebSocket layers translate
// into a status code and a message the browser can show verbatim. Errors are
// matched with [errors.Is] against the sentinel values ([PermissionDenied],
// [QuotaExceeded], ...) or unwrapped with [errors.As] into *[Error] to read
// the details.
//
// None of these errors is fatal to the process and nothing in this package
// retries: every failure leaves the caller free to re-trigger the operation.
package fault

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind int

const (
	// KindOperationFailed is the catch-all for provider errors that are not
	// otherwise classified. It carries the provider's original message.
	KindOperationFailed Kind = iota

	// KindPermissionDenied means the microphone could not be acquired.
	KindPermissionDenied

	// KindConnectionFailure means the remote session handshake failed.
	KindConnectionFailure

	// KindEmptyResponse means the provider returned an empty or unparseable body.
	KindEmptyResponse

	// KindQuotaExceeded means the provider signalled rate-limiting.
	KindQuotaExceeded

	// KindNoAudioProduced means a synthesis session closed without any audio.
	KindNoAudioProduced

	// KindUnsupportedFormat means an uploaded file has an unknown extension.
	KindUnsupportedFormat

	// KindReadFailure means the bytes of an uploaded file could not be read.
	KindReadFailure
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindConnectionFailure:
		return "ConnectionFailure"
	case KindEmptyResponse:
		return "EmptyResponse"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindNoAudioProduced:
		return "NoAudioProduced"
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindReadFailure:
		return "ReadFailure"
	default:
		return "OperationFailed"
	}
}

// Sentinels for errors.Is matching. Any *Error of the same Kind matches.
var (
	OperationFailed   = &Error{Kind: KindOperationFailed}
	PermissionDenied  = &Error{Kind: KindPermissionDenied}
	ConnectionFailure = &Error{Kind: KindConnectionFailure}
	EmptyResponse     = &Error{Kind: KindEmptyResponse}
	QuotaExceeded     = &Error{Kind: KindQuotaExceeded}
	NoAudioProduced   = &Error{Kind: KindNoAudioProduced}
	UnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ReadFailure       = &Error{Kind: KindReadFailure}
)

// DefaultWaitHint is shown when a quota error does not say how long to wait.
const DefaultWaitHint = "a minute"

// Error is a classified failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the user-level operation that failed, e.g. "generate dialogue".
	Op string

	// Msg is the detail message. For KindOperationFailed it is the provider's
	// original error text.
	Msg string

	// RetryAfter is the wait suggested by the provider for KindQuotaExceeded.
	// Zero when the provider did not say.
	RetryAfter time.Duration

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WaitHint returns the human wait hint for quota errors: "N seconds" when the
// provider supplied a retry delay, [DefaultWaitHint] otherwise.
func (e *Error) WaitHint() string {
	if e.RetryAfter <= 0 {
		return DefaultWaitHint
	}
	return strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))) + " seconds"
}

// UserMessage returns the message the browser shows for this error.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Microphone access was denied. Allow microphone access and try again."
	case KindConnectionFailure:
		return "Could not connect to the transcription service. Please try again."
	case KindEmptyResponse:
		return "The model returned an empty response. Please try again."
	case KindQuotaExceeded:
		return fmt.Sprintf("API Quota Exceeded. Please wait %s and try again.", e.WaitHint())
	case KindNoAudioProduced:
		return "Session closed without receiving audio."
	case KindUnsupportedFormat:
		return "Unsupported file type. Please upload a .txt, .pdf, or .docx file."
	case KindReadFailure:
		return "Failed to read the file."
	default:
		if e.Op == "" {
			return e.Msg
		}
		if e.Msg == "" {
			return "Failed to " + e.Op + "."
		}
		return "Failed to " + e.Op + ". " + e.Msg
	}
}

// New returns a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap returns a classified error with cause err. The message is taken from err.
func Wrap(kind Kind, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if err != nil {
		e.Msg = err.Error()
	}
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, and
// KindOperationFailed for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindOperationFailed
}

// UserMessage returns the user-facing message for any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.UserMessage()
	}
	return err.Error()
}

// quotaMarkers are the substrings the provider uses to signal rate-limiting.
var quotaMarkers = []string{"429", "Quota exceeded", "RESOURCE_EXHAUSTED"}

var retryPattern = regexp.MustCompile(`retry in ([\d.]+)s`)

// Translate classifies a provider error for operation op. Errors that are
// already classified pass through unchanged. Rate-limit errors become
// [KindQuotaExceeded] with the parsed retry delay; everything else becomes
// [KindOperationFailed] carrying the original message. Translate never
// retries.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}

	msg := err.Error()
	if IsQuotaMessage(msg) {
		return &Error{
			Kind:       KindQuotaExceeded,
			Op:         op,
			Msg:        msg,
			RetryAfter: ParseRetryAfter(msg),
			Err:        err,
		}
	}
	return &Error{Kind: KindOperationFailed, Op: op, Msg: msg, Err: err}
}

// IsQuotaMessage reports whether msg contains a rate-limit marker.
func IsQuotaMessage(msg string) bool {
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ParseRetryAfter extracts the "retry in N.Ns" delay from msg, rounded up to
// whole seconds. Returns zero when msg has no parseable hint.
func ParseRetryAfter(msg string) time.Duration {
	m := retryPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(secs)) * time.Second
}
