package web

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/MrWong99/voxcast/internal/artifact"
	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/internal/podcast"
	"github.com/MrWong99/voxcast/internal/transcriber"
	"github.com/MrWong99/voxcast/pkg/fault"
)

// Kinds reported for errors that are not a [fault.Error].
const (
	kindInvalidRequest = "InvalidRequest"
	kindNotFound       = "NotFound"
	kindTooLarge       = "TooLarge"
	kindInternal       = "Internal"
)

// errorBody is the JSON shape of every error response and WebSocket error.
type errorBody struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// requestError is a client mistake detected by the handlers themselves.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// describe maps err to its HTTP status and body.
func describe(err error) (int, errorBody) {
	var (
		fe  *fault.Error
		re  *requestError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.Is(err, podcast.ErrEmptyInput), errors.Is(err, transcriber.ErrEmptyTranscript):
		return http.StatusBadRequest, errorBody{Kind: kindInvalidRequest, Message: err.Error()}
	case errors.As(err, &re):
		return http.StatusBadRequest, errorBody{Kind: kindInvalidRequest, Message: re.msg}
	case errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound, errorBody{Kind: kindNotFound, Message: "The requested file does not exist or has expired."}
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, errorBody{Kind: kindTooLarge, Message: "The upload is too large."}
	case errors.As(err, &fe):
		body := errorBody{Kind: fe.Kind.String(), Message: fe.UserMessage()}
		if fe.Kind == fault.KindQuotaExceeded && fe.RetryAfter > 0 {
			body.RetryAfter = int(math.Ceil(fe.RetryAfter.Seconds()))
		}
		return statusForKind(fe.Kind), body
	default:
		return http.StatusInternalServerError, errorBody{Kind: kindInternal, Message: "An unexpected error occurred. Please try again."}
	}
}

func statusForKind(k fault.Kind) int {
	switch k {
	case fault.KindPermissionDenied:
		return http.StatusForbidden
	case fault.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case fault.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case fault.KindReadFailure:
		return http.StatusBadRequest
	case fault.KindConnectionFailure, fault.KindEmptyResponse, fault.KindNoAudioProduced, fault.KindOperationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes the JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := describe(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Info("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	if body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
