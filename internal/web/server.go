// Package web exposes voxcast to the browser: a JSON HTTP API for document
// extraction, podcast generation, file transcription and downloads, plus a
// WebSocket for live microphone transcription.
package web

import (
	"context"
	"io"
	"net/http"

	"github.com/MrWong99/voxcast/internal/artifact"
	"github.com/MrWong99/voxcast/internal/podcast"
	"github.com/MrWong99/voxcast/internal/transcriber"
)

// DefaultMaxUploadBytes caps uploaded files unless [WithMaxUploadBytes] is set.
const DefaultMaxUploadBytes = 20 << 20

// PodcastGenerator is the podcast workflow as seen by the handlers.
type PodcastGenerator interface {
	Generate(ctx context.Context, text string, progress podcast.ProgressFunc) (*podcast.Result, error)
	GenerateFromFile(ctx context.Context, name string, r io.Reader, progress podcast.ProgressFunc) (*podcast.Result, error)
}

var _ PodcastGenerator = (*podcast.Workflow)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithMaxUploadBytes caps request bodies of upload endpoints.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithStaticDir serves the browser front-end from dir at /.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching the given patterns. Same-origin connections are always allowed.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server holds the HTTP handlers. Register them on a mux with
// [Server.Register].
type Server struct {
	podcast     PodcastGenerator
	transcriber *transcriber.Workflow
	extractor   podcast.Extractor
	store       *artifact.Store

	maxUpload      int64
	staticDir      string
	originPatterns []string
}

// New returns a Server.
func New(pw PodcastGenerator, tw *transcriber.Workflow, extractor podcast.Extractor, store *artifact.Store, opts ...Option) *Server {
	s := &Server{
		podcast:     pw,
		transcriber: tw,
		extractor:   extractor,
		store:       store,
		maxUpload:   DefaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API, WebSocket and optional static routes to mux.
//
//	POST /api/extract           multipart "file" → {text, file_name}
//	POST /api/podcast           JSON {text} or multipart "file" → podcast
//	POST /api/transcribe        multipart "file" → {text}
//	GET  /api/artifacts/{id}    download a generated file
//	GET  /ws/live               live transcription WebSocket
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/extract", s.handleExtract)
	mux.HandleFunc("POST /api/podcast", s.handlePodcast)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/artifacts/{id}", s.handleArtifact)
	mux.HandleFunc("GET /ws/live", s.handleLive)
	if s.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}
}

// downloadURL is the path at which artifact id can be fetched.
func downloadURL(id string) string { return "/api/artifacts/" + id }
