package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/internal/podcast"
	"github.com/MrWong99/voxcast/pkg/dialogue"
)

// ndjsonType selects streamed progress for /api/podcast.
const ndjsonType = "application/x-ndjson"

type extractResponse struct {
	Text     string `json:"text"`
	FileName string `json:"file_name"`
}

type podcastRequest struct {
	Text string `json:"text"`
}

type podcastResponse struct {
	Dialogue    dialogue.Dialogue `json:"dialogue"`
	AudioID     string            `json:"audio_id"`
	DownloadURL string            `json:"download_url"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// progressLine is one line of a streamed podcast response. Exactly one field
// is set.
type progressLine struct {
	Step   podcast.Step     `json:"step,omitempty"`
	Result *podcastResponse `json:"result,omitempty"`
	Error  *errorBody       `json:"error,omitempty"`
}

// upload is a file taken from the "file" field of a multipart request.
type upload struct {
	name        string
	contentType string
	data        []byte
}

// readUpload reads the multipart "file" field, bounded by the upload limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, mbe
		}
		return nil, badRequest("A file must be uploaded in the \"file\" field.")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("web: read upload: %w", err)
	}
	return &upload{name: hdr.Filename, contentType: uploadType(hdr.Filename, hdr.Header.Get("Content-Type")), data: data}, nil
}

// audioTypes covers recordings browsers commonly upload; the system MIME
// table is not guaranteed to know them.
var audioTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".aac":  "audio/aac",
}

// uploadType returns declared unless it is missing or generic, in which case
// the type is guessed from the file extension.
func uploadType(name, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return declared
}

func isMultipart(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "multipart/form-data"
}

// handleExtract handles POST /api/extract.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	text, err := s.extractor.Extract(up.name, bytes.NewReader(up.data))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{Text: text, FileName: up.name})
}

// handlePodcast handles POST /api/podcast. With Accept: application/x-ndjson
// each progress step is streamed as its own line before the result.
func (s *Server) handlePodcast(w http.ResponseWriter, r *http.Request) {
	var run func(progress podcast.ProgressFunc) (*podcast.Result, error)
	if isMultipart(r) {
		up, err := s.readUpload(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		run = func(progress podcast.ProgressFunc) (*podcast.Result, error) {
			return s.podcast.GenerateFromFile(r.Context(), up.name, bytes.NewReader(up.data), progress)
		}
	} else {
		var req podcastRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxUpload)).Decode(&req); err != nil {
			writeError(w, r, badRequest("Request body must be JSON like {\"text\": \"...\"}."))
			return
		}
		run = func(progress podcast.ProgressFunc) (*podcast.Result, error) {
			return s.podcast.Generate(r.Context(), req.Text, progress)
		}
	}

	if !strings.Contains(r.Header.Get("Accept"), ndjsonType) {
		res, err := run(func(step podcast.Step) {
			observe.Logger(r.Context()).Debug("podcast progress", "step", step)
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPodcastResponse(res))
		return
	}

	w.Header().Set("Content-Type", ndjsonType)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(line progressLine) {
		_ = enc.Encode(line)
		if flusher != nil {
			flusher.Flush()
		}
	}

	res, err := run(func(step podcast.Step) { emit(progressLine{Step: step}) })
	if err != nil {
		_, body := describe(err)
		observe.Logger(r.Context()).Info("podcast generation failed", "err", err)
		emit(progressLine{Error: &body})
		return
	}
	resp := toPodcastResponse(res)
	emit(progressLine{Result: &resp})
}

func toPodcastResponse(res *podcast.Result) podcastResponse {
	return podcastResponse{
		Dialogue:    res.Dialogue,
		AudioID:     res.Artifact.ID,
		DownloadURL: downloadURL(res.Artifact.ID),
	}
}

// handleTranscribe handles POST /api/transcribe.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !strings.HasPrefix(up.contentType, "audio/") && !strings.HasPrefix(up.contentType, "video/") {
		writeError(w, r, badRequest("Please upload an audio recording."))
		return
	}
	text, err := s.transcriber.TranscribeFile(r.Context(), up.data, up.contentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

// handleArtifact handles GET /api/artifacts/{id}.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Name}))
	http.ServeContent(w, r, a.Name, a.CreatedAt, bytes.NewReader(a.Data))
}
