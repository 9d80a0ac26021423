package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/internal/narrate"
	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/internal/resilience"
	"github.com/MrWong99/voicepages/internal/store"
	"github.com/MrWong99/voicepages/pkg/audio/wav"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

// Response headers carrying generation metadata next to audio bodies.
const (
	HeaderBackend     = "X-Voicepages-Backend"
	HeaderSynthesized = "X-Voicepages-Synthesized"
	HeaderFailed      = "X-Voicepages-Failed"
	HeaderDropped     = "X-Voicepages-Dropped"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

type detectRequest struct {
	Chapters []string `json:"chapters"`
}

type voiceRequest struct {
	VoiceID string `json:"voice_id"`
}

type voiceResponse struct {
	Book      string `json:"book"`
	Character string `json:"character"`
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name"`
}

type bookmarkRequest struct {
	Chapter  string  `json:"chapter"`
	Position float64 `json:"position"`
}

type chapterRequest struct {
	Text string `json:"text"`
}

type ttsRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleVoices handles GET /v1/voices.
func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Voices())
}

// handleDetect handles POST /v1/books/{book}/characters.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Chapters) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: chapters is required", errBadRequest))
		return
	}
	det, err := s.svc.DetectCharacters(r.Context(), r.PathValue("book"), req.Chapters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// handleCharacters handles GET /v1/books/{book}/characters.
func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.Characters(r.Context(), r.PathValue("book"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleSetVoice handles PUT /v1/books/{book}/characters/{name}/voice.
func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.VoiceID == "" {
		s.writeError(w, r, fmt.Errorf("%w: voice_id is required", errBadRequest))
		return
	}
	book, name := r.PathValue("book"), r.PathValue("name")
	v, err := s.svc.SetVoice(r.Context(), book, name, req.VoiceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Book: book, Character: name, VoiceID: v.ID, VoiceName: v.Name})
}

// handleDeleteBook handles DELETE /v1/books/{book}.
func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteBook(r.Context(), r.PathValue("book")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveBookmark handles PUT /v1/books/{book}/bookmark.
func (s *Server) handleSaveBookmark(w http.ResponseWriter, r *http.Request) {
	var req bookmarkRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.SaveBookmark(r.Context(), r.PathValue("book"), types.Bookmark{Chapter: req.Chapter, Position: req.Position})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleBookmark handles GET /v1/books/{book}/bookmark.
func (s *Server) handleBookmark(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bookmark(r.Context(), r.PathValue("book"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleGenerate handles POST /v1/books/{book}/chapters/{chapter}/audio.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req chapterRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	audio, report, err := s.svc.GenerateChapter(r.Context(), r.PathValue("book"), r.PathValue("chapter"), req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	h := w.Header()
	h.Set(HeaderSynthesized, strconv.Itoa(report.Synthesized))
	h.Set(HeaderFailed, strconv.Itoa(report.Failed))
	h.Set(HeaderDropped, strconv.Itoa(report.Dropped))
	writeWAV(w, audio)
}

// handleCachedAudio handles GET /v1/books/{book}/chapters/{chapter}/audio.
func (s *Server) handleCachedAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := s.svc.ChapterAudio(r.Context(), r.PathValue("book"), r.PathValue("chapter"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeWAV(w, audio)
}

// handleSynthesize handles POST /v1/tts.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	audio, backend, err := s.svc.Synthesize(r.Context(), req.Text, req.VoiceID, req.Speed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set(HeaderBackend, backend)
	writeWAV(w, wav.Sanitize(audio))
}

// decode reads a JSON body of at most maxBodyBytes into v. Unknown fields
// are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, narrate.ErrValidation),
		errors.Is(err, store.ErrInvalidKey),
		errors.Is(err, catalog.ErrUnknownVoice):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, narrate.ErrChapterFailed),
		errors.Is(err, resilience.ErrAllFailed),
		errors.Is(err, tts.ErrBackendUnavailable),
		errors.Is(err, tts.ErrSynthesisFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status. Internal errors are logged
// and answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeWAV(w http.ResponseWriter, audio []byte) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
