package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicepages/internal/app"
	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/internal/health"
	"github.com/MrWong99/voicepages/internal/narrate"
	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/internal/observe/observetest"
	"github.com/MrWong99/voicepages/internal/resilience"
	"github.com/MrWong99/voicepages/internal/server"
	"github.com/MrWong99/voicepages/internal/store"
	"github.com/MrWong99/voicepages/pkg/types"
)

var fakeWAV = []byte("RIFF\x00\x00\x00\x00WAVEfake")

// fakeService records calls and returns canned results.
type fakeService struct {
	mu    sync.Mutex
	calls []string

	detectErr error
	setErr    error
	genErr    error
	audioErr  error
	synthErr  error
	report    narrate.Report
	lastSpeed float64
}

func (f *fakeService) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) Voices() []types.VoiceProfile {
	f.record("Voices")
	return catalog.Default().Voices()
}

func (f *fakeService) DetectCharacters(_ context.Context, book string, chapters []string) (app.Detection, error) {
	f.record("DetectCharacters %s %d", book, len(chapters))
	if f.detectErr != nil {
		return app.Detection{}, f.detectErr
	}
	return app.Detection{
		Book:   book,
		Source: "heuristic",
		Characters: []app.CastCharacter{{
			Character: types.Character{Name: "Alice", Gender: types.GenderFemale, Role: types.RoleMain},
			Voice:     types.VoiceAssignment{Character: "Alice", VoiceID: "af_nova", VoiceName: "Nova"},
		}},
	}, nil
}

func (f *fakeService) Characters(_ context.Context, book string) ([]types.CharacterRecord, error) {
	f.record("Characters %s", book)
	if book == "bad key" {
		return nil, store.ErrInvalidKey
	}
	return []types.CharacterRecord{{Name: "Alice", Gender: types.GenderFemale, VoiceID: "af_nova"}}, nil
}

func (f *fakeService) SetVoice(_ context.Context, book, name, voiceID string) (types.VoiceProfile, error) {
	f.record("SetVoice %s %s %s", book, name, voiceID)
	if f.setErr != nil {
		return types.VoiceProfile{}, f.setErr
	}
	return types.VoiceProfile{ID: voiceID, Name: "Voice " + voiceID}, nil
}

func (f *fakeService) DeleteBook(_ context.Context, book string) error {
	f.record("DeleteBook %s", book)
	return nil
}

func (f *fakeService) SaveBookmark(_ context.Context, book string, b types.Bookmark) (types.Bookmark, error) {
	f.record("SaveBookmark %s %s %v", book, b.Chapter, b.Position)
	if b.Position < 0 {
		return types.Bookmark{}, narrate.ErrValidation
	}
	return b, nil
}

func (f *fakeService) Bookmark(_ context.Context, book string) (types.Bookmark, error) {
	f.record("Bookmark %s", book)
	return types.Bookmark{Chapter: "4", Position: 12.5}, nil
}

func (f *fakeService) GenerateChapter(_ context.Context, book, chapter, text string) ([]byte, narrate.Report, error) {
	f.record("GenerateChapter %s %s %s", book, chapter, text)
	if f.genErr != nil {
		return nil, narrate.Report{}, f.genErr
	}
	return fakeWAV, f.report, nil
}

func (f *fakeService) ChapterAudio(_ context.Context, book, chapter string) ([]byte, error) {
	f.record("ChapterAudio %s %s", book, chapter)
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	return fakeWAV, nil
}

func (f *fakeService) Synthesize(_ context.Context, text, voiceID string, speed float64) ([]byte, string, error) {
	f.record("Synthesize %s %s", text, voiceID)
	f.mu.Lock()
	f.lastSpeed = speed
	f.mu.Unlock()
	if f.synthErr != nil {
		return nil, "", f.synthErr
	}
	return fakeWAV, "kokoro", nil
}

func newServer(t *testing.T, svc server.Service, opts ...server.Option) http.Handler {
	t.Helper()
	m, _ := observetest.NewMetrics(t)
	return server.New(svc, append([]server.Option{server.WithMetrics(m)}, opts...)...).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestVoices(t *testing.T) {
	t.Parallel()
	rec := do(t, newServer(t, &fakeService{}), "GET", "/v1/voices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var voices []types.VoiceProfile
	if err := json.NewDecoder(rec.Body).Decode(&voices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(voices) != catalog.Default().Len() {
		t.Errorf("got %d voices, want %d", len(voices), catalog.Default().Len())
	}
}

func TestDetectCharacters(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	rec := do(t, newServer(t, svc), "POST", "/v1/books/moby/characters", `{"chapters": ["one", "two"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var det app.Detection
	if err := json.NewDecoder(rec.Body).Decode(&det); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if det.Source != "heuristic" || len(det.Characters) != 1 || det.Characters[0].Voice.VoiceID != "af_nova" {
		t.Errorf("detection = %+v", det)
	}
	if det.Characters[0].Name != "Alice" {
		t.Errorf("embedded character name = %q", det.Characters[0].Name)
	}
	if calls := svc.Calls(); len(calls) != 1 || calls[0] != "DetectCharacters moby 2" {
		t.Errorf("calls = %v", calls)
	}
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, method, path, body string
	}{
		{"detect empty body", "POST", "/v1/books/moby/characters", ""},
		{"detect no chapters", "POST", "/v1/books/moby/characters", `{"chapters": []}`},
		{"detect unknown field", "POST", "/v1/books/moby/characters", `{"chapter": ["x"]}`},
		{"detect malformed", "POST", "/v1/books/moby/characters", `{"chapters": `},
		{"voice missing id", "PUT", "/v1/books/moby/characters/Alice/voice", `{}`},
		{"tts malformed", "POST", "/v1/tts", `[1, 2]`},
		{"invalid key", "GET", "/v1/books/bad%20key/characters", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeService{}
			rec := do(t, newServer(t, svc), tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if msg := errorBody(t, rec); msg == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	segErr := &narrate.SegmentError{Index: 0, Speaker: "Alice", Backend: "kokoro", Err: errors.New("boom")}
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", narrate.ErrValidation, http.StatusBadRequest},
		{"unknown voice", fmt.Errorf("%w: %q", catalog.ErrUnknownVoice, "xx"), http.StatusBadRequest},
		{"not found", fmt.Errorf("store: x: %w", store.ErrNotFound), http.StatusNotFound},
		{"chapter failed", fmt.Errorf("%w: %w", narrate.ErrChapterFailed, segErr), http.StatusBadGateway},
		{"all backends failed", errors.Join(resilience.ErrAllFailed, errors.New("kokoro: down")), http.StatusBadGateway},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeService{genErr: tt.err}
			rec := do(t, newServer(t, svc), "POST", "/v1/books/moby/chapters/ch1/audio", `{"text": "Hello."}`)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			msg := errorBody(t, rec)
			if tt.wantStatus == http.StatusInternalServerError {
				if strings.Contains(msg, "disk on fire") {
					t.Errorf("internal error leaked: %q", msg)
				}
				return
			}
			if msg != tt.err.Error() {
				t.Errorf("error = %q, want %q", msg, tt.err.Error())
			}
		})
	}
}

func TestCharacters(t *testing.T) {
	t.Parallel()
	rec := do(t, newServer(t, &fakeService{}), "GET", "/v1/books/moby/characters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var records []types.CharacterRecord
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].VoiceID != "af_nova" {
		t.Errorf("records = %+v", records)
	}
}

func TestSetVoice(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		svc := &fakeService{}
		rec := do(t, newServer(t, svc), "PUT", "/v1/books/moby/characters/Captain%20Ahab/voice", `{"voice_id": "am_fred"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["character"] != "Captain Ahab" || body["voice_id"] != "am_fred" {
			t.Errorf("body = %v", body)
		}
		if calls := svc.Calls(); calls[0] != "SetVoice moby Captain Ahab am_fred" {
			t.Errorf("calls = %v", calls)
		}
	})

	t.Run("unknown character", func(t *testing.T) {
		t.Parallel()
		svc := &fakeService{setErr: fmt.Errorf("store: set voice: %w", store.ErrNotFound)}
		rec := do(t, newServer(t, svc), "PUT", "/v1/books/moby/characters/Nobody/voice", `{"voice_id": "am_fred"}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDeleteBook(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	rec := do(t, newServer(t, svc), "DELETE", "/v1/books/moby", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if calls := svc.Calls(); len(calls) != 1 || calls[0] != "DeleteBook moby" {
		t.Errorf("calls = %v", calls)
	}
}

func TestBookmark(t *testing.T) {
	t.Parallel()

	t.Run("save", func(t *testing.T) {
		t.Parallel()
		svc := &fakeService{}
		rec := do(t, newServer(t, svc), "PUT", "/v1/books/moby/bookmark", `{"chapter": "7", "position": 41.5}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
		}
		var b types.Bookmark
		if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if b != (types.Bookmark{Chapter: "7", Position: 41.5}) {
			t.Errorf("bookmark = %+v", b)
		}
		if calls := svc.Calls(); len(calls) != 1 || calls[0] != "SaveBookmark moby 7 41.5" {
			t.Errorf("calls = %v", calls)
		}
	})

	t.Run("get", func(t *testing.T) {
		t.Parallel()
		rec := do(t, newServer(t, &fakeService{}), "GET", "/v1/books/moby/bookmark", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["chapter"] != "4" || body["position"] != 12.5 {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		h := newServer(t, &fakeService{})
		for _, body := range []string{`{"position": -1}`, `{"page": 3}`, ``} {
			if rec := do(t, h, "PUT", "/v1/books/moby/bookmark", body); rec.Code != http.StatusBadRequest {
				t.Errorf("PUT %q status = %d, want 400", body, rec.Code)
			}
		}
	})
}

func TestAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		key        string
		wantStatus int
	}{
		{"missing", "/v1/voices", "", http.StatusUnauthorized},
		{"wrong", "/v1/voices", "guess", http.StatusForbidden},
		{"prefix of the key", "/v1/voices", "open", http.StatusForbidden},
		{"valid", "/v1/voices", "open-sesame", http.StatusOK},
		{"valid bookmark", "/v1/books/moby/bookmark", "open-sesame", http.StatusOK},
		{"health needs no key", "/healthz", "", http.StatusOK},
		{"readiness needs no key", "/readyz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeService{}
			h := newServer(t, svc, server.WithAPIKey("open-sesame"), server.WithHealth(health.New()))
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.key != "" {
				req.Header.Set(server.HeaderAPIKey, tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus >= 400 {
				if msg := errorBody(t, rec); msg == "" {
					t.Error("error message is empty")
				}
				if calls := svc.Calls(); len(calls) != 0 {
					t.Errorf("rejected request reached the service: %v", calls)
				}
			}
		})
	}
}

func TestAPIKey_DisabledByDefault(t *testing.T) {
	t.Parallel()
	if rec := do(t, newServer(t, &fakeService{}, server.WithAPIKey("")), "GET", "/v1/voices", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGenerateChapter(t *testing.T) {
	t.Parallel()
	svc := &fakeService{report: narrate.Report{Synthesized: 3, Failed: 1, Dropped: 1}}
	rec := do(t, newServer(t, svc), "POST", "/v1/books/moby/chapters/ch1/audio", `{"text": "Call me Ishmael."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	if cl := rec.Header().Get("Content-Length"); cl != fmt.Sprint(len(fakeWAV)) {
		t.Errorf("Content-Length = %q, want %d", cl, len(fakeWAV))
	}
	for h, want := range map[string]string{
		server.HeaderSynthesized: "3",
		server.HeaderFailed:      "1",
		server.HeaderDropped:     "1",
	} {
		if got := rec.Header().Get(h); got != want {
			t.Errorf("%s = %q, want %q", h, got, want)
		}
	}
	if !bytes.Equal(rec.Body.Bytes(), fakeWAV) {
		t.Error("body differs from generated audio")
	}
	if calls := svc.Calls(); calls[0] != "GenerateChapter moby ch1 Call me Ishmael." {
		t.Errorf("calls = %v", calls)
	}
}

func TestCachedAudio(t *testing.T) {
	t.Parallel()

	rec := do(t, newServer(t, &fakeService{}), "GET", "/v1/books/moby/chapters/ch1/audio", "")
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), fakeWAV) {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.Bytes())
	}

	svc := &fakeService{audioErr: fmt.Errorf("store: cache: %w", store.ErrNotFound)}
	rec = do(t, newServer(t, svc), "GET", "/v1/books/moby/chapters/ch9/audio", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	rec := do(t, newServer(t, svc), "POST", "/v1/tts", `{"text": "Hi", "voice_id": "af_nova", "speed": 1.25}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get(server.HeaderBackend); got != "kokoro" {
		t.Errorf("backend header = %q, want kokoro", got)
	}
	svc.mu.Lock()
	speed := svc.lastSpeed
	svc.mu.Unlock()
	if speed != 1.25 {
		t.Errorf("speed = %v, want 1.25", speed)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	h := newServer(t, &fakeService{})
	if rec := do(t, h, "GET", "/v1/nothing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, "PATCH", "/v1/voices", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthAndMetricsMounted(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	h := newServer(t, &fakeService{},
		server.WithHealth(health.New()),
		server.WithMetricsHandler(metrics),
	)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := do(t, h, "GET", path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestHTTPMetricsRecorded(t *testing.T) {
	t.Parallel()
	m, reader := observetest.NewMetrics(t)
	h := server.New(&fakeService{}, server.WithMetrics(m)).Handler()
	do(t, h, "GET", "/v1/books/moby/characters", "")

	if n := reader.HistogramCount(t, "voicepages.http.request.duration",
		observe.Attr("path", "GET /v1/books/{book}/characters")); n != 1 {
		t.Errorf("http duration samples = %d, want 1", n)
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()
	svc := &blockingService{fakeService: &fakeService{}}
	h := newServer(t, svc, server.WithRequestTimeout(20*time.Millisecond))
	rec := do(t, h, "POST", "/v1/books/moby/chapters/ch1/audio", `{"text": "x"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// blockingService blocks chapter generation until the context ends.
type blockingService struct {
	*fakeService
}

func (b *blockingService) GenerateChapter(ctx context.Context, _, _, _ string) ([]byte, narrate.Report, error) {
	<-ctx.Done()
	return nil, narrate.Report{}, ctx.Err()
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m, _ := observetest.NewMetrics(t)
	srv := server.New(&fakeService{}, server.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/v1/voices")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
