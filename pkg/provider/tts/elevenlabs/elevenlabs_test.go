package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicepages/pkg/audio/wav"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

// fakeServer is a minimal stream-input endpoint. It records every text
// message and answers the flush with the configured replies.
type fakeServer struct {
	mu       sync.Mutex
	received []map[string]any
	path     string
	replies  []audioResponse
	close    bool // close normally instead of sending isFinal
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == voicesPath {
		if r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"21m00Tcm4TlvDq8ikWAM","name":"Rachel","category":"premade","labels":{"gender":"female","accent":"american","description":"calm"}},
			{"voice_id":"pNInz6obpgDQGcFmaJgB","name":"Adam","category":"premade","labels":{"gender":"male"}}
		]}`))
		return
	}

	f.mu.Lock()
	f.path = r.URL.Path + "?" + r.URL.RawQuery
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var m map[string]any
		_ = json.Unmarshal(msg, &m)
		f.mu.Lock()
		f.received = append(f.received, m)
		f.mu.Unlock()
		if m["text"] == "" {
			break
		}
	}
	for _, rep := range f.replies {
		b, _ := json.Marshal(rep)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return
		}
	}
	if f.close {
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	// Wait for the client to hang up.
	_, _, _ = conn.Read(ctx)
}

func pcmChunk(samples ...int16) string {
	var b []byte
	for _, s := range samples {
		b = binary.LittleEndian.AppendUint16(b, uint16(s))
	}
	return base64.StdEncoding.EncodeToString(b)
}

func newTestProvider(t *testing.T, f *fakeServer, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	p, err := New("key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}

	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" || p.sampleRate != 16000 {
		t.Errorf("model = %q, rate = %d", p.model, p.sampleRate)
	}
	if !p.Available(context.Background()) {
		t.Error("Available = false with an API key")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		close bool
	}{
		{"isFinal", false},
		{"normal close", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeServer{
				close: tt.close,
				replies: []audioResponse{
					{Audio: pcmChunk(16384, 0)},
					{Message: "keepalive"},
					{Audio: pcmChunk(-16384)},
					{IsFinal: !tt.close},
				},
			}
			p := newTestProvider(t, f, WithVoiceMap(map[string]string{"af_nova": "21m00Tcm4TlvDq8ikWAM"}))

			out, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there.", VoiceID: "af_nova", Speed: 1.1})
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			clip, err := wav.Decode(out)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if clip.Format.SampleRate != 24000 || len(clip.Samples) != 3 {
				t.Errorf("format = %+v, samples = %d", clip.Format, len(clip.Samples))
			}
			if clip.Samples[0] != 0.5 || clip.Samples[2] != -0.5 {
				t.Errorf("samples = %v", clip.Samples)
			}

			f.mu.Lock()
			defer f.mu.Unlock()
			if !strings.HasPrefix(f.path, "/v1/text-to-speech/21m00Tcm4TlvDq8ikWAM/stream-input") ||
				!strings.Contains(f.path, "output_format=pcm_24000") {
				t.Errorf("path = %q", f.path)
			}
			if len(f.received) != 3 {
				t.Fatalf("received %d messages, want 3", len(f.received))
			}
			if f.received[0]["xi_api_key"] != "key" {
				t.Errorf("BOI = %v, want api key", f.received[0])
			}
			vs, _ := f.received[0]["voice_settings"].(map[string]any)
			if vs["speed"] != 1.1 {
				t.Errorf("voice_settings = %v, want speed 1.1", vs)
			}
			if f.received[1]["text"] != "Hello there. " {
				t.Errorf("text message = %v", f.received[1])
			}
		})
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	t.Run("server error message", func(t *testing.T) {
		t.Parallel()
		f := &fakeServer{replies: []audioResponse{{Error: "quota_exceeded", Message: "out of credits"}}}
		_, err := newTestProvider(t, f).Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
		if !errors.Is(err, tts.ErrSynthesisFailure) {
			t.Errorf("err = %v, want ErrSynthesisFailure", err)
		}
	})

	t.Run("no audio", func(t *testing.T) {
		t.Parallel()
		f := &fakeServer{replies: []audioResponse{{IsFinal: true}}}
		_, err := newTestProvider(t, f).Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
		if !errors.Is(err, tts.ErrSynthesisFailure) {
			t.Errorf("err = %v, want ErrSynthesisFailure", err)
		}
	})

	t.Run("empty voice", func(t *testing.T) {
		t.Parallel()
		_, err := newTestProvider(t, &fakeServer{}).Synthesize(context.Background(), tts.Request{Text: "x"})
		if !errors.Is(err, tts.ErrSynthesisFailure) {
			t.Errorf("err = %v, want ErrSynthesisFailure", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		p, err := New("key", WithBaseURL(srv.URL))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
		if !errors.Is(err, tts.ErrBackendUnavailable) {
			t.Errorf("err = %v, want ErrBackendUnavailable", err)
		}
	})
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, &fakeServer{})

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	want := []types.VoiceProfile{
		{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Gender: types.GenderFemale, Accent: "american", Style: "calm"},
		{ID: "pNInz6obpgDQGcFmaJgB", Name: "Adam", Gender: types.GenderMale, Style: "premade"},
	}
	if len(voices) != len(want) {
		t.Fatalf("got %d voices, want %d", len(voices), len(want))
	}
	for i := range want {
		if voices[i] != want[i] {
			t.Errorf("voices[%d] = %+v, want %+v", i, voices[i], want[i])
		}
	}
}
