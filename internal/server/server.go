// Package server exposes the narration operations over HTTP.
//
// Routes:
//
//	GET    /v1/voices
//	POST   /v1/books/{book}/characters
//	GET    /v1/books/{book}/characters
//	PUT    /v1/books/{book}/characters/{name}/voice
//	DELETE /v1/books/{book}
//	PUT    /v1/books/{book}/bookmark
//	GET    /v1/books/{book}/bookmark
//	POST   /v1/books/{book}/chapters/{chapter}/audio
//	GET    /v1/books/{book}/chapters/{chapter}/audio
//	POST   /v1/tts
//	GET    /healthz, /readyz, /metrics
//
// Bodies are JSON except audio, which is served as audio/wav. Errors are
// JSON objects with a single "error" field. When an API key is configured,
// every /v1 route requires it in the X-API-Key header; the probes and
// /metrics stay open.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/voicepages/internal/app"
	"github.com/MrWong99/voicepages/internal/health"
	"github.com/MrWong99/voicepages/internal/narrate"
	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/pkg/types"
)

const (
	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 32 << 20

	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Service is the set of operations the HTTP API serves. [app.Library]
// implements it.
type Service interface {
	Voices() []types.VoiceProfile
	DetectCharacters(ctx context.Context, book string, chapters []string) (app.Detection, error)
	Characters(ctx context.Context, book string) ([]types.CharacterRecord, error)
	SetVoice(ctx context.Context, book, name, voiceID string) (types.VoiceProfile, error)
	DeleteBook(ctx context.Context, book string) error
	SaveBookmark(ctx context.Context, book string, b types.Bookmark) (types.Bookmark, error)
	Bookmark(ctx context.Context, book string) (types.Bookmark, error)
	GenerateChapter(ctx context.Context, book, chapter, text string) ([]byte, narrate.Report, error)
	ChapterAudio(ctx context.Context, book, chapter string) ([]byte, error)
	Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]byte, string, error)
}

var _ Service = (*app.Library)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithAddr sets the listen address. Default ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTLS serves HTTPS with the given PEM files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics records HTTP metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAPIKey requires key in the X-API-Key header of every API request.
// An empty key leaves the API open.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithRequestTimeout bounds every API request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// Server is the HTTP front end.
type Server struct {
	svc            Service
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics

	addr              string
	certFile, keyFile string
	requestTimeout    time.Duration
	apiKey            string

	handler http.Handler
}

// New builds a Server for svc.
func New(svc Service, opts ...Option) *Server {
	s := &Server{svc: svc, addr: ":8080"}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.withAuth(s.withTimeout(h)))
	}
	api("GET /v1/voices", s.handleVoices)
	api("POST /v1/books/{book}/characters", s.handleDetect)
	api("GET /v1/books/{book}/characters", s.handleCharacters)
	api("PUT /v1/books/{book}/characters/{name}/voice", s.handleSetVoice)
	api("DELETE /v1/books/{book}", s.handleDeleteBook)
	api("PUT /v1/books/{book}/bookmark", s.handleSaveBookmark)
	api("GET /v1/books/{book}/bookmark", s.handleBookmark)
	api("POST /v1/books/{book}/chapters/{chapter}/audio", s.handleGenerate)
	api("GET /v1/books/{book}/chapters/{chapter}/audio", s.handleCachedAudio)
	api("POST /v1/tts", s.handleSynthesize)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler with telemetry middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() {
		if s.certFile != "" {
			errc <- srv.ServeTLS(ln, s.certFile, s.keyFile)
			return
		}
		errc <- srv.Serve(ln)
	}()
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", s.certFile != "")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.requestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
