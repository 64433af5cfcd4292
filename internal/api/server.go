// Package api is the HTTP surface of minutas: the meeting REST routes, the
// per-meeting chat, semantic recall and the /v1/live WebSocket that drives a
// live voice session from a browser.
//
// Callers identify themselves with the X-Owner-ID header. Errors are
// returned as {"error": "..."} with a status derived from the domain
// sentinel they wrap.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/minutas/internal/health"
	"github.com/MrWong99/minutas/internal/intel"
	"github.com/MrWong99/minutas/internal/live"
	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/internal/resilience"
	"github.com/MrWong99/minutas/internal/store"
	"github.com/MrWong99/minutas/pkg/provider/stt"
)

// OwnerHeader carries the caller identity.
const OwnerHeader = "X-Owner-ID"

// maxUploadBytes bounds a multipart meeting upload.
const maxUploadBytes = 64 << 20

// BridgeFactory builds a live bridge over the given devices. The server
// passes devices backed by the WebSocket connection.
type BridgeFactory func(mic live.Microphone, speaker live.Speaker, opts ...live.Option) *live.Bridge

// Deps are the services the server exposes. Searcher, Live and Health may
// be nil. LiveLanguage supplies the language of a live session whose
// request names none.
type Deps struct {
	Processor    *meeting.Processor
	Conversation *meeting.Conversation
	Searcher     *meeting.Searcher
	Store        meeting.Store
	Live         BridgeFactory
	LiveLanguage func() meeting.Language
	Health       *health.Handler
	Metrics      *observe.Metrics
	MetricsPage  http.Handler
	Logger       *slog.Logger
}

// Server routes HTTP requests to the meeting services.
type Server struct {
	deps Deps
	log  *slog.Logger
	live liveSlot
}

// New returns a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Server{deps: deps, log: deps.Logger}
}

// Handler returns the routed handler wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/meetings", s.listMeetings)
	mux.HandleFunc("POST /v1/meetings", s.createMeeting)
	mux.HandleFunc("GET /v1/meetings/search", s.searchMeetings)
	mux.HandleFunc("DELETE /v1/meetings/{id}", s.deleteMeeting)
	mux.HandleFunc("GET /v1/meetings/{id}/chat", s.chatHistory)
	mux.HandleFunc("POST /v1/meetings/{id}/chat", s.sendChat)
	mux.HandleFunc("DELETE /v1/meetings/{id}/chat", s.clearChat)
	mux.HandleFunc("GET /v1/live", s.liveSession)

	if s.deps.Health != nil {
		s.deps.Health.Register(mux)
	}
	if s.deps.MetricsPage != nil {
		mux.Handle("GET /metrics", s.deps.MetricsPage)
	}
	return observe.Middleware(s.deps.Metrics)(mux)
}

// owner returns the caller identity or writes a 400.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if id == "" {
		writeError(w, http.StatusBadRequest, meeting.ErrMissingOwner)
		return "", false
	}
	return id, true
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, meeting.ErrInvalidInput), errors.Is(err, meeting.ErrInvalidLanguage):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, meeting.ErrSearchUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, stt.ErrTranscriptionFailed),
		errors.Is(err, intel.ErrAnalysisFailed),
		errors.Is(err, intel.ErrChatFailed),
		errors.Is(err, resilience.ErrAllFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail logs server-side failures and writes the mapped error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, err)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: encode response", "err", err)
	}
}
