package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/internal/store"
)

func (s *Server) listMeetings(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	recs, err := s.deps.Store.List(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// createMeeting runs the pipeline on a multipart upload with the fields
// title, text, language, audio and image.
func (s *Server) createMeeting(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", meeting.ErrInvalidInput, err))
		return
	}
	lang, err := meeting.ParseLanguage(r.FormValue("language"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	audio, err := attachment(r.MultipartForm, "audio")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	image, err := attachment(r.MultipartForm, "image")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rec, err := s.deps.Processor.Process(r.Context(), meeting.Input{
		Owner:    owner,
		Title:    r.FormValue("title"),
		Text:     r.FormValue("text"),
		Audio:    audio,
		Image:    image,
		Language: lang,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// attachment reads the first file of field, or returns nil when absent.
func attachment(form *multipart.Form, field string) (*meeting.Attachment, error) {
	if form == nil || len(form.File[field]) == 0 {
		return nil, nil
	}
	fh := form.File[field][0]
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", meeting.ErrInvalidInput, field, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", meeting.ErrInvalidInput, field, err)
	}
	mime := fh.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return &meeting.Attachment{Data: data, MIMEType: mime}, nil
}

func (s *Server) deleteMeeting(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Store.Delete(r.Context(), owner, id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.deps.Conversation.Forget(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) searchMeetings(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: k must be a non-negative integer", meeting.ErrInvalidInput))
			return
		}
		k = n
	}
	recs, err := s.deps.Searcher.Search(r.Context(), owner, r.URL.Query().Get("q"), k)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// ownedMeeting checks that id belongs to the caller.
func (s *Server) ownedMeeting(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := s.owner(w, r)
	if !ok {
		return "", false
	}
	id := r.PathValue("id")
	recs, err := s.deps.Store.List(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return "", false
	}
	for _, rec := range recs {
		if rec.ID == id {
			return id, true
		}
	}
	s.fail(w, r, fmt.Errorf("meeting %q: %w", id, store.ErrNotFound))
	return "", false
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownedMeeting(w, r)
	if !ok {
		return
	}
	lang, err := meeting.ParseLanguage(r.URL.Query().Get("language"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msgs, err := s.deps.Conversation.History(r.Context(), id, lang)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type chatRequest struct {
	Message      string `json:"message"`
	UseWebSearch bool   `json:"useWebSearch"`
	Language     string `json:"language"`
}

// sendChat answers one question. A failed model call still returns the
// apology message that was stored, with a 502.
func (s *Server) sendChat(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var body chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: decode body: %v", meeting.ErrInvalidInput, err))
		return
	}
	lang, err := meeting.ParseLanguage(body.Language)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.deps.Conversation.Send(r.Context(), meeting.SendRequest{
		Owner:        owner,
		MeetingID:    r.PathValue("id"),
		Message:      body.Message,
		UseWebSearch: body.UseWebSearch,
		Language:     lang,
	})
	if err != nil {
		if msg.Text == "" {
			s.fail(w, r, err)
			return
		}
		observe.Logger(r.Context()).Warn("chat turn failed", "meeting", r.PathValue("id"), "err", err)
		writeJSON(w, statusFor(err), msg)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) clearChat(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownedMeeting(w, r)
	if !ok {
		return
	}
	msgs, err := s.deps.Conversation.Clear(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
