package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/minutas/pkg/provider/stt"
)

type upload struct {
	filename string
	data     []byte
	model    string
	language string
}

func newFakeAPI(t *testing.T, status int) (*httptest.Server, func() []upload) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []upload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"invalid file","type":"invalid_request_error"}}`))
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		mu.Lock()
		seen = append(seen, upload{hdr.Filename, data, r.FormValue("model"), r.FormValue("language")})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  Next steps agreed.  "}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []upload {
		mu.Lock()
		defer mu.Unlock()
		return append([]upload(nil), seen...)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test")
	if err != nil {
		t.Fatal(err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	srv, uploads := newFakeAPI(t, http.StatusOK)
	p, _ := New("sk-test", WithBaseURL(srv.URL+"/v1/"))

	text, err := p.Transcribe(context.Background(), stt.Request{
		Audio:    []byte("mp3-bytes"),
		MIMEType: "audio/mpeg",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Next steps agreed." {
		t.Errorf("text = %q", text)
	}
	got := uploads()
	if len(got) != 1 {
		t.Fatalf("uploads = %d, want 1", len(got))
	}
	if got[0].filename != "audio.mp3" || string(got[0].data) != "mp3-bytes" {
		t.Errorf("upload = %q %q", got[0].filename, got[0].data)
	}
	if got[0].model != "whisper-1" || got[0].language != "en" {
		t.Errorf("model/language = %q/%q", got[0].model, got[0].language)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeAPI(t, http.StatusBadRequest)
	p, _ := New("sk-test", WithBaseURL(srv.URL+"/v1/"))

	tests := []struct {
		name string
		req  stt.Request
		want error
	}{
		{"api rejects", stt.Request{Audio: []byte{1}, MIMEType: "audio/wav"}, stt.ErrTranscriptionFailed},
		{"raw pcm", stt.Request{Audio: []byte{1, 0}, MIMEType: "audio/pcm;rate=16000"}, stt.ErrUnsupportedFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Transcribe(context.Background(), tc.req)
			if !errors.Is(err, tc.want) || !errors.Is(err, stt.ErrTranscriptionFailed) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
