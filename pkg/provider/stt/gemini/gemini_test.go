package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/minutas/pkg/provider/stt"
	"github.com/MrWong99/minutas/pkg/provider/stt/gemini"
)

// generateRequest is the subset of the GenerateContent body the tests inspect.
type generateRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
}

// fakeGemini answers generateContent calls with text and records the bodies.
func fakeGemini(t *testing.T, status int, text string) (*httptest.Server, func() []generateRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []generateRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-3-flash-preview:generateContent") {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		var body generateRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		reqs = append(reqs, body)
		mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []generateRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]generateRequest(nil), reqs...)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := gemini.New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	srv, requests := fakeGemini(t, http.StatusOK, " Buenos días a todos. \n")
	p, err := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	audio := []byte("fake-webm")
	text, err := p.Transcribe(context.Background(), stt.Request{Audio: audio, MIMEType: "audio/webm", Language: "es"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Buenos días a todos." {
		t.Errorf("text = %q", text)
	}

	got := requests()
	if len(got) != 1 || len(got[0].Contents) != 1 {
		t.Fatalf("requests = %+v", got)
	}
	parts := got[0].Contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want audio + prompt", len(parts))
	}
	if parts[0].InlineData == nil || parts[0].InlineData.MIMEType != "audio/webm" {
		t.Fatalf("first part = %+v, want inline audio", parts[0])
	}
	if parts[0].InlineData.Data != base64.StdEncoding.EncodeToString(audio) {
		t.Error("inline data does not match the recording")
	}
	if parts[1].Text != gemini.Prompt("es") {
		t.Errorf("prompt = %q", parts[1].Text)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	srv, requests := fakeGemini(t, http.StatusOK, "ignored")
	p, _ := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL))

	text, err := p.Transcribe(context.Background(), stt.Request{MIMEType: "audio/wav"})
	if err != nil || text != "" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
	if len(requests()) != 0 {
		t.Error("empty audio should not reach the API")
	}
}

func TestTranscribe_APIError(t *testing.T) {
	t.Parallel()
	srv, _ := fakeGemini(t, http.StatusInternalServerError, "")
	p, _ := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL))

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{1}, MIMEType: "audio/wav"})
	if !errors.Is(err, stt.ErrTranscriptionFailed) {
		t.Fatalf("err = %v, want ErrTranscriptionFailed", err)
	}
}

func TestPrompt(t *testing.T) {
	t.Parallel()
	want := "Transcribe the audio provided. Provide only the transcription in en."
	if got := gemini.Prompt("en"); got != want {
		t.Errorf("Prompt = %q, want %q", got, want)
	}
}
