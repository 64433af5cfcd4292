package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/minutas/pkg/provider/embeddings/ollama"
)

// mockEmbedServer answers /api/embed with vec and counts requests. It checks
// the model name and that truncation is requested.
func mockEmbedServer(t *testing.T, wantModel string, vec []float32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Model    string   `json:"model"`
			Input    []string `json:"input"`
			Truncate bool     `json:"truncate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel || len(req.Input) != 1 || !req.Truncate {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": wantModel, "embeddings": [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()
	srv := mockEmbedServer(t, "nomic-embed-text", []float32{0.1, 0.2, 0.3}, nil)
	p, err := ollama.New(srv.URL+"/", "nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}
	vec, err := p.Embed(context.Background(), "search_query: budget")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		opts  []ollama.Option
		want  int
	}{
		{"nomic-embed-text", nil, 768},
		{"mxbai-embed-large:latest", nil, 1024},
		{"all-minilm", nil, 384},
		{"nomic-embed-text", []ollama.Option{ollama.WithDimensions(64)}, 64},
	}
	for _, tc := range tests {
		p, _ := ollama.New("http://127.0.0.1:1", tc.model, tc.opts...)
		if got := p.Dimensions(); got != tc.want {
			t.Errorf("%s: Dimensions = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestDimensions_ProbesUnknownModelOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := mockEmbedServer(t, "custom-embed", make([]float32, 5), &calls)
	p, _ := ollama.New(srv.URL, "custom-embed")

	if got := p.Dimensions(); got != 5 {
		t.Fatalf("Dimensions = %d, want 5", got)
	}
	if got := p.Dimensions(); got != 5 {
		t.Fatalf("second Dimensions = %d, want 5", got)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("probe requests = %d, want 1", n)
	}
}

func TestDimensions_ServerDown(t *testing.T) {
	t.Parallel()
	p, _ := ollama.New("http://127.0.0.1:1", "custom-embed")
	if got := p.Dimensions(); got != 0 {
		t.Errorf("Dimensions = %d, want 0 when the probe fails", got)
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
		}},
		{"malformed", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{"))
		}},
		{"empty", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[]}`))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			p, _ := ollama.New(srv.URL, "nomic-embed-text")
			if _, err := p.Embed(context.Background(), "x"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	t.Parallel()
	srv := mockEmbedServer(t, "nomic-embed-text", []float32{1}, nil)
	p, _ := ollama.New(srv.URL, "nomic-embed-text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Embed(ctx, "x"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
