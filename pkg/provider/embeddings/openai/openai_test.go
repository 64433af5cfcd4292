package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDimensions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model string
		opts  []Option
		want  int
	}{
		{"text-embedding-3-small", nil, 1536},
		{"text-embedding-3-large", nil, 3072},
		{"text-embedding-ada-002", nil, 1536},
		{"some-future-model", nil, 1536},
		{"text-embedding-3-large", []Option{WithDimensions(768)}, 768},
	}
	for _, tc := range tests {
		p, err := New("sk-test", tc.model, tc.opts...)
		if err != nil {
			t.Fatalf("%s: New: %v", tc.model, err)
		}
		if got := p.Dimensions(); got != tc.want {
			t.Errorf("%s: Dimensions = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty api key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID = %q, want %q", p.ModelID(), DefaultModel)
	}
	if _, err := New("sk-test", "text-embedding-ada-002", WithDimensions(256)); err == nil {
		t.Error("ada-002 cannot shorten vectors; expected error")
	}
}

func TestEmbed_SendsDimensions(t *testing.T) {
	t.Parallel()
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25,1]}],
			"usage":{"prompt_tokens":3,"total_tokens":3}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithDimensions(3))
	vec, err := p.Embed(context.Background(), "quarterly planning")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.5 || vec[1] != -0.25 {
		t.Errorf("vec = %v", vec)
	}
	body := <-bodies
	if body["input"] != "quarterly planning" {
		t.Errorf("input = %v", body["input"])
	}
	if d, _ := body["dimensions"].(float64); d != 3 {
		t.Errorf("dimensions = %v, want 3", body["dimensions"])
	}
}
