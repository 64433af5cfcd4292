// Package gemini implements stt.Provider with a single multimodal
// GenerateContent call: the recording is sent inline and the model is asked
// to return nothing but the transcription.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/minutas/pkg/provider/stt"
)

const defaultModel = "gemini-3-flash-preview"

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	model   string
	baseURL string
}

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the Gemini API endpoint. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// Provider transcribes recordings with the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	cfg := config{model: defaultModel}
	for _, o := range opts {
		o(&cfg)
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

// Prompt is the instruction sent after the audio part.
func Prompt(lang string) string {
	return fmt.Sprintf("Transcribe the audio provided. Provide only the transcription in %s.", lang)
}

// Transcribe implements stt.Provider. Any MIME type Gemini accepts inline
// may be used, including browser webm recordings.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", nil
	}
	lang := req.Language
	if lang == "" {
		lang = "es"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Audio, req.MIMEType),
			genai.NewPartFromText(Prompt(lang)),
		}, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return "", stt.Failed("gemini", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
