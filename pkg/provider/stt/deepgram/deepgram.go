// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// pre-recorded REST API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/minutas/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "es"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the fallback language used when a request carries none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts recognition of uncommon vocabulary such as company or
// product names. Each entry is "word:boost", e.g. "Kubernetes:3".
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, keywords...)
	}
}

// WithEndpoint overrides the REST endpoint. Primarily used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	keywords   []string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. Containers are sent as-is; raw PCM is
// described to Deepgram through the encoding query parameters.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", nil
	}
	endpoint, contentType, err := p.buildURL(req)
	if err != nil {
		return "", stt.Failed("deepgram", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Audio))
	if err != nil {
		return "", stt.Failed("deepgram", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", stt.Failed("deepgram", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", stt.Failed("deepgram", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", stt.Failed("deepgram", fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	var dr deepgramResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return "", stt.Failed("deepgram", fmt.Errorf("parse response: %w", err))
	}
	return dr.text(), nil
}

// buildURL constructs the endpoint URL and request content type.
func (p *Provider) buildURL(req stt.Request) (string, string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	for _, kw := range p.keywords {
		q.Add("keywords", kw)
	}

	contentType, _, err := mime.ParseMediaType(req.MIMEType)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", stt.ErrUnsupportedFormat, req.MIMEType)
	}
	if strings.HasPrefix(contentType, "audio/pcm") || contentType == "audio/l16" {
		frame, err := req.PCM()
		if err != nil {
			return "", "", err
		}
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(frame.Format.SampleRate))
		q.Set("channels", strconv.Itoa(frame.Format.Channels))
		contentType = "application/octet-stream"
	}

	u.RawQuery = q.Encode()
	return u.String(), contentType, nil
}

// deepgramResponse is the subset of the pre-recorded response body we read.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// text joins the best alternative of every channel.
func (r deepgramResponse) text() string {
	var parts []string
	for _, ch := range r.Results.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(ch.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)
