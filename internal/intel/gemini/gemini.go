// Package gemini implements meeting analysis and the meeting chat assistant
// on the Gemini API. Analysis uses native structured output (a response
// schema); chat can ground its answers with the Google Search tool.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/MrWong99/minutas/internal/intel"
	"github.com/MrWong99/minutas/internal/meeting"
)

const (
	defaultAnalysisModel = "gemini-3-pro-preview"
	defaultChatModel     = "gemini-3-pro-preview"
)

var (
	_ meeting.Analyzer = (*Client)(nil)
	_ meeting.Chatter  = (*Client)(nil)
)

// Option configures a Client.
type Option func(*config)

type config struct {
	analysisModel string
	chatModel     string
	baseURL       string
	budget        int
}

// WithAnalysisModel overrides the model used for reports.
func WithAnalysisModel(m string) Option { return func(c *config) { c.analysisModel = m } }

// WithChatModel overrides the model used for chat.
func WithChatModel(m string) Option { return func(c *config) { c.chatModel = m } }

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option { return func(c *config) { c.baseURL = u } }

// WithContextBudget sets how many characters of meeting context a chat turn
// carries. Defaults to intel.DefaultContextBudget.
func WithContextBudget(n int) Option { return func(c *config) { c.budget = n } }

// Client is a Gemini-backed meeting.Analyzer and meeting.Chatter.
type Client struct {
	client *genai.Client
	cfg    config
	budget atomic.Int64
}

// New creates a Client authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	cfg := config{
		analysisModel: defaultAnalysisModel,
		chatModel:     defaultChatModel,
		budget:        intel.DefaultContextBudget,
	}
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
	c := &Client{client: client, cfg: cfg}
	c.budget.Store(int64(cfg.budget))
	return c, nil
}

// SetContextBudget changes the chat context budget for later turns.
func (c *Client) SetContextBudget(n int) { c.budget.Store(int64(n)) }

// Analyze implements meeting.Analyzer. The transcript is sent as text and
// an optional image as an inline part.
func (c *Client) Analyze(ctx context.Context, req meeting.AnalyzeRequest) (*meeting.Analysis, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Transcript)}
	if !req.Image.Empty() {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.analysisModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(intel.AnalysisInstruction(req.Language), genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    toGenai(intel.AnalysisSchema()),
		})
	if err != nil {
		return nil, intel.AnalysisFailed("gemini", err)
	}
	a, err := meeting.ParseAnalysis(resp.Text())
	if err != nil {
		return nil, intel.AnalysisFailed("gemini", err)
	}
	return a, nil
}

// Converse implements meeting.Chatter. With UseWebSearch the Google Search
// tool is attached and the cited web sources are returned in order.
func (c *Client) Converse(ctx context.Context, req meeting.ConverseRequest) (meeting.Reply, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == meeting.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(
			intel.ChatInstruction(req.Context, req.Language, int(c.budget.Load())), genai.RoleUser),
	}
	if req.UseWebSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.chatModel, contents, cfg)
	if err != nil {
		return meeting.Reply{}, intel.ChatFailed("gemini", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		text = intel.NoResponseText
	}
	return meeting.Reply{Text: text, SourceURLs: groundingURLs(resp)}, nil
}

// groundingURLs collects the web sources of the first candidate.
func groundingURLs(resp *genai.GenerateContentResponse) []string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var urls []string
	for _, ch := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if ch != nil && ch.Web != nil {
			urls = append(urls, ch.Web.URI)
		}
	}
	return intel.DedupURLs(urls)
}

// toGenai converts the neutral schema to the SDK type.
func toGenai(s *intel.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:     genai.Type(strings.ToUpper(s.Type)),
		Items:    toGenai(s.Items),
		Required: s.Required,
		Enum:     s.Enum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenai(v)
		}
	}
	return out
}
