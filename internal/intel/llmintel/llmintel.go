// Package llmintel implements meeting analysis and chat on any llm.Provider,
// such as an OpenAI model or a local model behind any-llm. The report schema
// is carried in the system prompt and the answer is validated like any
// other report. Web search is not available on this path.
package llmintel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/minutas/internal/intel"
	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/pkg/provider/llm"
)

var (
	_ meeting.Analyzer = (*Client)(nil)
	_ meeting.Chatter  = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithName sets the provider name used in error messages. Defaults to "llm".
func WithName(name string) Option { return func(c *Client) { c.name = name } }

// WithContextBudget sets how many characters of meeting context a chat turn
// carries.
func WithContextBudget(n int) Option { return func(c *Client) { c.budget.Store(int64(n)) } }

// Client adapts an llm.Provider to meeting.Analyzer and meeting.Chatter.
type Client struct {
	p      llm.Provider
	name   string
	budget atomic.Int64
}

// New wraps p.
func New(p llm.Provider, opts ...Option) *Client {
	c := &Client{p: p, name: "llm"}
	c.budget.Store(intel.DefaultContextBudget)
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetContextBudget changes the chat context budget for later turns.
func (c *Client) SetContextBudget(n int) { c.budget.Store(int64(n)) }

// Analyze implements meeting.Analyzer. The image is dropped when the model
// cannot see.
func (c *Client) Analyze(ctx context.Context, req meeting.AnalyzeRequest) (*meeting.Analysis, error) {
	caps := c.p.Capabilities()
	msg := llm.Message{Role: llm.RoleUser, Content: req.Transcript}
	if !req.Image.Empty() && caps.SupportsVision {
		msg.Images = []llm.Image{{MIMEType: req.Image.MIMEType, Data: req.Image.Data}}
	}
	resp, err := c.p.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: intel.AnalysisInstruction(req.Language) + "\n\n" + intel.SchemaPrompt(),
		Messages:     []llm.Message{msg},
		JSON:         caps.SupportsJSONMode,
	})
	if err != nil {
		return nil, intel.AnalysisFailed(c.name, err)
	}
	if resp == nil {
		return nil, intel.AnalysisFailed(c.name, errors.New("empty response"))
	}
	a, err := meeting.ParseAnalysis(resp.Content)
	if err != nil {
		return nil, intel.AnalysisFailed(c.name, err)
	}
	return a, nil
}

// Converse implements meeting.Chatter. UseWebSearch is ignored and replies
// never carry sources.
func (c *Client) Converse(ctx context.Context, req meeting.ConverseRequest) (meeting.Reply, error) {
	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		role := llm.RoleUser
		if m.Role == meeting.RoleModel {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Message})

	resp, err := c.p.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: intel.ChatInstruction(req.Context, req.Language, int(c.budget.Load())),
		Messages:     msgs,
	})
	if err != nil {
		return meeting.Reply{}, intel.ChatFailed(c.name, err)
	}
	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		text = intel.NoResponseText
	}
	return meeting.Reply{Text: text}, nil
}
