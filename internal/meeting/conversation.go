package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/internal/store"
)

// Canned assistant texts.
const (
	chatErrorText   = "Sorry, I encountered an error."
	chatClearedText = "Chat cleared."
)

// ErrEmptyMessage is returned when a chat message is blank.
var ErrEmptyMessage = fmt.Errorf("%w: message is required", ErrInvalidInput)

// Greeting returns the first assistant message of a new chat.
func Greeting(lang Language) ChatMessage {
	text := "Hi! How can I help you with this meeting?"
	if lang == Spanish {
		text = "¡Hola! ¿En qué puedo ayudarte con esta minuta?"
	}
	return ChatMessage{ID: "1", Role: RoleModel, Text: text}
}

// SendRequest is one user question about a meeting.
type SendRequest struct {
	Owner        string
	MeetingID    string
	Message      string
	UseWebSearch bool
	Language     Language
}

// Conversation is the chat assistant attached to each meeting. The history
// of every meeting is persisted in a [ChatStore].
type Conversation struct {
	chatter Chatter
	records Store
	chats   ChatStore
	ids     *IDSource

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewConversation returns a Conversation. now may be nil.
func NewConversation(chatter Chatter, records Store, chats ChatStore, now func() time.Time) *Conversation {
	return &Conversation{
		chatter: chatter,
		records: records,
		chats:   chats,
		ids:     NewIDSource(now),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lock serialises load-modify-save cycles per meeting.
func (c *Conversation) lock(meetingID string) func() {
	c.mu.Lock()
	l, ok := c.locks[meetingID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[meetingID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Send asks the assistant about a meeting and persists both sides of the
// exchange. When the chat service fails, an apology is stored as the model
// turn and the service error is returned.
func (c *Conversation) Send(ctx context.Context, req SendRequest) (ChatMessage, error) {
	if strings.TrimSpace(req.Message) == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	if req.Language == "" {
		req.Language = DefaultLanguage
	}
	rec, err := c.find(ctx, req.Owner, req.MeetingID)
	if err != nil {
		return ChatMessage{}, err
	}

	unlock := c.lock(req.MeetingID)
	defer unlock()

	history, err := c.history(ctx, req.MeetingID, req.Language)
	if err != nil {
		return ChatMessage{}, err
	}
	userID, _ := c.ids.Next()
	userMsg := ChatMessage{ID: userID, Role: RoleUser, Text: req.Message}

	reply, chatErr := c.chatter.Converse(ctx, ConverseRequest{
		History:      history,
		Message:      req.Message,
		Context:      chatContext(rec),
		UseWebSearch: req.UseWebSearch,
		Language:     req.Language,
	})

	modelID, _ := c.ids.Next()
	modelMsg := ChatMessage{ID: modelID, Role: RoleModel, Text: reply.Text, GroundingURLs: reply.SourceURLs}
	if chatErr != nil {
		modelMsg = ChatMessage{ID: modelID, Role: RoleModel, Text: chatErrorText}
	}

	updated := append(append(history[:len(history):len(history)], userMsg), modelMsg)
	if err := c.chats.SaveChat(ctx, req.MeetingID, updated); err != nil {
		observe.Logger(ctx).Warn("meeting: save chat failed", "meeting", req.MeetingID, "err", err)
	}
	if chatErr != nil {
		return modelMsg, fmt.Errorf("meeting: converse: %w", chatErr)
	}
	return modelMsg, nil
}

// History returns the stored chat of a meeting, or the greeting when
// nothing has been said yet.
func (c *Conversation) History(ctx context.Context, meetingID string, lang Language) ([]ChatMessage, error) {
	return c.history(ctx, meetingID, lang)
}

func (c *Conversation) history(ctx context.Context, meetingID string, lang Language) ([]ChatMessage, error) {
	msgs, err := c.chats.LoadChat(ctx, meetingID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("meeting: load chat: %w", err)
	}
	if len(msgs) == 0 {
		return []ChatMessage{Greeting(lang)}, nil
	}
	return msgs, nil
}

// Clear replaces the history of a meeting with a single "Chat cleared."
// message and returns it.
func (c *Conversation) Clear(ctx context.Context, meetingID string) ([]ChatMessage, error) {
	unlock := c.lock(meetingID)
	defer unlock()

	id, _ := c.ids.Next()
	msgs := []ChatMessage{{ID: id, Role: RoleModel, Text: chatClearedText}}
	if err := c.chats.SaveChat(ctx, meetingID, msgs); err != nil {
		return nil, fmt.Errorf("meeting: clear chat: %w", err)
	}
	return msgs, nil
}

// Forget drops the chat of a deleted meeting.
func (c *Conversation) Forget(ctx context.Context, meetingID string) {
	unlock := c.lock(meetingID)
	defer unlock()

	if err := c.chats.DeleteChat(ctx, meetingID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("meeting: delete chat failed", "meeting", meetingID, "err", err)
	}
	c.mu.Lock()
	delete(c.locks, meetingID)
	c.mu.Unlock()
}

func (c *Conversation) find(ctx context.Context, owner, id string) (*Record, error) {
	recs, err := c.records.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("meeting: list records: %w", err)
	}
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i], nil
		}
	}
	return nil, fmt.Errorf("meeting %q: %w", id, store.ErrNotFound)
}

// chatContext puts the report summary before the transcript so that it
// survives context truncation.
func chatContext(rec *Record) string {
	var b strings.Builder
	if s := rec.Analysis.Summary(); s != "" {
		b.WriteString("SUMMARY:\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	b.WriteString("TRANSCRIPT:\n")
	b.WriteString(rec.Transcript)
	return b.String()
}
