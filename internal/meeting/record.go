// Package meeting holds the meeting-intelligence domain: the analysis report
// model, meeting records, chat messages, the processing pipeline that turns
// audio or text into a record, the per-meeting chat assistant and semantic
// recall.
//
// Collaborators (transcription, analysis, chat and persistence) are
// declared here as small interfaces and implemented by the provider, intel
// and store packages.
package meeting

import (
	"cmp"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Record is one processed meeting.
type Record struct {
	// ID is the millisecond Unix timestamp of creation, as a decimal string.
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Date       string    `json:"date"`
	Title      string    `json:"title"`
	Transcript string    `json:"transcript"`
	Analysis   *Analysis `json:"analysis"`

	// Embedding is the summary vector, when an embeddings provider is
	// configured. It is persisted by stores that support similarity search.
	Embedding []float32 `json:"-"`
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatMessage is one entry of a meeting chat history.
type ChatMessage struct {
	ID            string   `json:"id"`
	Role          Role     `json:"role"`
	Text          string   `json:"text"`
	GroundingURLs []string `json:"groundingUrls,omitempty"`
}

// IDSource hands out millisecond timestamp IDs. Two calls within the same
// millisecond get distinct, increasing IDs.
type IDSource struct {
	now func() time.Time

	mu   sync.Mutex
	last int64
}

// NewIDSource returns an IDSource reading now. A nil now uses time.Now.
func NewIDSource(now func() time.Time) *IDSource {
	if now == nil {
		now = time.Now
	}
	return &IDSource{now: now}
}

// Next returns the next ID and the time it was derived from.
func (s *IDSource) Next() (string, time.Time) {
	t := s.now()
	ms := t.UnixMilli()
	s.mu.Lock()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	s.mu.Unlock()
	return strconv.FormatInt(ms, 10), t
}

// SortNewestFirst orders records by creation time, newest first. IDs are
// millisecond timestamps; records with non-numeric IDs fall back to Date.
func SortNewestFirst(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		ai, aerr := strconv.ParseInt(a.ID, 10, 64)
		bi, berr := strconv.ParseInt(b.ID, 10, 64)
		if aerr == nil && berr == nil {
			return cmp.Compare(bi, ai)
		}
		return cmp.Compare(b.Date, a.Date)
	})
}
