package meeting

import "context"

// Attachment is an uploaded file held in memory.
type Attachment struct {
	Data     []byte
	MIMEType string
}

// Empty reports whether a carries no data.
func (a *Attachment) Empty() bool { return a == nil || len(a.Data) == 0 }

// AnalyzeRequest is the input of an [Analyzer].
type AnalyzeRequest struct {
	Transcript string
	Language   Language
	// Image is an optional whiteboard or slide photo.
	Image *Attachment
}

// Analyzer turns a transcript into an [Analysis]. Implementations return
// only reports that pass [Analysis.Validate].
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error)
}

// ConverseRequest is one chat turn.
type ConverseRequest struct {
	History      []ChatMessage
	Message      string
	Context      string
	UseWebSearch bool
	Language     Language
}

// Reply is the assistant's answer to a [ConverseRequest].
type Reply struct {
	Text       string
	SourceURLs []string
}

// Chatter answers questions about a meeting.
type Chatter interface {
	Converse(ctx context.Context, req ConverseRequest) (Reply, error)
}

// Store persists meeting records per owner.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns the owner's records, newest first.
	List(ctx context.Context, owner string) ([]Record, error)

	// Insert adds a record. Inserting an existing ID is an error.
	Insert(ctx context.Context, rec Record) error

	// Delete removes the owner's record with the given ID.
	Delete(ctx context.Context, owner, id string) error
}

// ChatStore persists chat histories keyed by meeting ID.
type ChatStore interface {
	// LoadChat returns the stored history, or nil when none exists.
	LoadChat(ctx context.Context, meetingID string) ([]ChatMessage, error)
	SaveChat(ctx context.Context, meetingID string, msgs []ChatMessage) error
	DeleteChat(ctx context.Context, meetingID string) error
}

// SimilarityStore finds records whose embedding is closest to a query vector.
type SimilarityStore interface {
	Similar(ctx context.Context, owner string, vec []float32, k int) ([]Record, error)
}
