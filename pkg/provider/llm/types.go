package llm

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Images are inline attachments sent alongside Content. Only honoured
	// by models whose capabilities report SupportsVision.
	Images []Image
}

// Image is an inline binary attachment such as a whiteboard photo.
type Image struct {
	// MIMEType is e.g. "image/png".
	MIMEType string

	// Data holds the raw (not base64) bytes.
	Data []byte
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsJSONMode indicates the model can be forced to emit a single
	// JSON object.
	SupportsJSONMode bool
}
