package types

import "encoding/json"

// Logical AI operations exposed to the calendar assistant
const (
	OperationTitles         = "titles"
	OperationAgenda         = "agenda"
	OperationExtractMeeting = "extract_meeting"
	OperationChat           = "chat"
)

// AllOperations lists every operation a provider is expected to implement
var AllOperations = []string{
	OperationTitles,
	OperationAgenda,
	OperationExtractMeeting,
	OperationChat,
}

// Message is a single chat turn
type Message struct {
	Role    string `json:"role"` // "user", "assistant" or "system"
	Content string `json:"content"`
}

// TitlesInput asks for meeting title suggestions
type TitlesInput struct {
	Description string   `json:"description"`
	Attendees   []string `json:"attendees,omitempty"`
	Count       int      `json:"count,omitempty"`
}

// AgendaInput asks for an agenda for a meeting
type AgendaInput struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Attendees       []string `json:"attendees,omitempty"`
}

// ExtractInput carries free text describing a meeting
type ExtractInput struct {
	Text     string `json:"text"`
	Timezone string `json:"timezone,omitempty"`
	Today    string `json:"today,omitempty"` // YYYY-MM-DD reference date
}

// ChatInput is a conversation with the assistant
type ChatInput struct {
	Messages []Message `json:"messages"`
	Context  string    `json:"context,omitempty"` // e.g. upcoming events, rendered by the caller
}

// RequestOptions are the JSON form of per-request routing overrides
type RequestOptions struct {
	ForceProvider  string `json:"force_provider,omitempty"`
	EnableFallback *bool  `json:"enable_fallback,omitempty"`
	TimeoutMs      int    `json:"timeout_ms,omitempty"`
}

// OperationRequest is the HTTP body for a routed operation.
// Input is decoded against the operation's input type.
type OperationRequest struct {
	Input   json.RawMessage `json:"input"`
	Options *RequestOptions `json:"options,omitempty"`
}
