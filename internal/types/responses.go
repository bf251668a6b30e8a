package types

// TitleSuggestions is the result of the titles operation
type TitleSuggestions struct {
	Suggestions []string `json:"suggestions"`
}

// AgendaItem is one entry of a generated agenda
type AgendaItem struct {
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Description     string `json:"description,omitempty"`
}

// Agenda is the result of the agenda operation
type Agenda struct {
	Items []AgendaItem `json:"items"`
}

// MeetingDetails is the result of the extract_meeting operation
type MeetingDetails struct {
	Title           string   `json:"title"`
	Date            string   `json:"date,omitempty"`
	StartTime       string   `json:"start_time,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Attendees       []string `json:"attendees,omitempty"`
	Location        string   `json:"location,omitempty"`
	Description     string   `json:"description,omitempty"`
}

// ChatReply is the result of the chat operation
type ChatReply struct {
	Message string `json:"message"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OperationResponse is the HTTP envelope for a routed operation
type OperationResponse struct {
	RequestID string      `json:"request_id"`
	Operation string      `json:"operation"`
	Provider  string      `json:"provider"`
	Model     string      `json:"model,omitempty"`
	Result    interface{} `json:"result"`
	Usage     *Usage      `json:"usage,omitempty"`
}

// Error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Retryable bool   `json:"retryable"`
}
