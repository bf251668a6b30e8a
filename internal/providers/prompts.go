package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// Prompt is the provider-neutral request built for an operation
type Prompt struct {
	System   string
	Messages []types.Message
	// JSON asks the model for a single JSON object
	JSON bool
}

const assistantPersona = "You are a helpful calendar assistant. You help people plan meetings, " +
	"write agendas and manage their schedule. Be concise."

// BuildPrompt renders the prompt for op from its typed input
func BuildPrompt(op string, args Args) (*Prompt, error) {
	switch op {
	case types.OperationTitles:
		in, err := InputFromArgs[types.TitlesInput](args)
		if err != nil {
			return nil, err
		}
		count := in.Count
		if count <= 0 {
			count = 3
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Suggest %d short, specific meeting titles for the following meeting.\n", count)
		fmt.Fprintf(&b, "Description: %s\n", in.Description)
		if len(in.Attendees) > 0 {
			fmt.Fprintf(&b, "Attendees: %s\n", strings.Join(in.Attendees, ", "))
		}
		b.WriteString(`Respond with JSON: {"suggestions": ["..."]}`)
		return &Prompt{
			System:   assistantPersona,
			Messages: []types.Message{{Role: "user", Content: b.String()}},
			JSON:     true,
		}, nil

	case types.OperationAgenda:
		in, err := InputFromArgs[types.AgendaInput](args)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Write an agenda for the meeting %q.\n", in.Title)
		if in.Description != "" {
			fmt.Fprintf(&b, "Context: %s\n", in.Description)
		}
		if in.DurationMinutes > 0 {
			fmt.Fprintf(&b, "The meeting lasts %d minutes; item durations must fit.\n", in.DurationMinutes)
		}
		if len(in.Attendees) > 0 {
			fmt.Fprintf(&b, "Attendees: %s\n", strings.Join(in.Attendees, ", "))
		}
		b.WriteString(`Respond with JSON: {"items": [{"title": "...", "duration_minutes": 10, "description": "..."}]}`)
		return &Prompt{
			System:   assistantPersona,
			Messages: []types.Message{{Role: "user", Content: b.String()}},
			JSON:     true,
		}, nil

	case types.OperationExtractMeeting:
		in, err := InputFromArgs[types.ExtractInput](args)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		b.WriteString("Extract the meeting details from the text below.\n")
		if in.Today != "" {
			fmt.Fprintf(&b, "Today is %s. Resolve relative dates against it.\n", in.Today)
		}
		if in.Timezone != "" {
			fmt.Fprintf(&b, "Times are in %s.\n", in.Timezone)
		}
		b.WriteString(`Respond with JSON: {"title": "", "date": "YYYY-MM-DD", "start_time": "HH:MM", ` +
			`"duration_minutes": 0, "attendees": [], "location": "", "description": ""}. ` +
			"Leave unknown fields empty.\n\n")
		b.WriteString(in.Text)
		return &Prompt{
			System:   assistantPersona,
			Messages: []types.Message{{Role: "user", Content: b.String()}},
			JSON:     true,
		}, nil

	case types.OperationChat:
		in, err := InputFromArgs[types.ChatInput](args)
		if err != nil {
			return nil, err
		}
		system := assistantPersona
		if in.Context != "" {
			system += "\n\nCalendar context:\n" + in.Context
		}
		messages := make([]types.Message, 0, len(in.Messages))
		for _, m := range in.Messages {
			// system turns are folded into the system prompt
			if m.Role == "system" {
				system += "\n\n" + m.Content
				continue
			}
			messages = append(messages, m)
		}
		return &Prompt{System: system, Messages: messages}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
}

// ParseOutput converts the raw model text for op into its result type
func ParseOutput(op string, text string) (interface{}, error) {
	switch op {
	case types.OperationTitles:
		var out types.TitleSuggestions
		if err := json.Unmarshal([]byte(stripFences(text)), &out); err != nil {
			// models occasionally answer with a plain list
			out.Suggestions = splitLines(text)
			if len(out.Suggestions) == 0 {
				return nil, fmt.Errorf("failed to parse title suggestions: %w", err)
			}
		}
		return &out, nil

	case types.OperationAgenda:
		var out types.Agenda
		if err := json.Unmarshal([]byte(stripFences(text)), &out); err != nil {
			return nil, fmt.Errorf("failed to parse agenda: %w", err)
		}
		return &out, nil

	case types.OperationExtractMeeting:
		var out types.MeetingDetails
		if err := json.Unmarshal([]byte(stripFences(text)), &out); err != nil {
			return nil, fmt.Errorf("failed to parse meeting details: %w", err)
		}
		return &out, nil

	case types.OperationChat:
		return &types.ChatReply{Message: strings.TrimSpace(text)}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		line = strings.Trim(line, `"`)
		if line != "" && !strings.HasPrefix(line, "```") {
			out = append(out, line)
		}
	}
	return out
}
