package gateway

import "encoding/json"

// EventType discriminates stream events.
type EventType string

const (
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one line of a streaming response. Exactly one done or error event
// ends every session that got past admission.
type Event struct {
	Type EventType

	// chunk
	Content string

	// done
	MessageID        string
	ConversationID   string
	TokensUsed       int
	CreditsUsed      int64
	CreditsRemaining int64
	Model            string

	// error
	Code    string
	Message string
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// MarshalJSON writes only the fields of e's type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventChunk:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventDone:
		return json.Marshal(struct {
			Type             EventType `json:"type"`
			MessageID        string    `json:"message_id"`
			ConversationID   string    `json:"conversation_id"`
			TokensUsed       int       `json:"tokens_used"`
			CreditsUsed      int64     `json:"credits_used"`
			CreditsRemaining int64     `json:"credits_remaining"`
			Model            string    `json:"model"`
		}{e.Type, e.MessageID, e.ConversationID, e.TokensUsed, e.CreditsUsed, e.CreditsRemaining, e.Model})
	default:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Error   string    `json:"error"`
			Message string    `json:"message"`
		}{EventError, e.Code, e.Message})
	}
}

// Emitter delivers one event to the caller. A non-nil error means the caller
// is gone.
type Emitter func(Event) error

func chunkEvent(content string) Event {
	return Event{Type: EventChunk, Content: content}
}

func errorEvent(code, message string) Event {
	return Event{Type: EventError, Code: code, Message: message}
}
