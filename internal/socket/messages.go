package socket

import (
	"encoding/json"
	"fmt"

	"github.com/MikeSquared-Agency/corpusd/internal/converter"
)

// Event names exchanged with the editor.
const (
	// Client to server.
	EventRequestConversationData = "REQUEST_CONVERSATION_DATA"
	EventConvertJSONToCML        = "CONVERT_JSON_TO_CML"
	EventRequestCLIState         = "REQUEST_CLI_STATE"

	// Server to client.
	EventConversationData = "CONVERSATION_DATA"
	EventCLIState         = "CLI_STATE"
	EventFileChanged      = "FILE_CHANGED"
	EventError            = "ERROR"
)

// Message is the envelope for every frame. Replies echo the request ID.
type Message struct {
	Event string              `json:"event"`
	ID    string              `json:"id,omitempty"`
	Data  json.RawMessage     `json:"data,omitempty"`
	Error *converter.Response `json:"error,omitempty"`
}

// CLIState is the payload of CLI_STATE.
type CLIState struct {
	Root     string `json:"root"`
	Watching bool   `json:"watching"`
	Clients  int    `json:"clients"`
}

// ConvertResult is the payload of a successful CONVERT_JSON_TO_CML reply.
type ConvertResult struct {
	Content string `json:"content"`
}

// FileChanged is the payload of FILE_CHANGED.
type FileChanged struct {
	Path string `json:"path"`
}

func newMessage(event, id string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Message{Event: event, ID: id, Data: raw}, nil
}

func errorMessage(id string, err error) Message {
	resp := converter.ResponseFor(err)
	return Message{Event: EventError, ID: id, Error: &resp}
}

func unknownEventError(event string) error {
	return fmt.Errorf("unknown event %q", event)
}
