package ws

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Wire error codes.
const (
	CodeInvalidMessage   = "invalid_message"
	CodeValidationFailed = "validation_failed"
	CodeNotFound         = "not_found"
	CodeForbidden        = "forbidden"
	CodeStoreFailure     = "store_failure"
)

// MessageContext provides all dependencies needed for message processing
type MessageContext struct {
	UserID  string
	Session *Session
	Hub     *Hub
	Ref     string
}

// Message is an inbound client event.
type Message interface {
	GetType() string
	Process(ctx *MessageContext) error
}

// Event is an outbound server event.
type Event interface {
	GetType() string
}

// SerializedMessage is the wire format wrapper
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// ErrorResponse is sent when message processing fails
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

func CreateMessage(msgType string, typeRegistry map[string]reflect.Type) (Message, error) {
	msgTypeReflect, ok := typeRegistry[msgType]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}

	instance := reflect.New(msgTypeReflect).Interface()
	return instance.(Message), nil
}

func errorFrame(code, message, details, ref string) []byte {
	data, _ := json.Marshal(ErrorResponse{
		Type:    "error",
		Error:   message,
		Code:    code,
		Details: details,
		Ref:     ref,
	})
	return data
}
