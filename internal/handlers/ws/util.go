package ws

import (
	"bytes"
	"encoding/json"
	"errors"
)

func Serialize(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SerializedMessage{
		Type:    e.GetType(),
		Payload: payload,
	})
}

// Deserialize decodes an envelope and its payload into the registered type.
// The envelope is returned even when the payload is rejected so callers can
// echo its ref.
func Deserialize(jsonBytes []byte) (*SerializedMessage, Message, error) {
	var wrapper SerializedMessage
	if err := json.Unmarshal(jsonBytes, &wrapper); err != nil {
		return nil, nil, err
	}
	if wrapper.Type == "" {
		return &wrapper, nil, errors.New("missing message type")
	}

	msg, err := CreateMessage(wrapper.Type, typeRegistry)
	if err != nil {
		return &wrapper, nil, err
	}

	payload := bytes.TrimSpace(wrapper.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return &wrapper, msg, nil
	}
	if err := json.Unmarshal(payload, msg); err != nil {
		return &wrapper, nil, err
	}
	return &wrapper, msg, nil
}
