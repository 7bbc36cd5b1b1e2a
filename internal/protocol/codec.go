package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Encode wraps msg in an envelope of the given type and marshals it.
func Encode(msgType string, msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Body: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from raw bytes.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("envelope missing type")
	}
	return &env, nil
}

// DecodeBody unmarshals the envelope body into msg.
func (e *Envelope) DecodeBody(msg any) error {
	if err := json.Unmarshal(e.Body, msg); err != nil {
		return fmt.Errorf("malformed %s body: %w", e.Type, err)
	}
	return nil
}
