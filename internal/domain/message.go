package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType is the discriminator carried in every envelope's "type" field.
type MessageType string

// Editing operations sent by clients.
const (
	TypeNodeAdd    MessageType = "node_add"
	TypeNodeMove   MessageType = "node_move"
	TypeNodeUpdate MessageType = "node_update"
	TypeNodeDelete MessageType = "node_delete"
	TypeEdgeAdd    MessageType = "edge_add"
	TypeEdgeDelete MessageType = "edge_delete"
	TypeCursorMove MessageType = "cursor_move"
)

// Presence messages originated by the server.
const (
	TypeClientJoined MessageType = "client_joined"
	TypeClientLeft   MessageType = "client_left"
	TypeWelcome      MessageType = "welcome"
)

// Known reports whether t belongs to the relay's vocabulary.
// Unknown types are still relayed, opaquely.
func (t MessageType) Known() bool {
	switch t {
	case TypeNodeAdd, TypeNodeMove, TypeNodeUpdate, TypeNodeDelete,
		TypeEdgeAdd, TypeEdgeDelete, TypeCursorMove,
		TypeClientJoined, TypeClientLeft, TypeWelcome:
		return true
	default:
		return false
	}
}

const (
	fieldType      = "type"
	fieldClientID  = "client_id"
	fieldColor     = "color"
	fieldTimestamp = "timestamp"
	fieldSenderID  = "sender_id"
)

// Message is the envelope relayed between clients and instances.
//
// The metadata fields are owned by the server: values supplied by a client
// are discarded on parse and replaced by Stamp. Fields holds the remaining
// payload verbatim so unknown content survives the round trip.
type Message struct {
	Type      MessageType
	ClientID  ClientID
	Color     string
	Timestamp string
	SenderID  ClientID
	Fields    map[string]json.RawMessage
}

// ParseInbound decodes a frame received from a client connection. Only a
// string "type" is required; the payload is relayed as sent, whatever its
// shape. Use Event for a typed view.
func ParseInbound(frame []byte) (Message, error) {
	raw, err := decodeObject(frame)
	if err != nil {
		return Message{}, err
	}

	msgType, err := takeString(raw, fieldType)
	if err != nil {
		return Message{}, err
	}
	if msgType == "" {
		return Message{}, ErrMissingType
	}

	for _, key := range []string{fieldClientID, fieldColor, fieldTimestamp, fieldSenderID} {
		delete(raw, key)
	}

	return Message{Type: MessageType(msgType), Fields: raw}, nil
}

// DecodeWire decodes a message received from the broadcast bus.
func DecodeWire(data []byte) (Message, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return Message{}, err
	}

	msgType, err := takeString(raw, fieldType)
	if err != nil {
		return Message{}, err
	}
	if msgType == "" {
		return Message{}, ErrMissingType
	}

	msg := Message{Type: MessageType(msgType), Fields: raw}
	clientID, err := takeString(raw, fieldClientID)
	if err != nil {
		return Message{}, err
	}
	msg.ClientID = ClientID(clientID)
	if msg.Color, err = takeString(raw, fieldColor); err != nil {
		return Message{}, err
	}
	if msg.Timestamp, err = takeString(raw, fieldTimestamp); err != nil {
		return Message{}, err
	}
	senderID, err := takeString(raw, fieldSenderID)
	if err != nil {
		return Message{}, err
	}
	msg.SenderID = ClientID(senderID)
	return msg, nil
}

// Stamp sets the server-owned metadata on a client message.
func (m *Message) Stamp(clientID ClientID, color, timestamp string) {
	m.ClientID = clientID
	m.Color = color
	m.Timestamp = timestamp
}

// Set stores a payload field. Envelope keys cannot be set this way.
func (m *Message) Set(key string, value any) error {
	switch key {
	case fieldType, fieldClientID, fieldColor, fieldTimestamp, fieldSenderID:
		return fmt.Errorf("field %q is reserved", key)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode field %q: %w", key, err)
	}
	if m.Fields == nil {
		m.Fields = make(map[string]json.RawMessage)
	}
	m.Fields[key] = data
	return nil
}

// Field returns the raw payload value stored under key.
func (m Message) Field(key string) (json.RawMessage, bool) {
	v, ok := m.Fields[key]
	return v, ok
}

// EncodeWire renders the message for the broadcast bus, including sender_id.
func (m Message) EncodeWire() ([]byte, error) {
	return m.encode(true)
}

// EncodeClient renders the message as delivered to client connections.
func (m Message) EncodeClient() ([]byte, error) {
	return m.encode(false)
}

func (m Message) encode(withSender bool) ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+5)
	for k, v := range m.Fields {
		out[k] = v
	}
	out[fieldType] = m.Type
	if m.ClientID != "" {
		out[fieldClientID] = m.ClientID
	}
	if m.Color != "" {
		out[fieldColor] = m.Color
	}
	if m.Timestamp != "" {
		out[fieldTimestamp] = m.Timestamp
	}
	if withSender && m.SenderID != "" {
		out[fieldSenderID] = m.SenderID
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return data, nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}
	return raw, nil
}

// takeString removes key from raw and decodes it as a string.
// A missing key yields "".
func takeString(raw map[string]json.RawMessage, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		if key == fieldType {
			return "", ErrMissingType
		}
		return "", nil
	}
	delete(raw, key)

	if string(v) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: field %q must be a string", ErrMalformedFrame, key)
	}
	return s, nil
}
