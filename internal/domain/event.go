package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Event is a typed view over a message payload.
type Event interface {
	Kind() MessageType
}

// Point is a canvas position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeEvent covers node_add, node_move, node_update and node_delete.
type NodeEvent struct {
	Type     MessageType     `json:"-"`
	ID       string          `json:"id"`
	Position *Point          `json:"position,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (e NodeEvent) Kind() MessageType { return e.Type }

// EdgeEvent covers edge_add and edge_delete.
type EdgeEvent struct {
	Type   MessageType `json:"-"`
	ID     string      `json:"id"`
	Source string      `json:"source,omitempty"`
	Target string      `json:"target,omitempty"`
}

func (e EdgeEvent) Kind() MessageType { return e.Type }

// CursorEvent is a cursor_move.
type CursorEvent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (CursorEvent) Kind() MessageType { return TypeCursorMove }

// PresenceEvent covers client_joined and client_left.
type PresenceEvent struct {
	Type         MessageType `json:"-"`
	TotalClients int         `json:"total_clients"`
}

func (e PresenceEvent) Kind() MessageType { return e.Type }

// WelcomeEvent is the first frame a new connection receives.
type WelcomeEvent struct {
	ConnectedClients []ClientID          `json:"connected_clients"`
	ClientColors     map[ClientID]string `json:"client_colors"`
}

func (WelcomeEvent) Kind() MessageType { return TypeWelcome }

// OpaqueEvent is any type outside the known vocabulary.
type OpaqueEvent struct {
	Type MessageType
}

func (e OpaqueEvent) Kind() MessageType { return e.Type }

// Event decodes the typed view of the payload. A known type whose payload
// does not match its shape is reported as ErrMalformedFrame.
func (m Message) Event() (Event, error) {
	switch m.Type {
	case TypeNodeAdd, TypeNodeMove, TypeNodeUpdate, TypeNodeDelete:
		ev := NodeEvent{Type: m.Type}
		if err := m.decodeInto(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeEdgeAdd, TypeEdgeDelete:
		ev := EdgeEvent{Type: m.Type}
		if err := m.decodeInto(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeCursorMove:
		var ev CursorEvent
		if err := m.decodeInto(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeClientJoined, TypeClientLeft:
		ev := PresenceEvent{Type: m.Type}
		if err := m.decodeInto(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeWelcome:
		var ev WelcomeEvent
		if err := m.decodeInto(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return OpaqueEvent{Type: m.Type}, nil
	}
}

func (m Message) decodeInto(v any) error {
	if len(m.Fields) == 0 {
		return nil
	}
	data, err := json.Marshal(m.Fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, m.Type, err)
	}
	return nil
}

// NewClientJoined builds the presence message announcing a new client.
func NewClientJoined(id ClientID, color string, total int, timestamp string) Message {
	m := Message{Type: TypeClientJoined, ClientID: id, Color: color, Timestamp: timestamp}
	m.Fields = map[string]json.RawMessage{"total_clients": json.RawMessage(strconv.Itoa(total))}
	return m
}

// NewClientLeft builds the presence message announcing a departure.
func NewClientLeft(id ClientID, total int, timestamp string) Message {
	m := Message{Type: TypeClientLeft, ClientID: id, Timestamp: timestamp}
	m.Fields = map[string]json.RawMessage{"total_clients": json.RawMessage(strconv.Itoa(total))}
	return m
}

// NewWelcome builds the greeting for a newly registered client.
// ids lists every registered client, including the new one, in join order.
func NewWelcome(id ClientID, color string, ids []ClientID, colors map[ClientID]string) (Message, error) {
	m := Message{Type: TypeWelcome, ClientID: id, Color: color}
	if ids == nil {
		ids = []ClientID{}
	}
	if colors == nil {
		colors = map[ClientID]string{}
	}
	if err := m.Set("connected_clients", ids); err != nil {
		return Message{}, err
	}
	if err := m.Set("client_colors", colors); err != nil {
		return Message{}, err
	}
	return m, nil
}
