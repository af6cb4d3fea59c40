// Package v2v defines the JSON messages exchanged between vehicles and the relay.
package v2v

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeRegister    Type = "register"
	TypeMessage     Type = "message"
	TypeSafetyAlert Type = "safety_alert"
	TypeSystem      Type = "system"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

const (
	fieldType      = "type"
	fieldVehicleID = "vehicle_id"
	fieldMessage   = "message"
	fieldSender    = "sender"
	fieldTimestamp = "timestamp"
	fieldDistance  = "distance"
)

// Inbound is a decoded client message. The set of implementations is closed:
// Register and Relayable are the only variants.
type Inbound interface {
	Type() Type
	isInbound()
}

type Register struct {
	VehicleID string
}

func (Register) Type() Type { return TypeRegister }
func (Register) isInbound() {}

// Relayable is a message or safety_alert as sent by a vehicle. Every field the
// caller supplied is kept so it can be forwarded untouched.
type Relayable struct {
	Kind      Type
	VehicleID string
	Text      string
	fields    map[string]json.RawMessage
}

func (r Relayable) Type() Type { return r.Kind }
func (Relayable) isInbound() {}

// Decode parses a raw frame into one of the inbound variants.
func Decode(raw []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	typ, err := stringField(fields, fieldType)
	if err != nil {
		return nil, err
	}
	vehicleID, err := stringField(fields, fieldVehicleID)
	if err != nil {
		return nil, err
	}

	switch Type(typ) {
	case TypeRegister:
		vehicleID = strings.TrimSpace(vehicleID)
		if vehicleID == "" {
			return nil, fmt.Errorf("%w: vehicle_id is required", ErrMalformed)
		}
		return Register{VehicleID: vehicleID}, nil
	case TypeMessage, TypeSafetyAlert:
		text, err := stringField(fields, fieldMessage)
		if err != nil {
			return nil, err
		}
		return Relayable{
			Kind:      Type(typ),
			VehicleID: vehicleID,
			Text:      text,
			fields:    fields,
		}, nil
	case "":
		return nil, fmt.Errorf("%w: type is missing", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// NewAlert builds a safety_alert originating from the server on behalf of a
// vehicle. extra values must be JSON-encodable.
func NewAlert(vehicleID, text string, extra map[string]any) (Relayable, error) {
	fields := make(map[string]json.RawMessage, len(extra)+3)
	for k, v := range extra {
		b, err := json.Marshal(v)
		if err != nil {
			return Relayable{}, fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = b
	}
	fields[fieldType], _ = json.Marshal(TypeSafetyAlert)
	fields[fieldVehicleID], _ = json.Marshal(vehicleID)
	fields[fieldMessage], _ = json.Marshal(text)

	return Relayable{
		Kind:      TypeSafetyAlert,
		VehicleID: vehicleID,
		Text:      text,
		fields:    fields,
	}, nil
}

// Stamp produces the relayed form of r with server-assigned sender and timestamp.
func (r Relayable) Stamp(sender string, at time.Time) Message {
	fields := make(map[string]json.RawMessage, len(r.fields)+2)
	for k, v := range r.fields {
		fields[k] = v
	}
	ts := FormatTimestamp(at)
	fields[fieldSender], _ = json.Marshal(sender)
	fields[fieldTimestamp], _ = json.Marshal(ts)
	fields[fieldType], _ = json.Marshal(r.Kind)

	return Message{
		Type:      r.Kind,
		Sender:    sender,
		Timestamp: ts,
		Text:      r.Text,
		fields:    fields,
	}
}

// Message is a stamped message as delivered to recipients and kept in history.
type Message struct {
	Type      Type
	Sender    string
	Timestamp string
	Text      string
	fields    map[string]json.RawMessage
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.fields)
}

// Field returns the raw JSON value of a relayed field.
func (m Message) Field(name string) (json.RawMessage, bool) {
	v, ok := m.fields[name]
	return v, ok
}

// MentionsDistance reports whether the message carries distance information,
// either as a field or in its text.
func (m Message) MentionsDistance() bool {
	if _, ok := m.fields[fieldDistance]; ok {
		return true
	}
	return strings.Contains(strings.ToLower(m.Text), fieldDistance)
}

type SystemMessage struct {
	Type         Type   `json:"type"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
	VehicleCount *int   `json:"vehicle_count,omitempty"`
	Error        string `json:"error,omitempty"`
}

func Welcome(vehicleID string, count int, at time.Time) SystemMessage {
	return SystemMessage{
		Type:         TypeSystem,
		Message:      fmt.Sprintf("Vehicle %s connected to V2V network with distance-aware hazard detection", vehicleID),
		Timestamp:    FormatTimestamp(at),
		VehicleCount: &count,
	}
}

func Notice(text string, at time.Time) SystemMessage {
	return SystemMessage{
		Type:      TypeSystem,
		Message:   text,
		Timestamp: FormatTimestamp(at),
	}
}

// Rejection tells a client its last message was dropped.
func Rejection(err error, at time.Time) SystemMessage {
	return SystemMessage{
		Type:      TypeSystem,
		Message:   "message rejected",
		Timestamp: FormatTimestamp(at),
		Error:     err.Error(),
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformed, name)
	}
	return s, nil
}
