// Package protocol defines the messages exchanged with clients. Every frame
// is a JSON envelope whose type tag selects the payload schema.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is the JSON frame for every message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound message types.
const (
	TypeJoin           = "join"
	TypeStartMatching  = "startMatching"
	TypeCancelMatching = "cancelMatching"
	TypeCreateRoom     = "createRoom"
	TypeJoinRoom       = "joinRoom"
	TypePlayCard       = "playCard"
	TypeHeartbeat      = "heartbeat"
)

// Inbound is a decoded client request.
type Inbound interface {
	InboundType() string
}

// Join claims an identity. Exactly one of Token, Username or Name is
// expected; Register creates a new account for Username.
type Join struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Register bool   `json:"register,omitempty"`
	Token    string `json:"token,omitempty"`
}

type StartMatching struct {
	Difficulty string `json:"difficulty,omitempty"`
}

type CancelMatching struct {
	Difficulty string `json:"difficulty,omitempty"`
}

type CreateRoom struct {
	Difficulty string `json:"difficulty,omitempty"`
}

type JoinRoom struct {
	Code string `json:"code"`
}

type PlayCard struct {
	SessionID string `json:"sessionId"`
	CardIndex int    `json:"cardIndex"`
}

type Heartbeat struct {
	SessionID string `json:"sessionId"`
}

func (Join) InboundType() string           { return TypeJoin }
func (StartMatching) InboundType() string  { return TypeStartMatching }
func (CancelMatching) InboundType() string { return TypeCancelMatching }
func (CreateRoom) InboundType() string     { return TypeCreateRoom }
func (JoinRoom) InboundType() string       { return TypeJoinRoom }
func (PlayCard) InboundType() string       { return TypePlayCard }
func (Heartbeat) InboundType() string      { return TypeHeartbeat }

// DecodeInbound parses a client frame into its typed request.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var msg Inbound
	switch env.Type {
	case TypeJoin:
		msg = &Join{}
	case TypeStartMatching:
		msg = &StartMatching{}
	case TypeCancelMatching:
		msg = &CancelMatching{}
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypePlayCard:
		msg = &PlayCard{}
	case TypeHeartbeat:
		msg = &Heartbeat{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
		}
	}
	return msg, nil
}

// EncodeInbound frames a request the way a client would send it.
func EncodeInbound(msg Inbound) ([]byte, error) {
	return encode(msg.InboundType(), msg)
}

func encode(typ string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Payload: p})
}
