// Package protocol defines the wire messages exchanged between wristband
// clients and the relay server. Every message is a JSON object carrying a
// "type" discriminator; inbound payloads are decoded as a closed set of
// record types and anything outside that set is a decode error.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server record types. TypeStatus and TypeTyping appear in the
// server -> client direction as well, with a different payload shape.
const (
	TypeAuth    = "auth"
	TypeMessage = "message"
	TypeTyping  = "typing"
	TypeStatus  = "status"
)

// Server -> Client only record types.
const (
	TypeError = "error"
)

// Presence status values carried in status records. StatusRead is a
// transient marker, not a state a user stays in.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
	StatusRead    = "read"
)

// StatusAuthenticated is the status value of the handshake acknowledgement.
const StatusAuthenticated = "authenticated"

// DeliveryDelivered is the only delivery status the relay ever stamps on an
// outbound message copy. It means the routing attempt happened in-process,
// not that the recipient read anything.
const DeliveryDelivered = "delivered"

// ErrInvalidFormat is the exact error text sent to a client whose payload
// failed to decode. Clients match on this string, so it is part of the wire
// contract.
const ErrInvalidFormat = "Invalid message format"

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the record type and the raw JSON payload for deferred
// decoding into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server record structs
// ---------------------------------------------------------------------------

// AuthMsg binds a claimed identity to the sending connection. No credential
// is carried or checked; the identity is trusted as-is.
type AuthMsg struct {
	Type       string `json:"type"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar"`
}

// ChatMsg is a direct message from one user to another. Timestamp is the
// sender's clock, passed through opaquely.
type ChatMsg struct {
	Type        string `json:"type"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp"`
}

// TypingMsg signals that the sender started or stopped typing to the
// recipient. Purely transient: never stored, never acknowledged.
type TypingMsg struct {
	Type        string `json:"type"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

// StatusMsg is an explicit presence change from a client.
type StatusMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ---------------------------------------------------------------------------
// Server -> Client record structs
// ---------------------------------------------------------------------------

// AuthAckMsg confirms a completed handshake on the authenticating
// connection.
type AuthAckMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"` // always StatusAuthenticated
	UserID string `json:"userId"`
}

// PresenceMsg announces a user's status to all connected clients. Handshake
// and disconnect announcements carry Timestamp; explicit status updates
// carry LastSeen. Both are RFC 3339.
type PresenceMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	LastSeen  string `json:"lastSeen,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// DeliveredMsg is an outbound copy of a ChatMsg stamped with a delivery
// status. The sender's echo additionally carries DeliveredAt; the copy
// forwarded to the recipient does not.
type DeliveredMsg struct {
	Type           string `json:"type"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId"`
	Text           string `json:"text"`
	Timestamp      string `json:"timestamp"`
	DeliveryStatus string `json:"deliveryStatus"`
	DeliveredAt    string `json:"deliveredAt,omitempty"`
}

// ServerTypingMsg relays a typing indicator to its recipient.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorMsg tells a client its payload could not be decoded.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// UnknownTypeError marks a record whose declared type matches none of the
// four client record types. The dispatcher logs these without answering,
// unlike structural decode errors which earn the client an error record.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown client message type: %q", e.Type)
}

// ParseClientMessage decodes raw WebSocket bytes into a typed client record.
// It returns the record type string, the decoded struct, and any error
// encountered. Missing required fields are structural decode errors; a type
// outside the closed set yields an *UnknownTypeError.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var m AuthMsg
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = m.validate()
		}
		msg = m
	case TypeMessage:
		var m ChatMsg
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = m.validate()
		}
		msg = m
	case TypeTyping:
		var m TypingMsg
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = m.validate()
		}
		msg = m
	case TypeStatus:
		var m StatusMsg
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = m.validate()
		}
		msg = m
	default:
		return env.Type, nil, &UnknownTypeError{Type: env.Type}
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

func (m AuthMsg) validate() error {
	if m.UserID == "" {
		return fmt.Errorf("auth record missing userId")
	}
	return nil
}

func (m ChatMsg) validate() error {
	if m.SenderID == "" || m.RecipientID == "" {
		return fmt.Errorf("message record missing senderId or recipientId")
	}
	return nil
}

func (m TypingMsg) validate() error {
	if m.SenderID == "" || m.RecipientID == "" {
		return fmt.Errorf("typing record missing senderId or recipientId")
	}
	return nil
}

func (m StatusMsg) validate() error {
	if m.UserID == "" || m.Status == "" {
		return fmt.Errorf("status record missing userId or status")
	}
	return nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server record.
// The msgType is injected into the payload under the "type" key so a caller
// cannot ship a record whose declared type disagrees with its struct.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
