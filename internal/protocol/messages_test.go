package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid auth record
// ---------------------------------------------------------------------------

func TestParseClientMessage_Auth(t *testing.T) {
	input := []byte(`{"type":"auth","userId":"u1","userName":"Alice","userAvatar":"https://cdn/a.png"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAuth {
		t.Fatalf("expected type %q, got %q", TypeAuth, msgType)
	}

	am, ok := msg.(AuthMsg)
	if !ok {
		t.Fatalf("expected AuthMsg, got %T", msg)
	}
	if am.UserID != "u1" {
		t.Errorf("expected userId %q, got %q", "u1", am.UserID)
	}
	if am.UserName != "Alice" {
		t.Errorf("expected userName %q, got %q", "Alice", am.UserName)
	}
	if am.UserAvatar != "https://cdn/a.png" {
		t.Errorf("expected userAvatar %q, got %q", "https://cdn/a.png", am.UserAvatar)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid direct message record
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","senderId":"u1","recipientId":"u2","text":"Hello!","timestamp":"2026-08-29T10:00:00Z"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.SenderID != "u1" || cm.RecipientID != "u2" {
		t.Errorf("unexpected sender/recipient: %q -> %q", cm.SenderID, cm.RecipientID)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
	if cm.Timestamp != "2026-08-29T10:00:00Z" {
		t.Errorf("timestamp not passed through: %q", cm.Timestamp)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing typing and status records
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","senderId":"u1","recipientId":"u2","isTyping":true}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
	}

	tm, ok := msg.(TypingMsg)
	if !ok {
		t.Fatalf("expected TypingMsg, got %T", msg)
	}
	if !tm.IsTyping {
		t.Error("expected isTyping true")
	}
}

func TestParseClientMessage_Status(t *testing.T) {
	input := []byte(`{"type":"status","userId":"u1","status":"away"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeStatus {
		t.Fatalf("expected type %q, got %q", TypeStatus, msgType)
	}

	sm, ok := msg.(StatusMsg)
	if !ok {
		t.Fatalf("expected StatusMsg, got %T", msg)
	}
	if sm.Status != StatusAway {
		t.Errorf("expected status %q, got %q", StatusAway, sm.Status)
	}
}

// ---------------------------------------------------------------------------
// Test: Structural mismatches are decode errors
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"auth without userId", `{"type":"auth","userName":"Alice"}`},
		{"message without recipientId", `{"type":"message","senderId":"u1","text":"hi"}`},
		{"typing without senderId", `{"type":"typing","recipientId":"u2","isTyping":true}`},
		{"status without status", `{"type":"status","userId":"u1"}`},
		{"wrong field type", `{"type":"typing","senderId":"u1","recipientId":"u2","isTyping":"yes"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseClientMessage([]byte(tc.input))
			if err == nil {
				t.Fatal("expected decode error, got nil")
			}
			var unknown *UnknownTypeError
			if errors.As(err, &unknown) {
				t.Fatalf("expected structural error, got unknown-type error: %v", err)
			}
		})
	}
}

func TestParseClientMessage_NotJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte("this is not json"))
	if err == nil {
		t.Fatal("expected error for non-JSON input")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"userId":"u1"}`))
	if err == nil {
		t.Fatal("expected error for record without type")
	}
	if !strings.Contains(err.Error(), "type") {
		t.Errorf("error should mention the type field: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown record types are distinguishable from decode errors
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"teleport","data":"x"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}

	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownTypeError, got %T: %v", err, err)
	}
	if unknown.Type != "teleport" {
		t.Errorf("expected type %q, got %q", "teleport", unknown.Type)
	}
}

// ---------------------------------------------------------------------------
// Test: Server record construction preserves exact wire field names
// ---------------------------------------------------------------------------

func TestNewServerMessage_AuthAck(t *testing.T) {
	data, err := NewServerMessage(TypeStatus, AuthAckMsg{
		Status: StatusAuthenticated,
		UserID: "u1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeStatus {
		t.Errorf("expected type %q, got %v", TypeStatus, result["type"])
	}
	if result["status"] != StatusAuthenticated {
		t.Errorf("expected status %q, got %v", StatusAuthenticated, result["status"])
	}
	if result["userId"] != "u1" {
		t.Errorf("expected userId %q, got %v", "u1", result["userId"])
	}
}

func TestNewServerMessage_DeliveredEchoFields(t *testing.T) {
	data, err := NewServerMessage(TypeMessage, DeliveredMsg{
		SenderID:       "u1",
		RecipientID:    "u2",
		Text:           "hi",
		Timestamp:      "2026-08-29T10:00:00Z",
		DeliveryStatus: DeliveryDelivered,
		DeliveredAt:    "2026-08-29T10:00:01Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	for _, key := range []string{"type", "senderId", "recipientId", "text", "timestamp", "deliveryStatus", "deliveredAt"} {
		if _, ok := result[key]; !ok {
			t.Errorf("missing wire field %q", key)
		}
	}
	if result["deliveryStatus"] != DeliveryDelivered {
		t.Errorf("expected deliveryStatus %q, got %v", DeliveryDelivered, result["deliveryStatus"])
	}
}

func TestNewServerMessage_ForwardOmitsDeliveredAt(t *testing.T) {
	data, err := NewServerMessage(TypeMessage, DeliveredMsg{
		SenderID:       "u1",
		RecipientID:    "u2",
		Text:           "hi",
		Timestamp:      "2026-08-29T10:00:00Z",
		DeliveryStatus: DeliveryDelivered,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if _, ok := result["deliveredAt"]; ok {
		t.Error("deliveredAt must be omitted from the recipient's copy")
	}
}

func TestNewServerMessage_ErrorRecord(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Message: ErrInvalidFormat})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeError {
		t.Errorf("expected type %q, got %v", TypeError, result["type"])
	}
	if result["message"] != "Invalid message format" {
		t.Errorf("error text is part of the wire contract, got %v", result["message"])
	}
}

func TestNewServerMessage_PresenceFieldVariants(t *testing.T) {
	// Handshake/disconnect announcements carry "timestamp"; explicit status
	// updates carry "lastSeen". Never both.
	announce, err := NewServerMessage(TypeStatus, PresenceMsg{
		UserID:    "u1",
		Status:    StatusOnline,
		Timestamp: "2026-08-29T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(announce, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := m["timestamp"]; !ok {
		t.Error("announcement should carry timestamp")
	}
	if _, ok := m["lastSeen"]; ok {
		t.Error("announcement should not carry lastSeen")
	}

	update, err := NewServerMessage(TypeStatus, PresenceMsg{
		UserID:   "u1",
		Status:   StatusAway,
		LastSeen: "2026-08-29T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m = nil
	if err := json.Unmarshal(update, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := m["lastSeen"]; !ok {
		t.Error("status update should carry lastSeen")
	}
	if _, ok := m["timestamp"]; ok {
		t.Error("status update should not carry timestamp")
	}
}
