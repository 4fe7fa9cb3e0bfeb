package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/parley/relay/internal/chat"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","room":"tech","body":"Hello!","attachment":{"name":"a.png","mime_type":"image/png","payload":"data:image/png;base64,AAAA"}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.Room != "tech" {
		t.Errorf("expected room %q, got %q", "tech", sm.Room)
	}
	if sm.Body != "Hello!" {
		t.Errorf("expected body %q, got %q", "Hello!", sm.Body)
	}
	if sm.Attachment == nil || sm.Attachment.Name != "a.png" || sm.Attachment.MimeType != "image/png" {
		t.Errorf("unexpected attachment: %+v", sm.Attachment)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing request_history with an optional cursor
// ---------------------------------------------------------------------------

func TestParseClientMessage_RequestHistory(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"request_history","room":"general","before":"17-abc-3","limit":5}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rh, ok := msg.(RequestHistoryMsg)
	if !ok {
		t.Fatalf("expected RequestHistoryMsg, got %T", msg)
	}
	if rh.Room != "general" || rh.Before != "17-abc-3" || rh.Limit != 5 {
		t.Errorf("unexpected decode: %+v", rh)
	}

	_, msg, err = ParseClientMessage([]byte(`{"type":"request_history","room":"general"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rh := msg.(RequestHistoryMsg); rh.Before != "" || rh.Limit != 0 {
		t.Errorf("expected zero cursor and limit, got %+v", rh)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a history server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_History(t *testing.T) {
	payload := HistoryMsg{
		Room: "general",
		Messages: []*chat.Message{
			{ID: "1-a-1", Sender: "alice", SenderID: "a", Room: "general", Body: "hi", Ts: 1728912345678},
		},
		HasMore: true,
	}

	data, err := NewServerMessage(TypeHistory, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"type":"history",`) {
		t.Errorf("expected type to lead the frame, got %s", data)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeHistory {
		t.Errorf("expected type %q, got %v", TypeHistory, result["type"])
	}
	if result["has_more"] != true {
		t.Errorf("expected has_more true, got %v", result["has_more"])
	}

	msgs, ok := result["messages"].([]interface{})
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %v", result["messages"])
	}
	first := msgs[0].(map[string]interface{})
	if first["sender_id"] != "a" || first["body"] != "hi" {
		t.Errorf("unexpected message payload: %v", first)
	}
	if !strings.Contains(string(data), `"ts":1728912345678`) {
		t.Errorf("timestamp not encoded as an integer: %s", data)
	}
}

func TestNewServerMessage_EmptyPayload(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("expected bare pong frame, got %s", data)
	}
}

func TestNewServerMessage_RejectsNonObject(t *testing.T) {
	if _, err := NewServerMessage(TypeError, []string{"x"}); err == nil {
		t.Fatal("expected error for array payload, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"room_message","body":"x"}`)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType for a server-only type, got %v", err)
	}
}

func TestParseClientMessage_BadPayload(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"typing","is_typing":"yes"}`))
	if err == nil {
		t.Fatal("expected decode error, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"join", `{"type":"join","username":"alice"}`, TypeJoin},
		{"switch_room", `{"type":"switch_room","room":"tech"}`, TypeSwitchRoom},
		{"send_message", `{"type":"send_message","body":"hi"}`, TypeSendMessage},
		{"private_message", `{"type":"private_message","to":"c2","body":"hi"}`, TypePrivateMessage},
		{"typing", `{"type":"typing","is_typing":true}`, TypeTyping},
		{"mark_read", `{"type":"mark_read","message_id":"m1","room":"general"}`, TypeMarkRead},
		{"add_reaction", `{"type":"add_reaction","message_id":"m1","emoji":"👍","room":"general"}`, TypeAddReaction},
		{"request_history", `{"type":"request_history","room":"general"}`, TypeRequestHistory},
		{"request_private_history", `{"type":"request_private_history","with":"c2"}`, TypeRequestPrivateHistory},
		{"report_message", `{"type":"report_message","message_id":"m1","room":"general","reason":"spam"}`, TypeReportMessage},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Fatal("expected non-nil message")
			}
			if msg.MessageType() != tc.wantType {
				t.Errorf("MessageType() = %q, want %q", msg.MessageType(), tc.wantType)
			}
		})
	}
}
